// Package blobdelete releases the blobs of destroyed messages through an
// asynchronous queue.
package blobdelete

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/queue"
)

// BlobDeletePublisher publishes blob deletion requests to an async queue.
type BlobDeletePublisher interface {
	PublishBlobDeletions(ctx context.Context, accountID string, blobIDs []string) error
}

// BlobDeleteMessage is the SQS message body for blob deletion requests.
type BlobDeleteMessage struct {
	AccountID string   `json:"accountId"`
	BlobIDs   []string `json:"blobIds"`
}

// SQSPublisher publishes blob deletion requests to an SQS queue.
type SQSPublisher struct {
	pub *queue.Publisher[BlobDeleteMessage]
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client queue.SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{pub: queue.NewPublisher[BlobDeleteMessage](client, queueURL)}
}

// PublishBlobDeletions queues blobIDs for deletion. Nothing is sent for an
// empty list.
func (p *SQSPublisher) PublishBlobDeletions(ctx context.Context, accountID string, blobIDs []string) error {
	if len(blobIDs) == 0 {
		return nil
	}
	return p.pub.Publish(ctx, BlobDeleteMessage{AccountID: accountID, BlobIDs: blobIDs})
}

// BlobIDs returns the message blob and every attachment blob of e.
func BlobIDs(e *email.EmailItem) []string {
	ids := []string{e.BlobID}
	for _, a := range e.Attachments {
		if a.BlobID != "" && a.BlobID != e.BlobID {
			ids = append(ids, a.BlobID)
		}
	}
	return ids
}
