// Package searchindex notifies the search indexer of new and destroyed
// messages.
package searchindex

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-mail/internal/queue"
)

// Action represents the type of search index operation.
type Action string

const (
	// ActionIndex indicates an email should be indexed.
	ActionIndex Action = "index"
	// ActionDelete indicates an email should be removed from the index.
	ActionDelete Action = "delete"
)

// Message is the SQS message body for search index requests.
type Message struct {
	AccountID string `json:"accountId"`
	EmailID   string `json:"emailId"`
	Action    Action `json:"action"`
}

// Publisher publishes search index requests to an async queue.
type Publisher interface {
	PublishIndexRequest(ctx context.Context, accountID, emailID string, action Action) error
}

// SQSPublisher publishes search index requests to an SQS queue.
type SQSPublisher struct {
	pub *queue.Publisher[Message]
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client queue.SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{pub: queue.NewPublisher[Message](client, queueURL)}
}

// PublishIndexRequest queues an index operation for emailID.
func (p *SQSPublisher) PublishIndexRequest(ctx context.Context, accountID, emailID string, action Action) error {
	return p.pub.Publish(ctx, Message{AccountID: accountID, EmailID: emailID, Action: action})
}
