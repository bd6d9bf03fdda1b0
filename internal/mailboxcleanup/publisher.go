// Package mailboxcleanup removes destroyed mailboxes from their messages
// asynchronously.
package mailboxcleanup

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-mail/internal/queue"
)

// MailboxCleanupPublisher publishes mailbox cleanup requests to an async queue.
type MailboxCleanupPublisher interface {
	PublishMailboxCleanup(ctx context.Context, accountID, mailboxID string) error
}

// MailboxCleanupMessage is the SQS message body for mailbox cleanup requests.
type MailboxCleanupMessage struct {
	AccountID string `json:"accountId"`
	MailboxID string `json:"mailboxId"`
}

// SQSPublisher publishes mailbox cleanup requests to an SQS queue.
type SQSPublisher struct {
	pub *queue.Publisher[MailboxCleanupMessage]
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client queue.SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{pub: queue.NewPublisher[MailboxCleanupMessage](client, queueURL)}
}

// PublishMailboxCleanup queues the removal of mailboxID from its messages.
func (p *SQSPublisher) PublishMailboxCleanup(ctx context.Context, accountID, mailboxID string) error {
	return p.pub.Publish(ctx, MailboxCleanupMessage{AccountID: accountID, MailboxID: mailboxID})
}
