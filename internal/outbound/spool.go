// Package outbound hands built messages to the smart host: the mutation
// engine spools them to a queue, and the relay consumer signs and sends them.
package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/jarrod-lowe/jmap-service-mail/internal/queue"
)

// ErrNoRecipients is returned when a message has no envelope recipients.
var ErrNoRecipients = errors.New("no recipients")

// Message is a spooled outbound message. The MIME bytes stay in the blob
// store; only the envelope travels through the queue.
type Message struct {
	AccountID string   `json:"accountId"`
	EmailID   string   `json:"emailId"`
	BlobID    string   `json:"blobId"`
	MailFrom  string   `json:"mailFrom"`
	RcptTo    []string `json:"rcptTo"`
}

// Spooler accepts messages for delivery.
type Spooler interface {
	Spool(ctx context.Context, msg Message) error
}

// SQSSpooler spools messages to the outbound SQS queue.
type SQSSpooler struct {
	pub *queue.Publisher[Message]
}

// NewSQSSpooler creates a new SQSSpooler.
func NewSQSSpooler(client queue.SQSSender, queueURL string) *SQSSpooler {
	return &SQSSpooler{pub: queue.NewPublisher[Message](client, queueURL)}
}

// Spool publishes msg to the outbound queue.
func (s *SQSSpooler) Spool(ctx context.Context, msg Message) error {
	if len(msg.RcptTo) == 0 {
		return ErrNoRecipients
	}
	if err := s.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to spool message: %w", err)
	}
	return nil
}
