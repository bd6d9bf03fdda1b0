package mailboxcleanup

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jarrod-lowe/jmap-service-mail/internal/queue"
)

type mockSQSSender struct {
	sendFunc func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

func (m *mockSQSSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return m.sendFunc(ctx, params, optFns...)
}

func TestSQSPublisher_PublishMailboxCleanup(t *testing.T) {
	var body string
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			body = *params.MessageBody
			return &sqs.SendMessageOutput{}, nil
		},
	}

	if err := NewSQSPublisher(mock, "q").PublishMailboxCleanup(context.Background(), "user-123", "mbox-1"); err != nil {
		t.Fatalf("PublishMailboxCleanup() error = %v", err)
	}
	msg, err := queue.Decode[MailboxCleanupMessage](body)
	if err != nil {
		t.Fatal(err)
	}
	if msg.AccountID != "user-123" || msg.MailboxID != "mbox-1" {
		t.Errorf("message = %+v", msg)
	}
}

func TestSQSPublisher_PublishMailboxCleanup_Error(t *testing.T) {
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			return nil, errors.New("boom")
		},
	}
	if err := NewSQSPublisher(mock, "q").PublishMailboxCleanup(context.Background(), "u", "m"); err == nil {
		t.Fatal("expected error, got nil")
	}
}
