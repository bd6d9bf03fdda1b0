package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jarrod-lowe/jmap-service-mail/internal/blob"
	"github.com/jarrod-lowe/jmap-service-mail/internal/outbound"
)

const rawMessage = "From: alice@example.com\r\nTo: bob@example.net\r\nSubject: hi\r\n\r\nhello\r\n"

// mockBlobFetcher implements BlobFetcher for testing.
type mockBlobFetcher struct {
	fetchBlobFunc func(ctx context.Context, accountID, blobID string) ([]byte, error)
}

func (m *mockBlobFetcher) FetchBlob(ctx context.Context, accountID, blobID string) ([]byte, error) {
	if m.fetchBlobFunc != nil {
		return m.fetchBlobFunc(ctx, accountID, blobID)
	}
	return []byte(rawMessage), nil
}

// mockSigner implements MessageSigner for testing.
type mockSigner struct {
	err error
}

func (m *mockSigner) Sign(raw []byte) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]byte("DKIM-Signature: v=1\r\n"), raw...), nil
}

// mockRelay implements Relayer for testing.
type mockRelay struct {
	sendFunc func(ctx context.Context, from string, to []string, raw []byte) error
	sent     []string
}

func (m *mockRelay) Send(ctx context.Context, from string, to []string, raw []byte) error {
	if m.sendFunc != nil {
		if err := m.sendFunc(ctx, from, to, raw); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, from+"->"+strings.Join(to, ","))
	return nil
}

func makeRecord(id string, msg outbound.Message) events.SQSMessage {
	body, _ := json.Marshal(msg)
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func testMessage() outbound.Message {
	return outbound.Message{
		AccountID: "user-123",
		EmailID:   "email-1",
		BlobID:    "blob-1",
		MailFrom:  "alice@example.com",
		RcptTo:    []string{"bob@example.net", "carol@example.org"},
	}
}

func TestHandler_SignsAndRelays(t *testing.T) {
	var relayed []byte
	relay := &mockRelay{
		sendFunc: func(ctx context.Context, from string, to []string, raw []byte) error {
			relayed = raw
			return nil
		},
	}
	h := newHandler(&mockBlobFetcher{
		fetchBlobFunc: func(ctx context.Context, accountID, blobID string) ([]byte, error) {
			if accountID != "user-123" || blobID != "blob-1" {
				t.Errorf("FetchBlob(%q, %q)", accountID, blobID)
			}
			return []byte(rawMessage), nil
		},
	}, &mockSigner{}, relay)

	resp, err := h.handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{makeRecord("msg-1", testMessage())},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("expected 0 failures, got %d", len(resp.BatchItemFailures))
	}
	if len(relay.sent) != 1 || relay.sent[0] != "alice@example.com->bob@example.net,carol@example.org" {
		t.Errorf("sent = %v", relay.sent)
	}
	if !strings.HasPrefix(string(relayed), "DKIM-Signature:") {
		t.Errorf("relayed message not signed:\n%s", relayed)
	}
}

func TestHandler_UnsignedWithoutSigner(t *testing.T) {
	var relayed []byte
	relay := &mockRelay{
		sendFunc: func(ctx context.Context, from string, to []string, raw []byte) error {
			relayed = raw
			return nil
		},
	}
	h := newHandler(&mockBlobFetcher{}, nil, relay)

	if _, err := h.handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{makeRecord("msg-1", testMessage())},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(relayed) != rawMessage {
		t.Errorf("relayed = %q", relayed)
	}
}

func TestHandler_Failures(t *testing.T) {
	noRcpt := testMessage()
	noRcpt.RcptTo = nil

	tests := []struct {
		name      string
		msg       outbound.Message
		blobs     *mockBlobFetcher
		signer    *mockSigner
		relayErr  error
		wantRetry bool
	}{
		{
			name:      "relay refused",
			msg:       testMessage(),
			blobs:     &mockBlobFetcher{},
			signer:    &mockSigner{},
			relayErr:  errors.New("421 try again later"),
			wantRetry: true,
		},
		{
			name: "blob server error",
			msg:  testMessage(),
			blobs: &mockBlobFetcher{fetchBlobFunc: func(ctx context.Context, accountID, blobID string) ([]byte, error) {
				return nil, blob.ErrServerFail
			}},
			signer:    &mockSigner{},
			wantRetry: true,
		},
		{
			name:      "signing error",
			msg:       testMessage(),
			blobs:     &mockBlobFetcher{},
			signer:    &mockSigner{err: errors.New("bad key")},
			wantRetry: true,
		},
		{
			name: "blob gone",
			msg:  testMessage(),
			blobs: &mockBlobFetcher{fetchBlobFunc: func(ctx context.Context, accountID, blobID string) ([]byte, error) {
				return nil, blob.ErrBlobNotFound
			}},
			signer: &mockSigner{},
		},
		{
			name:   "no recipients",
			msg:    noRcpt,
			blobs:  &mockBlobFetcher{},
			signer: &mockSigner{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := &mockRelay{sendFunc: func(ctx context.Context, from string, to []string, raw []byte) error {
				return tt.relayErr
			}}
			h := newHandler(tt.blobs, tt.signer, relay)
			resp, err := h.handle(context.Background(), events.SQSEvent{
				Records: []events.SQSMessage{makeRecord("msg-1", tt.msg)},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotRetry := len(resp.BatchItemFailures) == 1
			if gotRetry != tt.wantRetry {
				t.Errorf("retry = %v, want %v", gotRetry, tt.wantRetry)
			}
			if len(relay.sent) != 0 {
				t.Errorf("sent = %v", relay.sent)
			}
		})
	}
}

func TestHandler_MalformedJSON(t *testing.T) {
	h := newHandler(&mockBlobFetcher{}, nil, &mockRelay{})
	resp, err := h.handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{MessageId: "msg-bad", Body: "not valid json"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "msg-bad" {
		t.Errorf("BatchItemFailures = %v", resp.BatchItemFailures)
	}
}
