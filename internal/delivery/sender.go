package delivery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/outbound"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoSender is returned when a message has no From address to use as the
// envelope sender.
var ErrNoSender = errors.New("message has no sender address")

// Sender spools stored messages for delivery and files them in Sent.
type Sender struct {
	store   Store
	spooler outbound.Spooler
	logger  *slog.Logger
}

// NewSender creates a new Sender.
func NewSender(store Store, spooler outbound.Spooler, logger *slog.Logger) *Sender {
	return &Sender{store: store, spooler: spooler, logger: logger}
}

// Send spools e with an envelope built from its address fields, then moves
// it to the Sent mailbox and clears $draft. Only a spool failure is
// returned; the message is on its way once spooled.
func (s *Sender) Send(ctx context.Context, e *email.EmailItem) error {
	ctx, span := tracing.Tracer("jmap-delivery").Start(ctx, "delivery.Send",
		trace.WithAttributes(
			tracing.AccountID(e.AccountID),
			attribute.String("email_id", e.EmailID),
		))
	defer span.End()

	msg, err := Envelope(e)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	span.SetAttributes(attribute.Int("recipients", len(msg.RcptTo)))

	if err := s.spooler.Spool(ctx, msg); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	sent := mailbox.SystemMailboxID(mailbox.RoleSent)
	if err := s.store.SetMailboxes(ctx, e, map[string]bool{sent: true}); err != nil {
		s.logger.ErrorContext(ctx, "Failed to move sent message to Sent",
			slog.String("account_id", e.AccountID),
			slog.String("email_id", e.EmailID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if !e.HasKeyword(email.KeywordDraft) {
		return nil
	}
	if _, err := s.store.UpdateKeywords(ctx, e.AccountID, e.EmailID, map[string]bool{email.KeywordDraft: true}, email.KeywordsRemove); err != nil {
		s.logger.ErrorContext(ctx, "Failed to clear draft keyword",
			slog.String("account_id", e.AccountID),
			slog.String("email_id", e.EmailID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Envelope derives the SMTP envelope of e: MAIL FROM is the first From
// address and RCPT TO is every To, Cc and Bcc address.
func Envelope(e *email.EmailItem) (outbound.Message, error) {
	if len(e.From) == 0 || e.From[0].Email == "" {
		return outbound.Message{}, ErrNoSender
	}
	rcpt := e.Recipients()
	if len(rcpt) == 0 {
		return outbound.Message{}, outbound.ErrNoRecipients
	}
	return outbound.Message{
		AccountID: e.AccountID,
		EmailID:   e.EmailID,
		BlobID:    e.BlobID,
		MailFrom:  e.From[0].Email,
		RcptTo:    rcpt,
	}, nil
}
