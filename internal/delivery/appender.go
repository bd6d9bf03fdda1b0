// Package delivery stores built messages in mailboxes and hands them to the
// outbound spool.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-mail/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-mail/internal/blob"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/searchindex"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Error types for delivery operations.
var (
	ErrNoMailbox      = errors.New("message needs at least one mailbox")
	ErrInvalidMessage = errors.New("invalid message")
	ErrUploadFailed   = errors.New("failed to store message content")
)

// Store is the email storage used by delivery.
type Store interface {
	CreateEmail(ctx context.Context, e *email.EmailItem, extra ...types.TransactWriteItem) error
	SetMailboxes(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error
	UpdateKeywords(ctx context.Context, accountID, emailID string, keywords map[string]bool, mode email.KeywordMode) (*email.EmailItem, error)
	FindByMessageID(ctx context.Context, accountID, messageID string) ([]email.MessageIDMatch, error)
}

// Uploader stores message content as a new blob.
type Uploader interface {
	Upload(ctx context.Context, accountID, contentType string, content []byte) (string, error)
}

// AppendRequest describes a message to store. MailboxIDs[0] is the primary
// mailbox.
type AppendRequest struct {
	AccountID   string
	MailboxIDs  []string
	Keywords    map[string]bool
	Raw         []byte
	Bcc         []email.EmailAddress
	Attachments []email.Attachment
}

// Appender stores new messages.
type Appender struct {
	store     Store
	uploader  Uploader
	indexer   searchindex.Publisher
	tableName string
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewAppender creates a new Appender. indexer may be nil.
func NewAppender(store Store, uploader Uploader, indexer searchindex.Publisher, tableName string, logger *slog.Logger) *Appender {
	return &Appender{
		store:     store,
		uploader:  uploader,
		indexer:   indexer,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Append uploads the MIME bytes and stores the message in the requested
// mailboxes. When the message was created but the secondary memberships
// failed, the stored item is returned together with the error.
func (a *Appender) Append(ctx context.Context, req AppendRequest) (*email.EmailItem, error) {
	ctx, span := tracing.Tracer("jmap-delivery").Start(ctx, "delivery.Append",
		trace.WithAttributes(
			tracing.AccountID(req.AccountID),
			attribute.Int("size", len(req.Raw)),
		))
	defer span.End()

	if len(req.MailboxIDs) == 0 {
		return nil, ErrNoMailbox
	}

	parsed, err := email.ParseRFC5322(req.Raw)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	blobID, err := a.uploader.Upload(ctx, req.AccountID, blob.MessageContentType, req.Raw)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	item := &email.EmailItem{
		AccountID:     req.AccountID,
		EmailID:       a.newID(),
		BlobID:        blobID,
		ThreadID:      a.threadID(ctx, req.AccountID, parsed),
		MailboxIDs:    map[string]bool{req.MailboxIDs[0]: true},
		Keywords:      copyKeywords(req.Keywords),
		ReceivedAt:    a.now().UTC(),
		Size:          int64(len(req.Raw)),
		HasAttachment: parsed.HasAttachment || len(req.Attachments) > 0,
		Subject:       parsed.Subject,
		From:          parsed.From,
		Sender:        parsed.Sender,
		To:            parsed.To,
		CC:            parsed.CC,
		Bcc:           req.Bcc,
		ReplyTo:       parsed.ReplyTo,
		SentAt:        parsed.SentAt,
		MessageID:     parsed.MessageID,
		InReplyTo:     parsed.InReplyTo,
		References:    parsed.References,
		Preview:       parsed.Preview,
		Attachments:   req.Attachments,
	}
	span.SetAttributes(attribute.String("email_id", item.EmailID))

	extra := make([]types.TransactWriteItem, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		extra = append(extra, attachment.BuildPutItem(a.tableName, req.AccountID, item.EmailID, att))
	}
	if err := a.store.CreateEmail(ctx, item, extra...); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	if len(req.MailboxIDs) > 1 {
		all := make(map[string]bool, len(req.MailboxIDs))
		for _, id := range req.MailboxIDs {
			all[id] = true
		}
		if err := a.store.SetMailboxes(ctx, item, all); err != nil {
			tracing.RecordError(span, err)
			return item, fmt.Errorf("failed to add secondary mailboxes: %w", err)
		}
	}

	if a.indexer != nil {
		if err := a.indexer.PublishIndexRequest(ctx, req.AccountID, item.EmailID, searchindex.ActionIndex); err != nil {
			a.logger.WarnContext(ctx, "Failed to publish search index request",
				slog.String("account_id", req.AccountID),
				slog.String("email_id", item.EmailID),
				slog.String("error", err.Error()),
			)
		}
	}

	return item, nil
}

// threadID returns the thread of the first referenced message found in the
// account, or a new id.
func (a *Appender) threadID(ctx context.Context, accountID string, parsed *email.ParsedEmail) string {
	refs := make([]string, 0, len(parsed.References)+len(parsed.InReplyTo))
	refs = append(refs, parsed.References...)
	refs = append(refs, parsed.InReplyTo...)

	for _, ref := range refs {
		matches, err := a.store.FindByMessageID(ctx, accountID, ref)
		if err != nil {
			a.logger.WarnContext(ctx, "Failed to look up referenced message",
				slog.String("account_id", accountID),
				slog.String("message_id", ref),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, m := range matches {
			if m.ThreadID != "" {
				return m.ThreadID
			}
		}
	}
	return a.newID()
}

func copyKeywords(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		if v {
			out[k] = true
		}
	}
	return out
}
