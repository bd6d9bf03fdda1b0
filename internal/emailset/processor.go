// Package emailset applies Email/set batches: message creation for sending
// and draft saving, membership and keyword updates that may trigger a send,
// and destruction.
package emailset

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jarrod-lowe/jmap-service-libs/jmaperror"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-mail/internal/blob"
	"github.com/jarrod-lowe/jmap-service-mail/internal/blobdelete"
	"github.com/jarrod-lowe/jmap-service-mail/internal/delivery"
	"github.com/jarrod-lowe/jmap-service-mail/internal/dispatch"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/identity"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/searchindex"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Defaults applied when Options leaves a limit unset.
const (
	DefaultMaxMessageSize   = 10 * 1024 * 1024
	DefaultEntryConcurrency = 4
)

// EmailStore is the message storage used by the processor.
type EmailStore interface {
	GetEmail(ctx context.Context, accountID, emailID string) (*email.EmailItem, error)
	SetMailboxes(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error
	UpdateKeywords(ctx context.Context, accountID, emailID string, keywords map[string]bool, mode email.KeywordMode) (*email.EmailItem, error)
	DeleteEmails(ctx context.Context, accountID string, emailIDs []string) ([]*email.EmailItem, []string, error)
}

// MailboxLookup reads the mailboxes a message targets.
type MailboxLookup interface {
	GetMailbox(ctx context.Context, accountID, mailboxID string) (*mailbox.MailboxItem, error)
}

// StateStore tracks the Email state of an account.
type StateStore interface {
	GetCurrentState(ctx context.Context, accountID string, objectType state.ObjectType) (int64, error)
	IncrementStateAndLogChange(ctx context.Context, accountID string, objectType state.ObjectType, objectID string, changeType state.ChangeType) (int64, error)
}

// IdentityLister lists the addresses an account may send from.
type IdentityLister interface {
	ListIdentities(ctx context.Context, accountID string) ([]identity.Item, error)
}

// AttachmentChecker reports attachment references that do not resolve.
type AttachmentChecker interface {
	Missing(ctx context.Context, accountID string, blobIDs []string) ([]string, error)
}

// BlobLoader resolves a blob reference and reads its content.
type BlobLoader interface {
	Load(ctx context.Context, accountID, blobID string) (*blob.Resolved, []byte, error)
}

// ContentFetcher reads stored MIME content.
type ContentFetcher interface {
	FetchBlob(ctx context.Context, accountID, blobID string) ([]byte, error)
}

// Appender stores new messages.
type Appender interface {
	Append(ctx context.Context, req delivery.AppendRequest) (*email.EmailItem, error)
}

// Sender hands stored messages to the outbound spool.
type Sender interface {
	Send(ctx context.Context, e *email.EmailItem) error
}

// ReferenceUpdater flags the messages a sent message answers or forwards.
type ReferenceUpdater interface {
	Update(ctx context.Context, accountID string, parsed *email.ParsedEmail)
}

// Deps are the collaborators of a Processor. BlobDeleter and Indexer may be
// nil.
type Deps struct {
	Emails      EmailStore
	Mailboxes   MailboxLookup
	States      StateStore
	Identities  IdentityLister
	Attachments AttachmentChecker
	Blobs       BlobLoader
	Content     ContentFetcher
	Appender    Appender
	Sender      Sender
	References  ReferenceUpdater
	BlobDeleter blobdelete.BlobDeletePublisher
	Indexer     searchindex.Publisher
}

// Options are the limits of a Processor.
type Options struct {
	MaxMessageSize int64
	// Concurrency bounds the create entries processed at once.
	Concurrency int
	// Hostname is used for generated Message-IDs.
	Hostname string
}

// Processor applies Email/set requests.
type Processor struct {
	Deps
	opts   Options
	logger *slog.Logger
}

// NewProcessor creates a new Processor.
func NewProcessor(deps Deps, opts Options, logger *slog.Logger) *Processor {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultEntryConcurrency
	}
	return &Processor{Deps: deps, opts: opts, logger: logger}
}

// Process applies creates, then updates, then destroys. Entry failures are
// reported in the response; only state errors fail the whole call.
func (p *Processor) Process(ctx context.Context, req *dispatch.SetRequest) (*dispatch.SetResponse, *jmaperror.MethodError) {
	ctx, span := tracing.Tracer("jmap-email-set").Start(ctx, "EmailSet",
		trace.WithAttributes(
			tracing.AccountID(req.AccountID),
			attribute.Int("create", len(req.Create)),
			attribute.Int("update", len(req.Update)),
			attribute.Int("destroy", len(req.Destroy)),
		))
	defer span.End()

	oldState, err := p.States.GetCurrentState(ctx, req.AccountID, state.ObjectTypeEmail)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to get current state",
			slog.String("account_id", req.AccountID),
			slog.String("error", err.Error()),
		)
		tracing.RecordError(span, err)
		return nil, jmaperror.ServerFail(err.Error(), err)
	}
	if merr := req.CheckState(oldState); merr != nil {
		return nil, merr
	}

	resp := dispatch.NewSetResponse(oldState)
	resp.RejectMalformed(req)

	b := &batch{req: req, resp: resp}
	p.createAll(ctx, b)
	p.updateAll(ctx, b)
	p.destroyAll(ctx, b)

	p.logger.InfoContext(ctx, "Email/set completed",
		slog.String("account_id", req.AccountID),
		slog.Int("created_count", len(resp.Created)),
		slog.Int("updated_count", len(resp.Updated)),
		slog.Int("destroyed_count", len(resp.Destroyed)),
	)
	return resp, nil
}

// batch carries the per-request state. Create entries run concurrently, so
// the response is only touched under mu.
type batch struct {
	req  *dispatch.SetRequest
	resp *dispatch.SetResponse
	mu   sync.Mutex
}

func (p *Processor) track(ctx context.Context, b *batch, emailID string, change state.ChangeType) {
	s, err := p.States.IncrementStateAndLogChange(ctx, b.req.AccountID, state.ObjectTypeEmail, emailID, change)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to track email state change",
			slog.String("account_id", b.req.AccountID),
			slog.String("email_id", emailID),
			slog.String("error", err.Error()),
		)
		return
	}
	b.mu.Lock()
	b.resp.Advance(s)
	b.mu.Unlock()
}

func (p *Processor) unexpected(ctx context.Context, msg, description, accountID, emailID string, err error) *seterror.SetError {
	p.logger.ErrorContext(ctx, msg,
		slog.String("account_id", accountID),
		slog.String("email_id", emailID),
		slog.String("error", err.Error()),
	)
	return seterror.Unexpected(description)
}
