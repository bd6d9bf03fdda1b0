// Package mailboxset applies Mailbox/set batches: creation in hierarchy
// order, updates with rename, move and sharing, and destruction from the
// leaves up.
package mailboxset

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/jmaperror"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-mail/internal/dispatch"
	"github.com/jarrod-lowe/jmap-service-mail/internal/identity"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailboxcleanup"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxNameLength bounds the full path of a mailbox, in characters.
const DefaultMaxNameLength = 255

// Store is the mailbox storage used by the processor.
type Store interface {
	GetMailbox(ctx context.Context, accountID, mailboxID string) (*mailbox.MailboxItem, error)
	GetAllMailboxes(ctx context.Context, accountID string) ([]*mailbox.MailboxItem, error)
	GetChildren(ctx context.Context, accountID, parentID string) ([]*mailbox.MailboxItem, error)
	CreateMailbox(ctx context.Context, m *mailbox.MailboxItem) error
	RenameMailbox(ctx context.Context, m *mailbox.MailboxItem, newParentID, newName string) error
	UpdateMailbox(ctx context.Context, m *mailbox.MailboxItem) error
	SetSharing(ctx context.Context, accountID, mailboxID string, acl mailbox.ACL) error
	DeleteMailbox(ctx context.Context, m *mailbox.MailboxItem) error
}

// StateStore tracks the Mailbox state of an account.
type StateStore interface {
	GetCurrentState(ctx context.Context, accountID string, objectType state.ObjectType) (int64, error)
	IncrementStateAndLogChange(ctx context.Context, accountID string, objectType state.ObjectType, objectID string, changeType state.ChangeType) (int64, error)
}

// IdentityLister lists the sending identities of an account. Their domains
// are the domains a mailbox may be shared within.
type IdentityLister interface {
	ListIdentities(ctx context.Context, accountID string) ([]identity.Item, error)
}

// Processor applies Mailbox/set requests.
type Processor struct {
	store         Store
	states        StateStore
	identities    IdentityLister
	cleanup       mailboxcleanup.MailboxCleanupPublisher
	maxNameLength int
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// NewProcessor creates a new Processor. cleanup may be nil, in which case
// onDestroyRemoveEmails only lifts the non-empty check.
func NewProcessor(store Store, states StateStore, identities IdentityLister, cleanup mailboxcleanup.MailboxCleanupPublisher, maxNameLength int, logger *slog.Logger) *Processor {
	if maxNameLength <= 0 {
		maxNameLength = DefaultMaxNameLength
	}
	return &Processor{
		store:         store,
		states:        states,
		identities:    identities,
		cleanup:       cleanup,
		maxNameLength: maxNameLength,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

// Process applies creates, then updates, then destroys. Entry failures are
// reported in the response; only state errors fail the whole call.
func (p *Processor) Process(ctx context.Context, req *dispatch.SetRequest) (*dispatch.SetResponse, *jmaperror.MethodError) {
	ctx, span := tracing.Tracer("jmap-mailbox-set").Start(ctx, "MailboxSet",
		trace.WithAttributes(
			tracing.AccountID(req.AccountID),
			attribute.Int("create", len(req.Create)),
			attribute.Int("update", len(req.Update)),
			attribute.Int("destroy", len(req.Destroy)),
		))
	defer span.End()

	oldState, err := p.states.GetCurrentState(ctx, req.AccountID, state.ObjectTypeMailbox)
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

	var t *tree
	if len(req.Create) > 0 || len(req.Update) > 0 {
		items, err := p.store.GetAllMailboxes(ctx, req.AccountID)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to list mailboxes",
				slog.String("account_id", req.AccountID),
				slog.String("error", err.Error()),
			)
			tracing.RecordError(span, err)
			return nil, jmaperror.ServerFail(err.Error(), err)
		}
		t = newTree(items)
	}

	b := &batch{
		req:     req,
		resp:    resp,
		tree:    t,
		created: map[string]string{},
	}
	p.createAll(ctx, b)
	p.updateAll(ctx, b)
	p.destroyAll(ctx, b)

	p.logger.InfoContext(ctx, "Mailbox/set completed",
		slog.String("account_id", req.AccountID),
		slog.Int("created_count", len(resp.Created)),
		slog.Int("updated_count", len(resp.Updated)),
		slog.Int("destroyed_count", len(resp.Destroyed)),
	)
	return resp, nil
}

// batch carries the per-request state threaded through each entry step.
type batch struct {
	req  *dispatch.SetRequest
	resp *dispatch.SetResponse
	tree *tree
	// created maps creation ids to the ids minted for them.
	created map[string]string
}

func (p *Processor) track(ctx context.Context, b *batch, mailboxID string, change state.ChangeType) {
	s, err := p.states.IncrementStateAndLogChange(ctx, b.req.AccountID, state.ObjectTypeMailbox, mailboxID, change)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to track mailbox state change",
			slog.String("account_id", b.req.AccountID),
			slog.String("mailbox_id", mailboxID),
			slog.String("error", err.Error()),
		)
		return
	}
	b.resp.Advance(s)
}

func (p *Processor) unexpected(ctx context.Context, msg, accountID, mailboxID string, err error) *seterror.SetError {
	p.logger.ErrorContext(ctx, msg,
		slog.String("account_id", accountID),
		slog.String("mailbox_id", mailboxID),
		slog.String("error", err.Error()),
	)
	return seterror.Unexpected("An error occurred when processing the mailbox")
}

// resolveParent maps a parentId value to a stored mailbox id. "#k" and a
// bare k naming a creation id of this batch resolve through created.
func resolveParent(raw string, b *batch) string {
	if ref, ok := strings.CutPrefix(raw, "#"); ok {
		if id, ok := b.created[ref]; ok {
			return id
		}
		return ""
	}
	if id, ok := b.created[raw]; ok {
		return id
	}
	return raw
}

// validateName checks a name for use under a parent (empty for top level).
func validateName(name string, topLevel bool) *seterror.SetError {
	if name == "" {
		return seterror.InvalidProperties("The mailbox name must not be empty", "name")
	}
	if strings.Contains(name, mailbox.PathDelimiter) {
		return seterror.InvalidArguments("The mailbox '"+name+"' contains an illegal character: '"+mailbox.PathDelimiter+"'", "name")
	}
	if topLevel {
		if role, ok := mailbox.ReservedRole(name); ok {
			return seterror.InvalidArguments("The mailbox '"+name+"' already exists as '"+role.DisplayName()+"'", "name")
		}
	}
	return nil
}

func (p *Processor) checkLength(path mailbox.Path) *seterror.SetError {
	if path.Length() > p.maxNameLength {
		return seterror.InvalidArguments("The mailbox name length is too long", "name")
	}
	return nil
}

func unknownProperties(data map[string]any, allowed map[string]bool) []string {
	var out []string
	for k := range data {
		if !allowed[k] {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
