package emailset

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jarrod-lowe/jmap-service-mail/internal/compose"
	"github.com/jarrod-lowe/jmap-service-mail/internal/delivery"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/identity"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
)

// intent is what a create entry asks for.
type intent int

const (
	intentSend intent = iota + 1
	intentDraft
)

const createFailed = "An error occurred when creating a message"

// classify decides whether an entry is a send or a draft save. Any other
// combination of mailboxes and keywords is rejected.
func classify(c *creation) (intent, *seterror.SetError) {
	outbox := mailbox.SystemMailboxID(mailbox.RoleOutbox)
	drafts := mailbox.SystemMailboxID(mailbox.RoleDrafts)
	isDraft := c.keywords[email.KeywordDraft]

	switch {
	case len(c.mailboxIDs) == 1 && c.mailboxIDs[0] == outbox:
		if !isDraft {
			return 0, seterror.InvalidProperties("A message sent through the Outbox should be flagged as Draft", "keywords")
		}
		return intentSend, nil
	case isDraft && !c.targets(outbox):
		return intentDraft, nil
	case c.targets(drafts) && !isDraft:
		return 0, seterror.InvalidProperties("A draft message should be flagged as Draft", "keywords")
	case c.targets(outbox):
		return 0, seterror.InvalidProperties("Mailbox ids can combine Outbox with other mailbox", "mailboxIds")
	}
	return 0, seterror.InvalidProperties("The only implemented feature is sending via outbox and draft saving", "mailboxIds")
}

func (p *Processor) createAll(ctx context.Context, b *batch) {
	if len(b.req.Create) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for _, cid := range b.req.CreateIDs() {
		data := b.req.Create[cid]
		g.Go(func() error {
			item, serr := p.create(ctx, b, data)
			if item != nil {
				p.track(ctx, b, item.EmailID, state.ChangeTypeCreated)
			}

			b.mu.Lock()
			defer b.mu.Unlock()
			if serr != nil {
				b.resp.NotCreated[cid] = serr
				return nil
			}
			b.resp.Created[cid] = map[string]any{
				"id":       item.EmailID,
				"blobId":   item.BlobID,
				"threadId": item.ThreadID,
				"size":     item.Size,
			}
			return nil
		})
	}
	_ = g.Wait()
}

// create processes one entry. A non-nil item with an error means the message
// was stored but a later step failed.
func (p *Processor) create(ctx context.Context, b *batch, data map[string]any) (*email.EmailItem, *seterror.SetError) {
	accountID := b.req.AccountID

	c, serr := parseCreation(data)
	if serr != nil {
		return nil, serr
	}
	if serr := p.checkMailboxes(ctx, b, c.mailboxIDs); serr != nil {
		return nil, serr
	}
	kind, serr := classify(c)
	if serr != nil {
		return nil, serr
	}

	if kind == intentSend {
		if serr := p.checkFrom(ctx, accountID, c.draft.From); serr != nil {
			return nil, serr
		}
	}

	if len(c.attachments) > 0 {
		missing, err := p.Attachments.Missing(ctx, accountID, c.blobIDs())
		if err != nil {
			return nil, p.unexpected(ctx, "Failed to check attachments", createFailed, accountID, "", err)
		}
		if len(missing) > 0 {
			return nil, seterror.AttachmentsMissing(missing)
		}
	}

	raw, stored, serr := p.build(ctx, accountID, c)
	if serr != nil {
		return nil, serr
	}
	if int64(len(raw)) > p.opts.MaxMessageSize {
		return nil, seterror.OverQuota(int64(len(raw)), p.opts.MaxMessageSize)
	}

	item, err := p.Appender.Append(ctx, delivery.AppendRequest{
		AccountID:   accountID,
		MailboxIDs:  c.mailboxIDs,
		Keywords:    c.keywords,
		Raw:         raw,
		Bcc:         c.draft.Bcc,
		Attachments: stored,
	})
	if err != nil {
		if item == nil {
			return nil, p.unexpected(ctx, "Failed to append message", createFailed, accountID, "", err)
		}
		// The message exists in its primary mailbox.
		p.logger.ErrorContext(ctx, "Failed to add message to all mailboxes",
			slog.String("account_id", accountID),
			slog.String("email_id", item.EmailID),
			slog.String("error", err.Error()),
		)
	}

	if kind == intentSend {
		if serr := p.send(ctx, item, raw); serr != nil {
			return item, serr
		}
	}
	return item, nil
}

// checkMailboxes requires every target to exist in the acting account.
func (p *Processor) checkMailboxes(ctx context.Context, b *batch, ids []string) *seterror.SetError {
	for _, id := range ids {
		m, err := p.Mailboxes.GetMailbox(ctx, b.req.AccountID, id)
		if errors.Is(err, mailbox.ErrMailboxNotFound) {
			return seterror.InvalidProperties("MailboxId invalid", "mailboxIds")
		}
		if err != nil {
			return p.unexpected(ctx, "Failed to get mailbox", createFailed, b.req.AccountID, "", err)
		}
		if b.req.Caller != "" && m.AccountID != b.req.Caller {
			return seterror.InvalidProperties("MailboxId invalid", "mailboxIds")
		}
	}
	return nil
}

// checkFrom requires a single From address that is one of the account's
// identities.
func (p *Processor) checkFrom(ctx context.Context, accountID string, from []email.EmailAddress) *seterror.SetError {
	ids, err := p.Identities.ListIdentities(ctx, accountID)
	if err != nil {
		return p.unexpected(ctx, "Failed to list identities", createFailed, accountID, "", err)
	}
	if len(from) == 1 && identity.Allows(ids, from[0].Email) {
		return nil
	}
	allowed := ""
	if len(ids) > 0 {
		allowed = ids[0].Email
	}
	return seterror.PermissionDenied(allowed)
}

// build loads the attachment content and renders the message. The
// attachment metadata to store with the message is returned alongside.
func (p *Processor) build(ctx context.Context, accountID string, c *creation) ([]byte, []email.Attachment, *seterror.SetError) {
	draft := *c.draft
	draft.Hostname = p.opts.Hostname
	stored := make([]email.Attachment, 0, len(c.attachments))

	for _, ref := range c.attachments {
		res, content, err := p.Blobs.Load(ctx, accountID, ref.blobID)
		if err != nil {
			return nil, nil, p.unexpected(ctx, "Failed to load attachment", createFailed, accountID, "", err)
		}
		a := compose.Attachment{
			BlobID:   ref.blobID,
			Type:     ref.typ,
			Name:     ref.name,
			CID:      ref.cid,
			IsInline: ref.inline,
			Content:  content,
		}
		if a.Type == "" {
			a.Type = res.Type
		}
		if a.Name == "" {
			a.Name = res.Name
		}
		draft.Attachments = append(draft.Attachments, a)
		stored = append(stored, email.Attachment{
			BlobID:   a.BlobID,
			Type:     a.Type,
			Name:     a.Name,
			Size:     int64(len(content)),
			CID:      a.CID,
			IsInline: a.IsInline,
		})
	}

	raw, err := compose.Build(&draft)
	if err != nil {
		if errors.Is(err, compose.ErrNoHostname) {
			return nil, nil, seterror.InvalidProperties("A from address is required to generate a Message-ID", "from")
		}
		return nil, nil, p.unexpected(ctx, "Failed to build message", createFailed, accountID, "", err)
	}
	return raw, stored, nil
}

// send spools a stored message and flags the messages it answers or
// forwards. raw is the message content.
func (p *Processor) send(ctx context.Context, item *email.EmailItem, raw []byte) *seterror.SetError {
	if err := p.Sender.Send(ctx, item); err != nil {
		return p.unexpected(ctx, "Failed to send message", "The message was stored in the Outbox but could not be sent", item.AccountID, item.EmailID, err)
	}

	parsed, err := email.ParseRFC5322(raw)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to parse sent message for references",
			slog.String("account_id", item.AccountID),
			slog.String("email_id", item.EmailID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	p.References.Update(ctx, item.AccountID, parsed)
	return nil
}
