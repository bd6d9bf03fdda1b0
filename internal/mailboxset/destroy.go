package mailboxset

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jarrod-lowe/jmap-service-mail/internal/hierarchy"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
)

func (p *Processor) destroyAll(ctx context.Context, b *batch) {
	if len(b.req.Destroy) == 0 {
		return
	}
	removeEmails := b.req.Bool("onDestroyRemoveEmails")

	targets := make(map[string]*mailbox.MailboxItem, len(b.req.Destroy))
	entries := make([]hierarchy.Entry[string], 0, len(b.req.Destroy))
	for _, id := range b.req.Destroy {
		if _, dup := targets[id]; dup {
			continue
		}
		m, err := p.store.GetMailbox(ctx, b.req.AccountID, id)
		if err != nil {
			if errors.Is(err, mailbox.ErrMailboxNotFound) {
				b.resp.NotDestroyed[id] = seterror.NotFound("The mailbox '" + id + "' was not found.")
			} else {
				b.resp.NotDestroyed[id] = p.unexpected(ctx, "Failed to get mailbox", b.req.AccountID, id, err)
			}
			targets[id] = nil
			continue
		}
		targets[id] = m
		entries = append(entries, hierarchy.Entry[string]{Key: id, Parent: m.ParentID, HasParent: m.ParentID != ""})
	}

	ordered, cyclic := hierarchy.Sort(entries, hierarchy.LeafToRoot)
	for _, e := range cyclic {
		b.resp.NotDestroyed[e.Key] = seterror.CyclicDependency("The destroyed mailboxes introduce a cycle.")
	}

	destroyed := make(map[string]bool, len(ordered))
	for _, e := range ordered {
		m := targets[e.Key]
		if serr := p.destroy(ctx, b, m, destroyed, removeEmails); serr != nil {
			b.resp.NotDestroyed[e.Key] = serr
			continue
		}
		destroyed[e.Key] = true
		b.resp.Destroyed = append(b.resp.Destroyed, e.Key)
		p.track(ctx, b, e.Key, state.ChangeTypeDestroyed)
	}
}

func (p *Processor) destroy(ctx context.Context, b *batch, m *mailbox.MailboxItem, destroyed map[string]bool, removeEmails bool) *seterror.SetError {
	id := m.MailboxID

	children, err := p.store.GetChildren(ctx, b.req.AccountID, id)
	if err != nil {
		return p.unexpected(ctx, "Failed to list child mailboxes", b.req.AccountID, id, err)
	}
	for _, c := range children {
		if !destroyed[c.MailboxID] {
			return seterror.HasChildren("The mailbox '" + id + "' has a child.")
		}
	}

	if m.Role.IsSystem() {
		return seterror.SystemEntityProtected("The mailbox '" + id + "' is a system mailbox.")
	}
	if m.TotalEmails > 0 && !removeEmails {
		return seterror.HasEmail("The mailbox '" + id + "' is not empty.")
	}

	if err := p.store.DeleteMailbox(ctx, m); err != nil {
		if errors.Is(err, mailbox.ErrMailboxNotFound) {
			return seterror.NotFound("The mailbox '" + id + "' was not found.")
		}
		return p.unexpected(ctx, "Failed to delete mailbox", b.req.AccountID, id, err)
	}
	if b.tree != nil {
		b.tree.remove(id)
	}

	if removeEmails && p.cleanup != nil {
		if err := p.cleanup.PublishMailboxCleanup(ctx, b.req.AccountID, id); err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish mailbox cleanup",
				slog.String("account_id", b.req.AccountID),
				slog.String("mailbox_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
