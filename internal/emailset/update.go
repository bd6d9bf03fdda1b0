package emailset

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
)

const updateFailed = "An error occurred when updating a message"

// membershipRetries bounds the re-reads after a concurrent modification of
// the mailbox set.
const membershipRetries = 3

// emailPatch is the resulting mailbox and keyword sets of an update. A nil
// set is left unchanged.
type emailPatch struct {
	mailboxIDs map[string]bool
	keywords   map[string]bool
}

// parsePatch applies data to current. Full mailboxIds and keywords objects
// replace the set; mailboxIds/x and keywords/x paths add (true) or remove
// (null) one member.
func parsePatch(current *email.EmailItem, data map[string]any) (*emailPatch, *seterror.SetError) {
	pt := &emailPatch{}
	if _, ok := data["mailboxIds"]; ok {
		set, serr := boolSet(data, "mailboxIds")
		if serr != nil {
			return nil, serr
		}
		pt.mailboxIDs = set
	}
	if _, ok := data["keywords"]; ok {
		set, serr := boolSet(data, "keywords")
		if serr != nil {
			return nil, serr
		}
		pt.keywords = make(map[string]bool, len(set))
		for k := range set {
			if err := email.ValidateKeyword(k); err != nil {
				return nil, seterror.InvalidProperties("Invalid keyword '"+k+"': "+err.Error(), "keywords")
			}
			pt.keywords[email.NormalizeKeyword(k)] = true
		}
	}

	for key, v := range data {
		prop, member, isPath := strings.Cut(key, "/")
		if !isPath {
			if key != "mailboxIds" && key != "keywords" {
				return nil, seterror.InvalidProperties("Unknown email property '"+key+"'", key)
			}
			continue
		}
		if member == "" || strings.Contains(member, "/") {
			return nil, seterror.InvalidProperties("Invalid patch path '"+key+"'", prop)
		}
		add, serr := pathValue(key, prop, v)
		if serr != nil {
			return nil, serr
		}

		switch prop {
		case "mailboxIds":
			if _, full := data["mailboxIds"]; full {
				return nil, seterror.InvalidProperties("mailboxIds is patched and replaced at once", prop)
			}
			if pt.mailboxIDs == nil {
				pt.mailboxIDs = maps.Clone(current.MailboxIDs)
				if pt.mailboxIDs == nil {
					pt.mailboxIDs = map[string]bool{}
				}
			}
			setMember(pt.mailboxIDs, member, add)
		case "keywords":
			if _, full := data["keywords"]; full {
				return nil, seterror.InvalidProperties("keywords is patched and replaced at once", prop)
			}
			if err := email.ValidateKeyword(member); err != nil {
				return nil, seterror.InvalidProperties("Invalid keyword '"+member+"': "+err.Error(), prop)
			}
			if pt.keywords == nil {
				pt.keywords = maps.Clone(current.Keywords)
				if pt.keywords == nil {
					pt.keywords = map[string]bool{}
				}
			}
			setMember(pt.keywords, email.NormalizeKeyword(member), add)
		default:
			return nil, seterror.InvalidProperties("Unknown email property '"+key+"'", prop)
		}
	}
	return pt, nil
}

func pathValue(key, prop string, v any) (bool, *seterror.SetError) {
	if v == nil {
		return false, nil
	}
	if b, ok := v.(bool); ok && b {
		return true, nil
	}
	return false, seterror.InvalidProperties("Patch value of '"+key+"' must be true or null", prop)
}

func setMember(set map[string]bool, member string, add bool) {
	if add {
		set[member] = true
		return
	}
	delete(set, member)
}

func (p *Processor) updateAll(ctx context.Context, b *batch) {
	for _, id := range b.req.UpdateIDs() {
		applied, serr := p.update(ctx, b, id, b.req.Update[id])
		if applied {
			p.track(ctx, b, id, state.ChangeTypeUpdated)
		}
		if serr != nil {
			b.resp.NotUpdated[id] = serr
			continue
		}
		b.resp.Updated[id] = nil
	}
}

// update processes one entry. applied reports whether anything was written,
// which can be true alongside an error when a later step failed.
func (p *Processor) update(ctx context.Context, b *batch, id string, data map[string]any) (applied bool, _ *seterror.SetError) {
	accountID := b.req.AccountID

	current, err := p.Emails.GetEmail(ctx, accountID, id)
	if errors.Is(err, email.ErrEmailNotFound) {
		return false, seterror.NotFound("message not found", "id")
	}
	if err != nil {
		return false, p.unexpected(ctx, "Failed to get email", updateFailed, accountID, id, err)
	}

	pt, serr := parsePatch(current, data)
	if serr != nil {
		return false, serr
	}

	mailboxes := current.MailboxIDs
	if pt.mailboxIDs != nil {
		mailboxes = pt.mailboxIDs
		if len(mailboxes) == 0 {
			return false, seterror.InvalidProperties("Message needs to be in at least one mailbox", "mailboxIds")
		}
		var added []string
		for mb := range mailboxes {
			if !current.MailboxIDs[mb] {
				added = append(added, mb)
			}
		}
		slices.Sort(added)
		if serr := p.checkMailboxes(ctx, b, added); serr != nil {
			return false, serr
		}
	}
	outbox := mailbox.SystemMailboxID(mailbox.RoleOutbox)
	if mailboxes[outbox] && len(mailboxes) > 1 {
		return false, seterror.InvalidProperties("When moving a message to Outbox, only Outboxes mailboxes should be targeted.", "mailboxIds")
	}

	// Only a patch whose mailboxIds target the Outbox sends.
	sending := pt.mailboxIDs != nil && pt.mailboxIDs[outbox]
	if sending {
		// The stored flags as read above must already mark a draft; a patch
		// can only take the marker away. A concurrent keyword change between
		// the read and the move is not detected.
		stillDraft := pt.keywords == nil || pt.keywords[email.KeywordDraft]
		if !current.Keywords[email.KeywordDraft] || !stillDraft {
			return false, seterror.InvalidProperties("Only message with `$Draft` keyword can be moved to Outbox", "mailboxIds")
		}
		if serr := p.checkFrom(ctx, accountID, current.From); serr != nil {
			return false, serr
		}
	}

	if pt.mailboxIDs != nil && !maps.Equal(pt.mailboxIDs, current.MailboxIDs) {
		updated, err := p.setMailboxes(ctx, current, pt.mailboxIDs)
		if errors.Is(err, email.ErrEmailNotFound) {
			return false, seterror.NotFound("message not found", "id")
		}
		if err != nil {
			return false, p.unexpected(ctx, "Failed to update email mailboxes", updateFailed, accountID, id, err)
		}
		current, applied = updated, true
	}

	if pt.keywords != nil && !maps.Equal(pt.keywords, current.Keywords) {
		updated, err := p.Emails.UpdateKeywords(ctx, accountID, id, pt.keywords, email.KeywordsReplace)
		if errors.Is(err, email.ErrEmailNotFound) {
			return applied, seterror.NotFound("message not found", "id")
		}
		if err != nil {
			return applied, p.unexpected(ctx, "Failed to update email keywords", updateFailed, accountID, id, err)
		}
		current, applied = updated, true
	}

	if !sending {
		return applied, nil
	}
	raw, err := p.Content.FetchBlob(ctx, accountID, current.BlobID)
	if err != nil {
		return applied, p.unexpected(ctx, "Failed to load message content", updateFailed, accountID, id, err)
	}
	if serr := p.send(ctx, current, raw); serr != nil {
		return applied, serr
	}
	return true, nil
}

// setMailboxes replaces the memberships of e, re-reading it when it was
// modified concurrently. The updated item is returned.
func (p *Processor) setMailboxes(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) (*email.EmailItem, error) {
	var err error
	for attempt := 0; attempt < membershipRetries; attempt++ {
		if attempt > 0 {
			p.logger.InfoContext(ctx, "Mailbox update version conflict, retrying",
				slog.String("account_id", e.AccountID),
				slog.String("email_id", e.EmailID),
				slog.Int("attempt", attempt),
			)
			if e, err = p.Emails.GetEmail(ctx, e.AccountID, e.EmailID); err != nil {
				return nil, err
			}
		}
		err = p.Emails.SetMailboxes(ctx, e, mailboxIDs)
		if !errors.Is(err, email.ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
