package mailboxset

import (
	"context"
	"errors"
	"strings"

	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
)

var updateProperties = map[string]bool{
	"name":         true,
	"parentId":     true,
	"role":         true,
	"sortOrder":    true,
	"isSubscribed": true,
	"sharedWith":   true,
}

// patch is a validated mailbox update.
type patch struct {
	name         string
	parentID     string
	acl          mailbox.ACL
	hasACL       bool
	sortOrder    *int
	isSubscribed *bool
}

func (p *Processor) updateAll(ctx context.Context, b *batch) {
	for _, id := range b.req.UpdateIDs() {
		if serr := p.update(ctx, b, id, b.req.Update[id]); serr != nil {
			b.resp.NotUpdated[id] = serr
			continue
		}
		b.resp.Updated[id] = nil
		p.track(ctx, b, id, state.ChangeTypeUpdated)
	}
}

func (p *Processor) update(ctx context.Context, b *batch, id string, data map[string]any) *seterror.SetError {
	current, ok := b.tree.get(id)
	if !ok {
		return seterror.NotFound("The mailbox '" + id + "' was not found.")
	}
	if bad := unknownProperties(data, updateProperties); len(bad) > 0 {
		return seterror.InvalidProperties("Unknown mailbox properties", bad...)
	}

	pt, serr := p.parsePatch(ctx, b, current, data)
	if serr != nil {
		return serr
	}

	if pt.name != current.Name || pt.parentID != current.ParentID {
		if err := p.store.RenameMailbox(ctx, current, pt.parentID, pt.name); err != nil {
			switch {
			case errors.Is(err, mailbox.ErrNameTaken):
				return seterror.InvalidArguments("Cannot rename a mailbox to an already existing mailbox.", "name")
			case errors.Is(err, mailbox.ErrMailboxNotFound):
				return seterror.NotFound("The mailbox '" + id + "' was not found.")
			}
			return p.unexpected(ctx, "Failed to rename mailbox", b.req.AccountID, id, err)
		}
	}

	if pt.hasACL {
		if err := p.store.SetSharing(ctx, b.req.AccountID, id, pt.acl); err != nil {
			if errors.Is(err, mailbox.ErrMailboxNotFound) {
				return seterror.NotFound("The mailbox '" + id + "' was not found.")
			}
			return p.unexpected(ctx, "Failed to update mailbox sharing", b.req.AccountID, id, err)
		}
		current.SharedWith = pt.acl
	}

	if pt.sortOrder != nil || pt.isSubscribed != nil {
		if pt.sortOrder != nil {
			current.SortOrder = *pt.sortOrder
		}
		if pt.isSubscribed != nil {
			current.IsSubscribed = *pt.isSubscribed
		}
		current.UpdatedAt = p.now()
		if err := p.store.UpdateMailbox(ctx, current); err != nil {
			if errors.Is(err, mailbox.ErrMailboxNotFound) {
				return seterror.NotFound("The mailbox '" + id + "' was not found.")
			}
			return p.unexpected(ctx, "Failed to update mailbox", b.req.AccountID, id, err)
		}
	}

	return nil
}

// parsePatch validates data against current and returns the resulting
// values. Nothing is written.
func (p *Processor) parsePatch(ctx context.Context, b *batch, current *mailbox.MailboxItem, data map[string]any) (*patch, *seterror.SetError) {
	pt := &patch{name: current.Name, parentID: current.ParentID}

	if v, ok := data["role"]; ok {
		s, _ := v.(string)
		role, err := mailbox.ParseRole(s)
		if err != nil {
			return nil, seterror.InvalidArguments("Unknown mailbox role '"+s+"'", "role")
		}
		if role != current.Role {
			if current.Role.IsSystem() {
				return nil, seterror.SystemEntityProtected("Cannot update a system mailbox.")
			}
			return nil, seterror.InvalidArguments("The mailbox role cannot be changed", "role")
		}
	}

	if v, ok := data["name"]; ok {
		s, _ := v.(string)
		pt.name = s
	}

	if v, ok := data["parentId"]; ok {
		raw, _ := v.(string)
		// A system mailbox never moves, whether or not the new parent exists.
		if current.Role.IsSystem() && raw != current.ParentID {
			return nil, seterror.SystemEntityProtected("Cannot update a system mailbox.")
		}
		pt.parentID = ""
		if raw != "" {
			pt.parentID = resolveParent(raw, b)
			if pt.parentID == "" {
				return nil, seterror.NotFound("The parent mailbox '"+raw+"' was not found.", "parentId")
			}
		}
	}

	if v, ok := data["sortOrder"]; ok {
		f, ok := v.(float64)
		if !ok {
			return nil, seterror.InvalidProperties("sortOrder must be a number", "sortOrder")
		}
		n := int(f)
		pt.sortOrder = &n
	}

	if v, ok := data["isSubscribed"]; ok {
		s, ok := v.(bool)
		if !ok {
			return nil, seterror.InvalidProperties("isSubscribed must be a boolean", "isSubscribed")
		}
		pt.isSubscribed = &s
	}

	moved := pt.parentID != current.ParentID
	if current.Role.IsSystem() {
		if pt.name != current.Name || moved || (pt.sortOrder != nil && *pt.sortOrder != current.SortOrder) {
			return nil, seterror.SystemEntityProtected("Cannot update a system mailbox.")
		}
	}

	if v, ok := data["sharedWith"]; ok {
		if !current.Role.Shareable() {
			return nil, seterror.InvalidArguments("Sharing '"+sharingName(current.Role)+"' is forbidden", "sharedWith")
		}
		acl, serr := p.parseACL(ctx, b, v)
		if serr != nil {
			return nil, serr
		}
		pt.acl, pt.hasACL = acl, true
	}

	if moved {
		if b.tree.hasChildren(current.MailboxID) {
			return nil, seterror.HasChildren("Cannot update a parent mailbox.")
		}
		if pt.parentID != "" {
			if pt.parentID == current.MailboxID {
				return nil, seterror.InvalidArguments("A mailbox cannot be its own parent", "parentId")
			}
			parent, ok := b.tree.get(pt.parentID)
			if !ok {
				return nil, seterror.NotFound("The parent mailbox '"+pt.parentID+"' was not found.", "parentId")
			}
			if b.req.Caller != "" && parent.AccountID != b.req.Caller {
				return nil, seterror.NotOwned("The parent mailbox '"+pt.parentID+"' is not owned by the account", "parentId")
			}
		}
	}

	if pt.name != current.Name || moved {
		if serr := validateName(pt.name, pt.parentID == ""); serr != nil {
			return nil, serr
		}
		if serr := p.checkLength(b.tree.path(pt.parentID).Child(pt.name)); serr != nil {
			return nil, serr
		}
	}

	return pt, nil
}

// parseACL validates a sharedWith value. Sharees must belong to a domain of
// the account's identities.
func (p *Processor) parseACL(ctx context.Context, b *batch, v any) (mailbox.ACL, *seterror.SetError) {
	if v == nil {
		return mailbox.ACL{}, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, seterror.InvalidArguments("sharedWith must be an object", "sharedWith")
	}
	acl, err := mailbox.ParseACL(raw)
	if err != nil {
		var rerr *mailbox.RightError
		if errors.As(err, &rerr) {
			return nil, seterror.InvalidArguments(rerr.Error(), "sharedWith")
		}
		return nil, seterror.InvalidArguments(err.Error(), "sharedWith")
	}
	if len(acl) == 0 {
		return acl, nil
	}

	domains, err := p.ownerDomains(ctx, b.req.AccountID)
	if err != nil {
		return nil, p.unexpected(ctx, "Failed to list identities", b.req.AccountID, "", err)
	}
	for d := range acl.Domains() {
		if !domains[d] {
			return nil, seterror.InvalidArguments("Cannot share a mailbox to another domain", "sharedWith")
		}
	}
	return acl, nil
}

func (p *Processor) ownerDomains(ctx context.Context, accountID string) (map[string]bool, error) {
	out := map[string]bool{}
	if p.identities == nil {
		return out, nil
	}
	ids, err := p.identities.ListIdentities(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, domain, ok := strings.Cut(id.Email, "@"); ok {
			out[strings.ToLower(domain)] = true
		}
	}
	return out, nil
}

func sharingName(r mailbox.Role) string {
	if r == mailbox.RoleDrafts {
		return "Draft"
	}
	return r.DisplayName()
}
