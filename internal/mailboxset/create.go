package mailboxset

import (
	"context"
	"errors"
	"strings"

	"github.com/jarrod-lowe/jmap-service-mail/internal/hierarchy"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
)

var createProperties = map[string]bool{
	"name":         true,
	"parentId":     true,
	"role":         true,
	"sortOrder":    true,
	"isSubscribed": true,
}

func (p *Processor) createAll(ctx context.Context, b *batch) {
	if len(b.req.Create) == 0 {
		return
	}

	entries := make([]hierarchy.Entry[string], 0, len(b.req.Create))
	for _, id := range b.req.CreateIDs() {
		e := hierarchy.Entry[string]{Key: id}
		if parent, ok := b.req.Create[id]["parentId"].(string); ok {
			ref := strings.TrimPrefix(parent, "#")
			if _, inBatch := b.req.Create[ref]; inBatch {
				e.Parent, e.HasParent = ref, true
			}
		}
		entries = append(entries, e)
	}

	ordered, cyclic := hierarchy.Sort(entries, hierarchy.RootToLeaf)
	for _, e := range cyclic {
		b.resp.NotCreated[e.Key] = seterror.CyclicDependency("The created mailboxes introduce a cycle.")
	}

	for _, e := range ordered {
		m, serr := p.create(ctx, b, b.req.Create[e.Key])
		if serr != nil {
			b.resp.NotCreated[e.Key] = serr
			continue
		}
		b.created[e.Key] = m.MailboxID
		b.resp.Created[e.Key] = map[string]any{
			"id":           m.MailboxID,
			"sortOrder":    m.SortOrder,
			"isSubscribed": m.IsSubscribed,
			"totalEmails":  0,
			"unreadEmails": 0,
		}
		p.track(ctx, b, m.MailboxID, state.ChangeTypeCreated)
	}
}

func (p *Processor) create(ctx context.Context, b *batch, data map[string]any) (*mailbox.MailboxItem, *seterror.SetError) {
	if v, ok := data["role"]; ok && v != nil {
		return nil, seterror.InvalidArguments("The field 'role' of 'MailboxCreateRequest' is not supported", "role")
	}
	if bad := unknownProperties(data, createProperties); len(bad) > 0 {
		return nil, seterror.InvalidProperties("Unknown mailbox properties", bad...)
	}

	name, _ := data["name"].(string)

	var parentID string
	if raw, ok := data["parentId"].(string); ok && raw != "" {
		parentID = resolveParent(raw, b)
		parent, found := b.tree.get(parentID)
		if parentID == "" || !found {
			return nil, seterror.NotFound("The parent mailbox '"+raw+"' was not found.", "parentId")
		}
		if b.req.Caller != "" && parent.AccountID != b.req.Caller {
			return nil, seterror.NotOwned("The parent mailbox '"+raw+"' is not owned by the account", "parentId")
		}
	}

	if serr := validateName(name, parentID == ""); serr != nil {
		return nil, serr
	}
	path := b.tree.path(parentID).Child(name)
	if serr := p.checkLength(path); serr != nil {
		return nil, serr
	}

	now := p.now()
	m := &mailbox.MailboxItem{
		AccountID:    b.req.AccountID,
		MailboxID:    p.newID(),
		Name:         name,
		ParentID:     parentID,
		IsSubscribed: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if v, ok := data["sortOrder"].(float64); ok {
		m.SortOrder = int(v)
	}
	if v, ok := data["isSubscribed"].(bool); ok {
		m.IsSubscribed = v
	}

	if err := p.store.CreateMailbox(ctx, m); err != nil {
		if errors.Is(err, mailbox.ErrNameTaken) || errors.Is(err, mailbox.ErrMailboxExists) {
			return nil, seterror.InvalidArguments("The mailbox '"+path.String()+"' already exists.", "name")
		}
		return nil, p.unexpected(ctx, "Failed to create mailbox", b.req.AccountID, m.MailboxID, err)
	}

	b.tree.put(m)
	return m, nil
}
