package mailboxset

import "github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"

// tree is the request's view of an account's mailboxes. It is loaded once
// and kept current as entries are applied.
type tree struct {
	byID map[string]*mailbox.MailboxItem
}

func newTree(items []*mailbox.MailboxItem) *tree {
	t := &tree{byID: make(map[string]*mailbox.MailboxItem, len(items))}
	for _, m := range items {
		t.byID[m.MailboxID] = m
	}
	return t
}

func (t *tree) get(id string) (*mailbox.MailboxItem, bool) {
	m, ok := t.byID[id]
	return m, ok
}

func (t *tree) put(m *mailbox.MailboxItem) {
	t.byID[m.MailboxID] = m
}

func (t *tree) remove(id string) {
	delete(t.byID, id)
}

// path returns the names from the top-level ancestor down to id. A broken
// or looping parent chain ends the walk.
func (t *tree) path(id string) mailbox.Path {
	var names []string
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		seen[id] = true
		m, ok := t.byID[id]
		if !ok {
			break
		}
		names = append(names, m.Name)
		id = m.ParentID
	}
	out := make(mailbox.Path, len(names))
	for i, n := range names {
		out[len(names)-1-i] = n
	}
	return out
}

func (t *tree) hasChildren(id string) bool {
	for _, m := range t.byID {
		if m.ParentID == id {
			return true
		}
	}
	return false
}
