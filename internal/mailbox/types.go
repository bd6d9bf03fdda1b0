// Package mailbox provides types and operations for JMAP mailbox storage.
package mailbox

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jarrod-lowe/jmap-service-mail/internal/dynamo"
)

// Role is the closed set of system roles a mailbox can carry.
type Role int

const (
	RoleNone Role = iota
	RoleInbox
	RoleDrafts
	RoleOutbox
	RoleSent
	RoleTrash
)

// SystemRoles lists every role provisioned for a new account, in display order.
var SystemRoles = []Role{RoleInbox, RoleDrafts, RoleOutbox, RoleSent, RoleTrash}

// ErrUnknownRole is returned by ParseRole.
var ErrUnknownRole = errors.New("unknown mailbox role")

// String returns the RFC 8621 role name, or "" for RoleNone.
func (r Role) String() string {
	switch r {
	case RoleInbox:
		return "inbox"
	case RoleDrafts:
		return "drafts"
	case RoleOutbox:
		return "outbox"
	case RoleSent:
		return "sent"
	case RoleTrash:
		return "trash"
	case RoleNone:
		return ""
	}
	return ""
}

// DisplayName is the name a system mailbox is provisioned with.
func (r Role) DisplayName() string {
	switch r {
	case RoleInbox:
		return "Inbox"
	case RoleDrafts:
		return "Drafts"
	case RoleOutbox:
		return "Outbox"
	case RoleSent:
		return "Sent"
	case RoleTrash:
		return "Trash"
	case RoleNone:
		return ""
	}
	return ""
}

// IsSystem reports whether the role protects the mailbox from rename, move and delete.
func (r Role) IsSystem() bool {
	switch r {
	case RoleInbox, RoleDrafts, RoleOutbox, RoleSent, RoleTrash:
		return true
	case RoleNone:
		return false
	}
	return false
}

// Shareable reports whether a mailbox with this role may carry a sharing ACL.
func (r Role) Shareable() bool {
	switch r {
	case RoleOutbox, RoleDrafts:
		return false
	case RoleNone, RoleInbox, RoleSent, RoleTrash:
		return true
	}
	return false
}

// ParseRole maps a role name (case-insensitive) to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "":
		return RoleNone, nil
	case "inbox":
		return RoleInbox, nil
	case "drafts":
		return RoleDrafts, nil
	case "outbox":
		return RoleOutbox, nil
	case "sent":
		return RoleSent, nil
	case "trash":
		return RoleTrash, nil
	}
	return RoleNone, fmt.Errorf("%w: %s", ErrUnknownRole, s)
}

// ReservedRole returns the system role whose display name matches name,
// ignoring case.
func ReservedRole(name string) (Role, bool) {
	for _, r := range SystemRoles {
		if strings.EqualFold(r.DisplayName(), name) {
			return r, true
		}
	}
	return RoleNone, false
}

// PathDelimiter separates mailbox names in a hierarchy path.
const PathDelimiter = "."

// Path is the chain of names from a top-level mailbox down to a mailbox.
type Path []string

func (p Path) String() string {
	return strings.Join(p, PathDelimiter)
}

// Child returns the path of a child named name.
func (p Path) Child(name string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, name)
}

// Length is the length of the rendered path in characters.
func (p Path) Length() int {
	return utf8.RuneCountInString(p.String())
}

// MailboxItem represents a mailbox stored in DynamoDB.
type MailboxItem struct {
	AccountID    string
	MailboxID    string
	Name         string
	ParentID     string
	Role         Role
	SortOrder    int
	IsSubscribed bool
	SharedWith   ACL
	TotalEmails  int
	UnreadEmails int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PK returns the DynamoDB partition key for this mailbox.
func (m *MailboxItem) PK() string {
	return dynamo.AccountPK(m.AccountID)
}

// SK returns the DynamoDB sort key for this mailbox.
func (m *MailboxItem) SK() string {
	return PrefixMailbox + m.MailboxID
}

// NameLockSK returns the sort key of the item reserving this mailbox's name
// under its parent.
func (m *MailboxItem) NameLockSK() string {
	return NameLockSK(m.ParentID, m.Name)
}

// NameLockSK returns the sort key reserving name under parentID.
func NameLockSK(parentID, name string) string {
	if parentID == "" {
		parentID = rootParent
	}
	return PrefixName + parentID + "#" + name
}

// RoleLockSK returns the sort key reserving a role within an account.
func RoleLockSK(role Role) string {
	return PrefixRole + role.String()
}

// SystemMailboxID is the id a system mailbox is provisioned with.
func SystemMailboxID(r Role) string {
	return r.String()
}
