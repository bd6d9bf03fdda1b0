// Package state tracks the per-account JMAP state strings and change log.
package state

import (
	"fmt"
	"time"

	"github.com/jarrod-lowe/jmap-service-mail/internal/dynamo"
)

// ObjectType is the JMAP data type whose state is tracked.
type ObjectType string

const (
	// ObjectTypeEmail is the Email data type.
	ObjectTypeEmail ObjectType = "Email"
	// ObjectTypeMailbox is the Mailbox data type.
	ObjectTypeMailbox ObjectType = "Mailbox"
)

// ChangeType records what happened to an object.
type ChangeType string

const (
	// ChangeTypeCreated marks a new object.
	ChangeTypeCreated ChangeType = "created"
	// ChangeTypeUpdated marks a modified object.
	ChangeTypeUpdated ChangeType = "updated"
	// ChangeTypeDestroyed marks a removed object.
	ChangeTypeDestroyed ChangeType = "destroyed"
)

// DefaultRetentionDays is the default TTL for change log entries.
const DefaultRetentionDays = 7

// StateItem is the counter item.
// PK: ACCOUNT#{accountId}
// SK: STATE#{type}
type StateItem struct {
	AccountID    string
	ObjectType   ObjectType
	CurrentState int64
	UpdatedAt    time.Time
}

// PK returns the DynamoDB partition key for this state item.
func (s *StateItem) PK() string {
	return dynamo.AccountPK(s.AccountID)
}

// SK returns the DynamoDB sort key for this state item.
func (s *StateItem) SK() string {
	return PrefixState + string(s.ObjectType)
}

// ChangeRecord is a change log entry.
// SK: CHANGE#{type}#{state}, state zero-padded to 10 digits.
type ChangeRecord struct {
	AccountID  string
	ObjectType ObjectType
	State      int64
	ObjectID   string
	ChangeType ChangeType
	Timestamp  time.Time
	TTL        int64
}

// PK returns the DynamoDB partition key for this change record.
func (c *ChangeRecord) PK() string {
	return dynamo.AccountPK(c.AccountID)
}

// SK returns the DynamoDB sort key for this change record.
func (c *ChangeRecord) SK() string {
	return fmt.Sprintf("%s%s#%010d", PrefixChange, c.ObjectType, c.State)
}

// Sort key prefixes and attribute names.
const (
	PrefixState  = "STATE#"
	PrefixChange = "CHANGE#"

	AttrCurrentState = "currentState"
	AttrUpdatedAt    = "updatedAt"
	AttrObjectID     = "objectId"
	AttrChangeType   = "changeType"
	AttrTimestamp    = "timestamp"
	AttrState        = "state"
	AttrTTL          = "ttl"
)
