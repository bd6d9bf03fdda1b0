// Package seterror defines the typed per-entry errors reported in the
// notCreated, notUpdated and notDestroyed maps of a /set response.
package seterror

import (
	"errors"
	"fmt"
)

// Kind enumerates the error classes an entry can fail with.
type Kind int

const (
	KindUnexpected Kind = iota
	KindNotFound
	KindInvalidProperties
	KindInvalidArguments
	KindHasChildren
	KindHasEmail
	KindNotOwned
	KindSystemEntityProtected
	KindCyclicDependency
	KindOverQuota
	KindAttachmentsMissing
	KindPermissionDenied
)

// Type returns the wire value of the "type" field.
func (k Kind) Type() string {
	switch k {
	case KindNotFound:
		return "notFound"
	case KindInvalidProperties, KindAttachmentsMissing:
		return "invalidProperties"
	case KindInvalidArguments:
		return "invalidArguments"
	case KindHasChildren:
		return "mailboxHasChild"
	case KindHasEmail:
		return "mailboxHasEmail"
	case KindNotOwned:
		return "forbidden"
	case KindSystemEntityProtected:
		return "systemMailboxProtected"
	case KindCyclicDependency:
		return "cyclicDependency"
	case KindOverQuota:
		return "overQuota"
	case KindPermissionDenied:
		return "forbiddenFrom"
	default:
		return "serverFail"
	}
}

// SetError is a single entry failure.
type SetError struct {
	Kind        Kind
	Description string
	Properties  []string
	Extra       map[string]any
}

func (e *SetError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.Type(), e.Description)
}

// ToMap renders the error as a JMAP SetError object.
func (e *SetError) ToMap() map[string]any {
	m := map[string]any{
		"type":        e.Kind.Type(),
		"description": e.Description,
	}
	if len(e.Properties) > 0 {
		m["properties"] = e.Properties
	}
	for k, v := range e.Extra {
		m[k] = v
	}
	return m
}

// As extracts a SetError from err.
func As(err error) (*SetError, bool) {
	var se *SetError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func New(kind Kind, description string, properties ...string) *SetError {
	return &SetError{Kind: kind, Description: description, Properties: properties}
}

func NotFound(description string, properties ...string) *SetError {
	return New(KindNotFound, description, properties...)
}

func InvalidProperties(description string, properties ...string) *SetError {
	return New(KindInvalidProperties, description, properties...)
}

func InvalidArguments(description string, properties ...string) *SetError {
	return New(KindInvalidArguments, description, properties...)
}

func HasChildren(description string) *SetError {
	return New(KindHasChildren, description)
}

func HasEmail(description string) *SetError {
	return New(KindHasEmail, description)
}

func NotOwned(description string, properties ...string) *SetError {
	return New(KindNotOwned, description, properties...)
}

func SystemEntityProtected(description string) *SetError {
	return New(KindSystemEntityProtected, description)
}

func CyclicDependency(description string) *SetError {
	return New(KindCyclicDependency, description)
}

// OverQuota reports a size limit; the limit is named in the description.
func OverQuota(size, limit int64) *SetError {
	e := New(KindOverQuota, fmt.Sprintf("Message size %d exceeds the maximum of %d bytes", size, limit))
	e.Extra = map[string]any{"maxSize": limit}
	return e
}

// AttachmentsMissing lists every unresolved attachment reference.
func AttachmentsMissing(blobIDs []string) *SetError {
	e := New(KindAttachmentsMissing, "Attachment not found", "attachments")
	e.Extra = map[string]any{"attachmentsNotFound": blobIDs}
	return e
}

// PermissionDenied names an identity the account is allowed to send from.
func PermissionDenied(allowed string) *SetError {
	e := New(KindPermissionDenied, fmt.Sprintf("Invalid 'from' field. One accepted value is %s", allowed), "from")
	if allowed != "" {
		e.Extra = map[string]any{"allowedFrom": allowed}
	}
	return e
}

// Unexpected hides the cause from the client; callers log it.
func Unexpected(description string) *SetError {
	return New(KindUnexpected, description)
}
