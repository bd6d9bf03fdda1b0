// Package email provides types and operations for JMAP email storage.
package email

import (
	"time"

	"github.com/jarrod-lowe/jmap-service-mail/internal/dynamo"
)

// EmailAddress represents an email address with optional display name.
type EmailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment describes one attachment of a stored message. BlobID addresses
// the attachment content in the blob store.
type Attachment struct {
	BlobID   string `json:"blobId"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size"`
	CID      string `json:"cid,omitempty"`
	IsInline bool   `json:"isInline"`
}

// EmailItem represents an email stored in DynamoDB.
type EmailItem struct {
	AccountID     string
	EmailID       string
	BlobID        string
	ThreadID      string
	MailboxIDs    map[string]bool
	Keywords      map[string]bool
	ReceivedAt    time.Time
	Size          int64
	HasAttachment bool
	Subject       string
	From          []EmailAddress
	Sender        []EmailAddress
	To            []EmailAddress
	CC            []EmailAddress
	Bcc           []EmailAddress
	ReplyTo       []EmailAddress
	SentAt        time.Time
	MessageID     []string
	InReplyTo     []string
	References    []string
	Preview       string
	Attachments   []Attachment
	Version       int64
}

// PK returns the DynamoDB partition key for this email.
func (e *EmailItem) PK() string {
	return dynamo.AccountPK(e.AccountID)
}

// SK returns the DynamoDB sort key for this email.
func (e *EmailItem) SK() string {
	return PrefixEmail + e.EmailID
}

// HasKeyword reports whether the keyword is set, ignoring case.
func (e *EmailItem) HasKeyword(keyword string) bool {
	return e.Keywords[NormalizeKeyword(keyword)]
}

// InMailbox reports whether the email is a member of mailboxID.
func (e *EmailItem) InMailbox(mailboxID string) bool {
	return e.MailboxIDs[mailboxID]
}

// Recipients returns the envelope recipients of the email: To, Cc and Bcc,
// de-duplicated and in that order.
func (e *EmailItem) Recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]EmailAddress{e.To, e.CC, e.Bcc} {
		for _, a := range list {
			if a.Email == "" || seen[a.Email] {
				continue
			}
			seen[a.Email] = true
			out = append(out, a.Email)
		}
	}
	return out
}

// MailboxMembershipItem represents a mailbox membership record in DynamoDB.
type MailboxMembershipItem struct {
	AccountID  string
	MailboxID  string
	ReceivedAt time.Time
	EmailID    string
}

// PK returns the DynamoDB partition key for this membership.
func (m *MailboxMembershipItem) PK() string {
	return dynamo.AccountPK(m.AccountID)
}

// SK returns the DynamoDB sort key for this membership.
func (m *MailboxMembershipItem) SK() string {
	return PrefixMbox + m.MailboxID + "#EMAIL#" + m.ReceivedAt.UTC().Format(time.RFC3339) + "#" + m.EmailID
}

// MessageIDSK returns the sort key of the index item mapping a wire
// Message-Id to an email.
func MessageIDSK(messageID, emailID string) string {
	return PrefixMsgID + messageID + "#" + emailID
}

// AttachmentSK returns the sort key of an attachment metadata item.
func AttachmentSK(blobID string) string {
	return PrefixAttachment + blobID
}
