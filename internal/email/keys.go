package email

// Key prefixes for DynamoDB sort keys.
const (
	PrefixEmail      = "EMAIL#"
	PrefixMbox       = "MBOX#"
	PrefixMsgID      = "MSGID#"
	PrefixAttachment = "ATTACHMENT#"
)

// Attribute names for DynamoDB items.
const (
	AttrEmailID       = "emailId"
	AttrAccountID     = "accountId"
	AttrBlobID        = "blobId"
	AttrThreadID      = "threadId"
	AttrMailboxIDs    = "mailboxIds"
	AttrKeywords      = "keywords"
	AttrReceivedAt    = "receivedAt"
	AttrSize          = "size"
	AttrHasAttachment = "hasAttachment"
	AttrSubject       = "subject"
	AttrFrom          = "from"
	AttrSender        = "sender"
	AttrTo            = "to"
	AttrCC            = "cc"
	AttrBcc           = "bcc"
	AttrReplyTo       = "replyTo"
	AttrSentAt        = "sentAt"
	AttrMessageID     = "messageId"
	AttrInReplyTo     = "inReplyTo"
	AttrReferences    = "references"
	AttrPreview       = "preview"
	AttrAttachments   = "attachments"
	AttrName          = "name"
	AttrEmail         = "email"
	AttrType          = "type"
	AttrCID           = "cid"
	AttrIsInline      = "isInline"
	AttrVersion       = "version"
)
