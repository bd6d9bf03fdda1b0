package mailbox

// Key prefixes for DynamoDB sort keys.
const (
	PrefixMailbox = "MAILBOX#"
	PrefixName    = "MBOXNAME#"
	PrefixRole    = "MBOXROLE#"

	rootParent = "ROOT"
)

// Attribute names for DynamoDB items.
const (
	AttrMailboxID    = "mailboxId"
	AttrAccountID    = "accountId"
	AttrName         = "name"
	AttrParentID     = "parentId"
	AttrRole         = "role"
	AttrSortOrder    = "sortOrder"
	AttrTotalEmails  = "totalEmails"
	AttrUnreadEmails = "unreadEmails"
	AttrIsSubscribed = "isSubscribed"
	AttrSharedWith   = "sharedWith"
	AttrCreatedAt    = "createdAt"
	AttrUpdatedAt    = "updatedAt"
)
