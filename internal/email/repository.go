package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jarrod-lowe/jmap-service-mail/internal/dynamo"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
)

// Error types for repository operations.
var (
	ErrTransactionFailed = errors.New("transaction failed")
	ErrEmailNotFound     = errors.New("email not found")
	ErrEmailExists       = errors.New("email already exists")
	ErrVersionConflict   = errors.New("email was modified concurrently")
)

// keywordRetries bounds the read-modify-write loop of UpdateKeywords.
const keywordRetries = 3

// Repository handles email storage operations.
type Repository struct {
	client    dynamo.Client
	tableName string
}

// NewRepository creates a new Repository.
func NewRepository(client dynamo.Client, tableName string) *Repository {
	return &Repository{
		client:    client,
		tableName: tableName,
	}
}

// CreateEmail stores a new email, its mailbox memberships, its Message-Id
// index entries and the mailbox counter updates in one transaction. extra
// items (attachment records) are written in the same transaction.
func (r *Repository) CreateEmail(ctx context.Context, email *EmailItem, extra ...types.TransactWriteItem) error {
	if email.Version == 0 {
		email.Version = 1
	}

	transactItems := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                r.marshalEmailItem(email),
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		},
	}}

	unread := 1
	if email.Keywords[KeywordSeen] {
		unread = 0
	}
	for _, mailboxID := range sortedKeys(email.MailboxIDs) {
		transactItems = append(transactItems,
			r.membershipPut(email, mailboxID),
			mailbox.BuildCountsUpdate(r.tableName, email.AccountID, mailboxID, 1, unread),
		)
	}
	for _, msgID := range email.MessageID {
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(r.tableName),
				Item: map[string]types.AttributeValue{
					dynamo.AttrPK: &types.AttributeValueMemberS{Value: email.PK()},
					dynamo.AttrSK: &types.AttributeValueMemberS{Value: MessageIDSK(msgID, email.EmailID)},
					AttrEmailID:   &types.AttributeValueMemberS{Value: email.EmailID},
					AttrThreadID:  &types.AttributeValueMemberS{Value: email.ThreadID},
				},
			},
		})
	}
	transactItems = append(transactItems, extra...)

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		if dynamo.ConditionFailedAt(err, 0) {
			return ErrEmailExists
		}
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	return nil
}

// GetEmail retrieves an email by account ID and email ID.
func (r *Repository) GetEmail(ctx context.Context, accountID, emailID string) (*EmailItem, error) {
	email := &EmailItem{AccountID: accountID, EmailID: emailID}

	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            dynamo.Key(email.PK(), email.SK()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	if output.Item == nil {
		return nil, ErrEmailNotFound
	}

	return r.unmarshalEmailItem(output.Item), nil
}

// SetMailboxes replaces the mailbox memberships of an email, adjusting the
// mailbox counters. The write is conditioned on the version read into email,
// which is updated in place on success.
func (r *Repository) SetMailboxes(ctx context.Context, email *EmailItem, mailboxIDs map[string]bool) error {
	unread := 1
	if email.Keywords[KeywordSeen] {
		unread = 0
	}

	transactItems := []types.TransactWriteItem{
		r.versionedUpdate(email, "#mb = :mb", map[string]string{"#mb": AttrMailboxIDs},
			map[string]types.AttributeValue{":mb": marshalBoolMap(mailboxIDs)}),
	}

	for _, id := range sortedKeys(mailboxIDs) {
		if email.MailboxIDs[id] {
			continue
		}
		transactItems = append(transactItems,
			r.membershipPut(email, id),
			mailbox.BuildCountsUpdate(r.tableName, email.AccountID, id, 1, unread),
		)
	}
	for _, id := range sortedKeys(email.MailboxIDs) {
		if mailboxIDs[id] {
			continue
		}
		transactItems = append(transactItems,
			r.membershipDelete(email, id),
			mailbox.BuildCountsUpdate(r.tableName, email.AccountID, id, -1, -unread),
		)
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		if dynamo.ConditionFailedAt(err, 0) {
			return ErrVersionConflict
		}
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	email.MailboxIDs = copyBoolMap(mailboxIDs)
	email.Version++
	return nil
}

// UpdateKeywords applies keywords to an email with the given mode. On a
// concurrent modification the email is re-read and the change re-applied, up
// to a fixed number of attempts. The updated email is returned.
func (r *Repository) UpdateKeywords(ctx context.Context, accountID, emailID string, keywords map[string]bool, mode KeywordMode) (*EmailItem, error) {
	var lastErr error
	for attempt := 0; attempt < keywordRetries; attempt++ {
		email, err := r.GetEmail(ctx, accountID, emailID)
		if err != nil {
			return nil, err
		}

		err = r.SetKeywords(ctx, email, ApplyKeywords(email.Keywords, keywords, mode))
		if err == nil {
			return email, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// SetKeywords replaces the keyword set of an email, conditioned on its
// version. A change of $seen adjusts the unread counters of every mailbox the
// email is in.
func (r *Repository) SetKeywords(ctx context.Context, email *EmailItem, keywords map[string]bool) error {
	transactItems := []types.TransactWriteItem{
		r.versionedUpdate(email, "#kw = :kw", map[string]string{"#kw": AttrKeywords},
			map[string]types.AttributeValue{":kw": marshalBoolMap(keywords)}),
	}

	wasSeen, isSeen := email.Keywords[KeywordSeen], keywords[KeywordSeen]
	if wasSeen != isSeen {
		delta := 1
		if isSeen {
			delta = -1
		}
		for _, id := range sortedKeys(email.MailboxIDs) {
			transactItems = append(transactItems, mailbox.BuildCountsUpdate(r.tableName, email.AccountID, id, 0, delta))
		}
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		if dynamo.ConditionFailedAt(err, 0) {
			return ErrVersionConflict
		}
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	email.Keywords = copyBoolMap(keywords)
	email.Version++
	return nil
}

// DeleteEmails deletes the given emails with their memberships, index items
// and attachment records. Ids that do not exist are returned in notFound.
// The destroyed items are returned so callers can release their blobs.
func (r *Repository) DeleteEmails(ctx context.Context, accountID string, emailIDs []string) (destroyed []*EmailItem, notFound []string, err error) {
	for _, id := range emailIDs {
		email, err := r.GetEmail(ctx, accountID, id)
		if errors.Is(err, ErrEmailNotFound) {
			notFound = append(notFound, id)
			continue
		}
		if err != nil {
			return destroyed, notFound, err
		}

		if err := r.deleteEmail(ctx, email); err != nil {
			if errors.Is(err, ErrEmailNotFound) {
				notFound = append(notFound, id)
				continue
			}
			return destroyed, notFound, err
		}
		destroyed = append(destroyed, email)
	}
	return destroyed, notFound, nil
}

func (r *Repository) deleteEmail(ctx context.Context, email *EmailItem) error {
	unread := 1
	if email.Keywords[KeywordSeen] {
		unread = 0
	}

	transactItems := []types.TransactWriteItem{{
		Delete: &types.Delete{
			TableName:           aws.String(r.tableName),
			Key:                 dynamo.Key(email.PK(), email.SK()),
			ConditionExpression: aws.String("attribute_exists(pk)"),
		},
	}}
	for _, id := range sortedKeys(email.MailboxIDs) {
		transactItems = append(transactItems,
			r.membershipDelete(email, id),
			mailbox.BuildCountsUpdate(r.tableName, email.AccountID, id, -1, -unread),
		)
	}
	for _, msgID := range email.MessageID {
		transactItems = append(transactItems, r.delete(email.PK(), MessageIDSK(msgID, email.EmailID)))
	}
	for _, a := range email.Attachments {
		transactItems = append(transactItems, r.delete(email.PK(), AttachmentSK(a.BlobID)))
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		if dynamo.ConditionFailedAt(err, 0) {
			return ErrEmailNotFound
		}
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return nil
}

// MessageIDMatch is one email found through the wire Message-Id index.
type MessageIDMatch struct {
	EmailID  string
	ThreadID string
}

// FindByMessageID returns the emails whose Message-Id header equals messageID.
func (r *Repository) FindByMessageID(ctx context.Context, accountID, messageID string) ([]MessageIDMatch, error) {
	output, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
			":prefix": &types.AttributeValueMemberS{Value: PrefixMsgID + messageID + "#"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query message id: %w", err)
	}

	matches := make([]MessageIDMatch, 0, len(output.Items))
	for _, item := range output.Items {
		matches = append(matches, MessageIDMatch{
			EmailID:  dynamo.StringAttr(item, AttrEmailID),
			ThreadID: dynamo.StringAttr(item, AttrThreadID),
		})
	}
	return matches, nil
}

// QueryEmailsByMailbox returns the ids of the emails with a membership in
// mailboxID.
func (r *Repository) QueryEmailsByMailbox(ctx context.Context, accountID, mailboxID string) ([]string, error) {
	var ids []string
	var startKey map[string]types.AttributeValue
	for {
		output, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
				":prefix": &types.AttributeValueMemberS{Value: PrefixMbox + mailboxID + "#EMAIL#"},
			},
			ProjectionExpression: aws.String(AttrEmailID),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query mailbox memberships: %w", err)
		}
		for _, item := range output.Items {
			if id := dynamo.StringAttr(item, AttrEmailID); id != "" {
				ids = append(ids, id)
			}
		}
		if len(output.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		startKey = output.LastEvaluatedKey
	}
}

func (r *Repository) versionedUpdate(email *EmailItem, set string, names map[string]string, values map[string]types.AttributeValue) types.TransactWriteItem {
	names["#v"] = AttrVersion
	values[":v"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(email.Version, 10)}
	values[":next"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(email.Version+1, 10)}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(r.tableName),
			Key:                       dynamo.Key(email.PK(), email.SK()),
			UpdateExpression:          aws.String("SET " + set + ", #v = :next"),
			ConditionExpression:       aws.String("#v = :v"),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		},
	}
}

func (r *Repository) membershipPut(email *EmailItem, mailboxID string) types.TransactWriteItem {
	membership := &MailboxMembershipItem{
		AccountID:  email.AccountID,
		MailboxID:  mailboxID,
		ReceivedAt: email.ReceivedAt,
		EmailID:    email.EmailID,
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(r.tableName),
			Item: map[string]types.AttributeValue{
				dynamo.AttrPK: &types.AttributeValueMemberS{Value: membership.PK()},
				dynamo.AttrSK: &types.AttributeValueMemberS{Value: membership.SK()},
				AttrEmailID:   &types.AttributeValueMemberS{Value: membership.EmailID},
			},
		},
	}
}

func (r *Repository) membershipDelete(email *EmailItem, mailboxID string) types.TransactWriteItem {
	membership := &MailboxMembershipItem{
		AccountID:  email.AccountID,
		MailboxID:  mailboxID,
		ReceivedAt: email.ReceivedAt,
		EmailID:    email.EmailID,
	}
	return r.delete(membership.PK(), membership.SK())
}

func (r *Repository) delete(pk, sk string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(r.tableName),
			Key:       dynamo.Key(pk, sk),
		},
	}
}

// marshalEmailItem converts an EmailItem to DynamoDB attribute values.
func (r *Repository) marshalEmailItem(email *EmailItem) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		dynamo.AttrPK:     &types.AttributeValueMemberS{Value: email.PK()},
		dynamo.AttrSK:     &types.AttributeValueMemberS{Value: email.SK()},
		AttrEmailID:       &types.AttributeValueMemberS{Value: email.EmailID},
		AttrAccountID:     &types.AttributeValueMemberS{Value: email.AccountID},
		AttrBlobID:        &types.AttributeValueMemberS{Value: email.BlobID},
		AttrThreadID:      &types.AttributeValueMemberS{Value: email.ThreadID},
		AttrSubject:       &types.AttributeValueMemberS{Value: email.Subject},
		AttrReceivedAt:    &types.AttributeValueMemberS{Value: email.ReceivedAt.UTC().Format(time.RFC3339)},
		AttrSize:          &types.AttributeValueMemberN{Value: strconv.FormatInt(email.Size, 10)},
		AttrHasAttachment: &types.AttributeValueMemberBOOL{Value: email.HasAttachment},
		AttrPreview:       &types.AttributeValueMemberS{Value: email.Preview},
		AttrVersion:       &types.AttributeValueMemberN{Value: strconv.FormatInt(email.Version, 10)},
		AttrMailboxIDs:    marshalBoolMap(email.MailboxIDs),
		AttrKeywords:      marshalBoolMap(email.Keywords),
	}

	for name, list := range map[string][]EmailAddress{
		AttrFrom:    email.From,
		AttrSender:  email.Sender,
		AttrTo:      email.To,
		AttrCC:      email.CC,
		AttrBcc:     email.Bcc,
		AttrReplyTo: email.ReplyTo,
	} {
		if len(list) > 0 {
			item[name] = marshalAddressList(list)
		}
	}
	for name, list := range map[string][]string{
		AttrMessageID:  email.MessageID,
		AttrInReplyTo:  email.InReplyTo,
		AttrReferences: email.References,
	} {
		if len(list) > 0 {
			item[name] = marshalStringList(list)
		}
	}
	if !email.SentAt.IsZero() {
		item[AttrSentAt] = &types.AttributeValueMemberS{Value: email.SentAt.UTC().Format(time.RFC3339)}
	}
	if len(email.Attachments) > 0 {
		item[AttrAttachments] = marshalAttachments(email.Attachments)
	}

	return item
}

// unmarshalEmailItem converts DynamoDB attribute values to an EmailItem.
func (r *Repository) unmarshalEmailItem(item map[string]types.AttributeValue) *EmailItem {
	email := &EmailItem{
		EmailID:    dynamo.StringAttr(item, AttrEmailID),
		AccountID:  dynamo.StringAttr(item, AttrAccountID),
		BlobID:     dynamo.StringAttr(item, AttrBlobID),
		ThreadID:   dynamo.StringAttr(item, AttrThreadID),
		Subject:    dynamo.StringAttr(item, AttrSubject),
		Preview:    dynamo.StringAttr(item, AttrPreview),
		MailboxIDs: unmarshalBoolMap(item[AttrMailboxIDs]),
		Keywords:   unmarshalBoolMap(item[AttrKeywords]),
	}

	if t, err := time.Parse(time.RFC3339, dynamo.StringAttr(item, AttrReceivedAt)); err == nil {
		email.ReceivedAt = t
	}
	if t, err := time.Parse(time.RFC3339, dynamo.StringAttr(item, AttrSentAt)); err == nil {
		email.SentAt = t
	}
	email.Size = numberAttr(item, AttrSize)
	email.Version = numberAttr(item, AttrVersion)
	if v, ok := item[AttrHasAttachment].(*types.AttributeValueMemberBOOL); ok {
		email.HasAttachment = v.Value
	}

	email.From = unmarshalAddressList(item[AttrFrom])
	email.Sender = unmarshalAddressList(item[AttrSender])
	email.To = unmarshalAddressList(item[AttrTo])
	email.CC = unmarshalAddressList(item[AttrCC])
	email.Bcc = unmarshalAddressList(item[AttrBcc])
	email.ReplyTo = unmarshalAddressList(item[AttrReplyTo])
	email.MessageID = unmarshalStringList(item[AttrMessageID])
	email.InReplyTo = unmarshalStringList(item[AttrInReplyTo])
	email.References = unmarshalStringList(item[AttrReferences])
	email.Attachments = unmarshalAttachments(item[AttrAttachments])

	return email
}

func numberAttr(item map[string]types.AttributeValue, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func marshalBoolMap(m map[string]bool) types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		if v {
			out[k] = &types.AttributeValueMemberBOOL{Value: true}
		}
	}
	return &types.AttributeValueMemberM{Value: out}
}

func unmarshalBoolMap(av types.AttributeValue) map[string]bool {
	out := make(map[string]bool)
	if m, ok := av.(*types.AttributeValueMemberM); ok {
		for k, v := range m.Value {
			if b, ok := v.(*types.AttributeValueMemberBOOL); ok && b.Value {
				out[k] = true
			}
		}
	}
	return out
}

func copyBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		if v {
			out[k] = true
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// marshalAddressList converts a slice of EmailAddress to DynamoDB list attribute.
func marshalAddressList(addrs []EmailAddress) types.AttributeValue {
	list := make([]types.AttributeValue, len(addrs))
	for i, addr := range addrs {
		list[i] = &types.AttributeValueMemberM{
			Value: map[string]types.AttributeValue{
				AttrName:  &types.AttributeValueMemberS{Value: addr.Name},
				AttrEmail: &types.AttributeValueMemberS{Value: addr.Email},
			},
		}
	}
	return &types.AttributeValueMemberL{Value: list}
}

// unmarshalAddressList converts a DynamoDB list attribute to EmailAddress values.
func unmarshalAddressList(av types.AttributeValue) []EmailAddress {
	l, ok := av.(*types.AttributeValueMemberL)
	if !ok {
		return nil
	}
	addrs := make([]EmailAddress, 0, len(l.Value))
	for _, item := range l.Value {
		if m, ok := item.(*types.AttributeValueMemberM); ok {
			addrs = append(addrs, EmailAddress{
				Name:  dynamo.StringAttr(m.Value, AttrName),
				Email: dynamo.StringAttr(m.Value, AttrEmail),
			})
		}
	}
	return addrs
}

// marshalStringList converts strings to a DynamoDB list attribute.
func marshalStringList(strs []string) types.AttributeValue {
	list := make([]types.AttributeValue, len(strs))
	for i, s := range strs {
		list[i] = &types.AttributeValueMemberS{Value: s}
	}
	return &types.AttributeValueMemberL{Value: list}
}

// unmarshalStringList converts a DynamoDB list attribute to strings.
func unmarshalStringList(av types.AttributeValue) []string {
	l, ok := av.(*types.AttributeValueMemberL)
	if !ok {
		return nil
	}
	strs := make([]string, 0, len(l.Value))
	for _, item := range l.Value {
		if s, ok := item.(*types.AttributeValueMemberS); ok {
			strs = append(strs, s.Value)
		}
	}
	return strs
}

// MarshalAttachment converts attachment metadata to DynamoDB attribute values.
func MarshalAttachment(a Attachment) map[string]types.AttributeValue {
	m := map[string]types.AttributeValue{
		AttrBlobID:   &types.AttributeValueMemberS{Value: a.BlobID},
		AttrType:     &types.AttributeValueMemberS{Value: a.Type},
		AttrSize:     &types.AttributeValueMemberN{Value: strconv.FormatInt(a.Size, 10)},
		AttrIsInline: &types.AttributeValueMemberBOOL{Value: a.IsInline},
	}
	if a.Name != "" {
		m[AttrName] = &types.AttributeValueMemberS{Value: a.Name}
	}
	if a.CID != "" {
		m[AttrCID] = &types.AttributeValueMemberS{Value: a.CID}
	}
	return m
}

// UnmarshalAttachment converts DynamoDB attribute values to attachment metadata.
func UnmarshalAttachment(m map[string]types.AttributeValue) Attachment {
	a := Attachment{
		BlobID: dynamo.StringAttr(m, AttrBlobID),
		Type:   dynamo.StringAttr(m, AttrType),
		Name:   dynamo.StringAttr(m, AttrName),
		CID:    dynamo.StringAttr(m, AttrCID),
		Size:   numberAttr(m, AttrSize),
	}
	if v, ok := m[AttrIsInline].(*types.AttributeValueMemberBOOL); ok {
		a.IsInline = v.Value
	}
	return a
}

func marshalAttachments(list []Attachment) types.AttributeValue {
	out := make([]types.AttributeValue, len(list))
	for i, a := range list {
		out[i] = &types.AttributeValueMemberM{Value: MarshalAttachment(a)}
	}
	return &types.AttributeValueMemberL{Value: out}
}

func unmarshalAttachments(av types.AttributeValue) []Attachment {
	l, ok := av.(*types.AttributeValueMemberL)
	if !ok {
		return nil
	}
	out := make([]Attachment, 0, len(l.Value))
	for _, v := range l.Value {
		if m, ok := v.(*types.AttributeValueMemberM); ok {
			out = append(out, UnmarshalAttachment(m.Value))
		}
	}
	return out
}
