package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jarrod-lowe/jmap-service-mail/internal/dynamo"
)

// Error types for repository operations.
var (
	ErrMailboxNotFound   = errors.New("mailbox not found")
	ErrMailboxExists     = errors.New("mailbox already exists")
	ErrNameTaken         = errors.New("mailbox name already taken under parent")
	ErrRoleAlreadyExists = errors.New("mailbox with this role already exists")
	ErrTransactionFailed = errors.New("transaction failed")
)

// DynamoDBRepository stores mailboxes, their name locks and role locks.
type DynamoDBRepository struct {
	client    dynamo.Client
	tableName string
}

// NewDynamoDBRepository creates a new DynamoDBRepository.
func NewDynamoDBRepository(client dynamo.Client, tableName string) *DynamoDBRepository {
	return &DynamoDBRepository{
		client:    client,
		tableName: tableName,
	}
}

// GetMailbox retrieves a single mailbox by ID.
func (r *DynamoDBRepository) GetMailbox(ctx context.Context, accountID, mailboxID string) (*MailboxItem, error) {
	mailbox := &MailboxItem{AccountID: accountID, MailboxID: mailboxID}

	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       dynamo.Key(mailbox.PK(), mailbox.SK()),
	})
	if err != nil {
		return nil, err
	}
	if output.Item == nil {
		return nil, ErrMailboxNotFound
	}

	return unmarshalMailboxItem(output.Item), nil
}

// GetAllMailboxes retrieves all mailboxes for an account.
func (r *DynamoDBRepository) GetAllMailboxes(ctx context.Context, accountID string) ([]*MailboxItem, error) {
	return r.query(ctx, accountID, "", nil)
}

// GetChildren retrieves the direct children of a mailbox.
func (r *DynamoDBRepository) GetChildren(ctx context.Context, accountID, parentID string) ([]*MailboxItem, error) {
	return r.query(ctx, accountID, "#parent = :parent", map[string]types.AttributeValue{
		":parent": &types.AttributeValueMemberS{Value: parentID},
	})
}

func (r *DynamoDBRepository) query(ctx context.Context, accountID, filter string, filterValues map[string]types.AttributeValue) ([]*MailboxItem, error) {
	values := map[string]types.AttributeValue{
		":pk":     &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
		":prefix": &types.AttributeValueMemberS{Value: PrefixMailbox},
	}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
	}
	if filter != "" {
		input.FilterExpression = aws.String(filter)
		input.ExpressionAttributeNames = map[string]string{"#parent": AttrParentID}
		for k, v := range filterValues {
			values[k] = v
		}
	}
	input.ExpressionAttributeValues = values

	var mailboxes []*MailboxItem
	for {
		output, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, item := range output.Items {
			mailboxes = append(mailboxes, unmarshalMailboxItem(item))
		}
		if len(output.LastEvaluatedKey) == 0 {
			return mailboxes, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// BuildCreateMailboxItems returns the transaction items that create a mailbox
// together with its name lock and, for system mailboxes, its role lock.
func (r *DynamoDBRepository) BuildCreateMailboxItems(mailbox *MailboxItem) []types.TransactWriteItem {
	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                marshalMailboxItem(mailbox),
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		}},
		{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                r.lockItem(mailbox.AccountID, mailbox.NameLockSK(), mailbox.MailboxID),
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		}},
	}
	if mailbox.Role != RoleNone {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                r.lockItem(mailbox.AccountID, RoleLockSK(mailbox.Role), mailbox.MailboxID),
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		}})
	}
	return items
}

// CreateMailbox creates a mailbox, reserving its name under its parent.
func (r *DynamoDBRepository) CreateMailbox(ctx context.Context, mailbox *MailboxItem) error {
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: r.BuildCreateMailboxItems(mailbox),
	})
	switch {
	case err == nil:
		return nil
	case dynamo.ConditionFailedAt(err, 0):
		return ErrMailboxExists
	case dynamo.ConditionFailedAt(err, 1):
		return ErrNameTaken
	case dynamo.ConditionFailedAt(err, 2):
		return ErrRoleAlreadyExists
	}
	return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
}

// RenameMailbox moves a mailbox to newName under newParentID, swapping its
// name lock in the same transaction. The item is updated in place on success.
func (r *DynamoDBRepository) RenameMailbox(ctx context.Context, mailbox *MailboxItem, newParentID, newName string) error {
	now := time.Now().UTC()

	update := &types.Update{
		TableName:                aws.String(r.tableName),
		Key:                      dynamo.Key(mailbox.PK(), mailbox.SK()),
		ConditionExpression:      aws.String("attribute_exists(pk)"),
		ExpressionAttributeNames: map[string]string{"#name": AttrName, "#parent": AttrParentID},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":      &types.AttributeValueMemberS{Value: newName},
			":updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	if newParentID != "" {
		update.UpdateExpression = aws.String("SET #name = :name, #parent = :parent, updatedAt = :updatedAt")
		update.ExpressionAttributeValues[":parent"] = &types.AttributeValueMemberS{Value: newParentID}
	} else {
		update.UpdateExpression = aws.String("SET #name = :name, updatedAt = :updatedAt REMOVE #parent")
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: update},
			{Delete: &types.Delete{
				TableName: aws.String(r.tableName),
				Key:       dynamo.Key(mailbox.PK(), mailbox.NameLockSK()),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                r.lockItem(mailbox.AccountID, NameLockSK(newParentID, newName), mailbox.MailboxID),
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
		},
	})
	switch {
	case err == nil:
		mailbox.ParentID = newParentID
		mailbox.Name = newName
		mailbox.UpdatedAt = now
		return nil
	case dynamo.ConditionFailedAt(err, 0):
		return ErrMailboxNotFound
	case dynamo.ConditionFailedAt(err, 2):
		return ErrNameTaken
	}
	return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
}

// UpdateMailbox writes the mutable display attributes of a mailbox.
func (r *DynamoDBRepository) UpdateMailbox(ctx context.Context, mailbox *MailboxItem) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              dynamo.Key(mailbox.PK(), mailbox.SK()),
		UpdateExpression: aws.String("SET sortOrder = :sortOrder, isSubscribed = :isSubscribed, updatedAt = :updatedAt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sortOrder":    &types.AttributeValueMemberN{Value: strconv.Itoa(mailbox.SortOrder)},
			":isSubscribed": &types.AttributeValueMemberBOOL{Value: mailbox.IsSubscribed},
			":updatedAt":    &types.AttributeValueMemberS{Value: mailbox.UpdatedAt.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		if dynamo.IsConditionFailed(err) {
			return ErrMailboxNotFound
		}
		return err
	}
	return nil
}

// SetSharing replaces the ACL of a mailbox. An empty ACL removes sharing.
func (r *DynamoDBRepository) SetSharing(ctx context.Context, accountID, mailboxID string, acl ACL) error {
	mailbox := &MailboxItem{AccountID: accountID, MailboxID: mailboxID}

	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      dynamo.Key(mailbox.PK(), mailbox.SK()),
		ExpressionAttributeNames: map[string]string{"#acl": AttrSharedWith},
		ConditionExpression:      aws.String("attribute_exists(pk)"),
	}
	if len(acl) == 0 {
		input.UpdateExpression = aws.String("REMOVE #acl")
	} else {
		input.UpdateExpression = aws.String("SET #acl = :acl")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{":acl": marshalACL(acl)}
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		if dynamo.IsConditionFailed(err) {
			return ErrMailboxNotFound
		}
		return err
	}
	return nil
}

// DeleteMailbox deletes a mailbox and releases its name and role locks.
func (r *DynamoDBRepository) DeleteMailbox(ctx context.Context, mailbox *MailboxItem) error {
	items := []types.TransactWriteItem{
		{Delete: &types.Delete{
			TableName:           aws.String(r.tableName),
			Key:                 dynamo.Key(mailbox.PK(), mailbox.SK()),
			ConditionExpression: aws.String("attribute_exists(pk)"),
		}},
		{Delete: &types.Delete{
			TableName: aws.String(r.tableName),
			Key:       dynamo.Key(mailbox.PK(), mailbox.NameLockSK()),
		}},
	}
	if mailbox.Role != RoleNone {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(r.tableName),
			Key:       dynamo.Key(mailbox.PK(), RoleLockSK(mailbox.Role)),
		}})
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	switch {
	case err == nil:
		return nil
	case dynamo.ConditionFailedAt(err, 0):
		return ErrMailboxNotFound
	}
	return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
}

// BuildCountsUpdate returns a transaction item adjusting the message counters
// of a mailbox by the given deltas.
func (r *DynamoDBRepository) BuildCountsUpdate(accountID, mailboxID string, totalDelta, unreadDelta int) types.TransactWriteItem {
	return BuildCountsUpdate(r.tableName, accountID, mailboxID, totalDelta, unreadDelta)
}

// BuildCountsUpdate is the table-explicit form used by other repositories
// sharing the table.
func BuildCountsUpdate(tableName, accountID, mailboxID string, totalDelta, unreadDelta int) types.TransactWriteItem {
	mailbox := &MailboxItem{AccountID: accountID, MailboxID: mailboxID}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:        aws.String(tableName),
			Key:              dynamo.Key(mailbox.PK(), mailbox.SK()),
			UpdateExpression: aws.String("ADD totalEmails :total, unreadEmails :unread SET updatedAt = :updatedAt"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":total":     &types.AttributeValueMemberN{Value: strconv.Itoa(totalDelta)},
				":unread":    &types.AttributeValueMemberN{Value: strconv.Itoa(unreadDelta)},
				":updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			},
			ConditionExpression: aws.String("attribute_exists(pk)"),
		},
	}
}

func (r *DynamoDBRepository) lockItem(accountID, sk, mailboxID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK:  &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
		dynamo.AttrSK:  &types.AttributeValueMemberS{Value: sk},
		AttrMailboxID: &types.AttributeValueMemberS{Value: mailboxID},
	}
}

// marshalMailboxItem converts a MailboxItem to DynamoDB attribute values.
func marshalMailboxItem(mailbox *MailboxItem) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		dynamo.AttrPK:    &types.AttributeValueMemberS{Value: mailbox.PK()},
		dynamo.AttrSK:    &types.AttributeValueMemberS{Value: mailbox.SK()},
		AttrMailboxID:    &types.AttributeValueMemberS{Value: mailbox.MailboxID},
		AttrAccountID:    &types.AttributeValueMemberS{Value: mailbox.AccountID},
		AttrName:         &types.AttributeValueMemberS{Value: mailbox.Name},
		AttrSortOrder:    &types.AttributeValueMemberN{Value: strconv.Itoa(mailbox.SortOrder)},
		AttrTotalEmails:  &types.AttributeValueMemberN{Value: strconv.Itoa(mailbox.TotalEmails)},
		AttrUnreadEmails: &types.AttributeValueMemberN{Value: strconv.Itoa(mailbox.UnreadEmails)},
		AttrIsSubscribed: &types.AttributeValueMemberBOOL{Value: mailbox.IsSubscribed},
		AttrCreatedAt:    &types.AttributeValueMemberS{Value: mailbox.CreatedAt.UTC().Format(time.RFC3339)},
		AttrUpdatedAt:    &types.AttributeValueMemberS{Value: mailbox.UpdatedAt.UTC().Format(time.RFC3339)},
	}
	if mailbox.ParentID != "" {
		item[AttrParentID] = &types.AttributeValueMemberS{Value: mailbox.ParentID}
	}
	if mailbox.Role != RoleNone {
		item[AttrRole] = &types.AttributeValueMemberS{Value: mailbox.Role.String()}
	}
	if len(mailbox.SharedWith) > 0 {
		item[AttrSharedWith] = marshalACL(mailbox.SharedWith)
	}
	return item
}

func marshalACL(acl ACL) types.AttributeValue {
	m := make(map[string]types.AttributeValue, len(acl))
	for user, rights := range acl {
		m[user] = &types.AttributeValueMemberS{Value: RightsString(rights)}
	}
	return &types.AttributeValueMemberM{Value: m}
}

func unmarshalACL(av types.AttributeValue) ACL {
	m, ok := av.(*types.AttributeValueMemberM)
	if !ok {
		return nil
	}
	acl := make(ACL, len(m.Value))
	for user, v := range m.Value {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		rights := make([]Right, 0, len(s.Value))
		for _, r := range s.Value {
			rights = append(rights, Right(r))
		}
		acl[user] = rights
	}
	return acl
}

// unmarshalMailboxItem converts DynamoDB attribute values to a MailboxItem.
func unmarshalMailboxItem(item map[string]types.AttributeValue) *MailboxItem {
	mailbox := &MailboxItem{
		MailboxID: dynamo.StringAttr(item, AttrMailboxID),
		AccountID: dynamo.StringAttr(item, AttrAccountID),
		Name:      dynamo.StringAttr(item, AttrName),
		ParentID:  dynamo.StringAttr(item, AttrParentID),
	}

	if role, err := ParseRole(dynamo.StringAttr(item, AttrRole)); err == nil {
		mailbox.Role = role
	}
	if v, ok := item[AttrSortOrder].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(v.Value); err == nil {
			mailbox.SortOrder = n
		}
	}
	if v, ok := item[AttrTotalEmails].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(v.Value); err == nil {
			mailbox.TotalEmails = n
		}
	}
	if v, ok := item[AttrUnreadEmails].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(v.Value); err == nil {
			mailbox.UnreadEmails = n
		}
	}
	if v, ok := item[AttrIsSubscribed].(*types.AttributeValueMemberBOOL); ok {
		mailbox.IsSubscribed = v.Value
	}
	if v, ok := item[AttrSharedWith]; ok {
		mailbox.SharedWith = unmarshalACL(v)
	}
	if t, err := time.Parse(time.RFC3339, dynamo.StringAttr(item, AttrCreatedAt)); err == nil {
		mailbox.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, dynamo.StringAttr(item, AttrUpdatedAt)); err == nil {
		mailbox.UpdatedAt = t
	}

	return mailbox
}
