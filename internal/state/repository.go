package state

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

// ErrTransactionFailed is returned when the state could not be advanced.
var ErrTransactionFailed = errors.New("transaction failed")

// Repository handles state tracking operations.
type Repository struct {
	client        dynamo.Client
	tableName     string
	retentionDays int
	maxAttempts   int
	now           func() time.Time
}

// stateAttempts bounds the optimistic retries of a state change.
const stateAttempts = 5

// NewRepository creates a new Repository.
func NewRepository(client dynamo.Client, tableName string, retentionDays int) *Repository {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Repository{
		client:        client,
		tableName:     tableName,
		retentionDays: retentionDays,
		maxAttempts:   stateAttempts,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// GetCurrentState returns the current state counter, or 0 if none exists yet.
func (r *Repository) GetCurrentState(ctx context.Context, accountID string, objectType ObjectType) (int64, error) {
	stateItem := &StateItem{AccountID: accountID, ObjectType: objectType}

	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       dynamo.Key(stateItem.PK(), stateItem.SK()),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get current state: %w", err)
	}
	if output.Item == nil {
		return 0, nil
	}

	if v, ok := output.Item[AttrCurrentState].(*types.AttributeValueMemberN); ok {
		state, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse state: %w", err)
		}
		return state, nil
	}
	return 0, nil
}

// IncrementStateAndLogChange advances the state by one and logs the change
// in a single transaction conditioned on the state it read. Concurrent
// writers for the same account and type are serialised by retrying with a
// fresh read. Returns the new state.
func (r *Repository) IncrementStateAndLogChange(ctx context.Context, accountID string, objectType ObjectType, objectID string, changeType ChangeType) (int64, error) {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		var current int64
		if current, err = r.GetCurrentState(ctx, accountID, objectType); err != nil {
			return 0, err
		}

		_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: r.changeItems(accountID, objectType, current, objectID, changeType),
		})
		if err == nil {
			return current + 1, nil
		}
		if !dynamo.ConditionFailedAt(err, 0) && !dynamo.ConditionFailedAt(err, 1) {
			break
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
}

// changeItems moves the counter from current to current+1 and writes the
// change record for the new state.
func (r *Repository) changeItems(accountID string, objectType ObjectType, current int64, objectID string, changeType ChangeType) []types.TransactWriteItem {
	now := r.now()
	stateItem := &StateItem{AccountID: accountID, ObjectType: objectType}
	record := &ChangeRecord{
		AccountID:  accountID,
		ObjectType: objectType,
		State:      current + 1,
		ObjectID:   objectID,
		ChangeType: changeType,
		Timestamp:  now,
		TTL:        now.Add(time.Duration(r.retentionDays) * 24 * time.Hour).Unix(),
	}

	return []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:           aws.String(r.tableName),
				Key:                 dynamo.Key(stateItem.PK(), stateItem.SK()),
				UpdateExpression:    aws.String("SET " + AttrCurrentState + " = :next, " + AttrUpdatedAt + " = :now"),
				ConditionExpression: aws.String("attribute_not_exists(" + AttrCurrentState + ") OR " + AttrCurrentState + " = :cur"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":cur":  &types.AttributeValueMemberN{Value: strconv.FormatInt(current, 10)},
					":next": &types.AttributeValueMemberN{Value: strconv.FormatInt(record.State, 10)},
					":now":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
				},
			},
		},
		{
			Put: &types.Put{
				TableName:           aws.String(r.tableName),
				ConditionExpression: aws.String("attribute_not_exists(" + dynamo.AttrPK + ")"),
				Item:                marshalChangeRecord(record),
			},
		},
	}
}

func marshalChangeRecord(c *ChangeRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK:  &types.AttributeValueMemberS{Value: c.PK()},
		dynamo.AttrSK:  &types.AttributeValueMemberS{Value: c.SK()},
		AttrObjectID:   &types.AttributeValueMemberS{Value: c.ObjectID},
		AttrChangeType: &types.AttributeValueMemberS{Value: string(c.ChangeType)},
		AttrTimestamp:  &types.AttributeValueMemberS{Value: c.Timestamp.Format(time.RFC3339)},
		AttrState:      &types.AttributeValueMemberN{Value: strconv.FormatInt(c.State, 10)},
		AttrTTL:        &types.AttributeValueMemberN{Value: strconv.FormatInt(c.TTL, 10)},
	}
}
