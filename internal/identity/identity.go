// Package identity stores the addresses an account may send from.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jarrod-lowe/jmap-service-mail/internal/dynamo"
)

// PrefixIdentity is the sort key prefix of identity records.
const PrefixIdentity = "IDENTITY#"

// Attribute names for identity records.
const (
	AttrIdentityID = "identityId"
	AttrEmail      = "email"
	AttrName       = "name"
)

// Item is one sending identity of an account.
type Item struct {
	AccountID  string
	IdentityID string
	Email      string
	Name       string
}

// Repository reads and writes identity records.
type Repository struct {
	client    dynamo.Client
	tableName string
}

// NewRepository creates a new Repository.
func NewRepository(client dynamo.Client, tableName string) *Repository {
	return &Repository{client: client, tableName: tableName}
}

// ListIdentities returns every identity of the account.
func (r *Repository) ListIdentities(ctx context.Context, accountID string) ([]Item, error) {
	var items []Item
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)},
				":prefix": &types.AttributeValueMemberS{Value: PrefixIdentity},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query identities: %w", err)
		}
		for _, av := range out.Items {
			items = append(items, Item{
				AccountID:  accountID,
				IdentityID: dynamo.StringAttr(av, AttrIdentityID),
				Email:      dynamo.StringAttr(av, AttrEmail),
				Name:       dynamo.StringAttr(av, AttrName),
			})
		}
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// CreateIdentity writes an identity unless one with the same id exists.
// It reports whether the identity was written.
func (r *Repository) CreateIdentity(ctx context.Context, item Item) (bool, error) {
	av := map[string]types.AttributeValue{
		dynamo.AttrPK:  &types.AttributeValueMemberS{Value: dynamo.AccountPK(item.AccountID)},
		dynamo.AttrSK:  &types.AttributeValueMemberS{Value: PrefixIdentity + item.IdentityID},
		AttrIdentityID: &types.AttributeValueMemberS{Value: item.IdentityID},
		AttrEmail:      &types.AttributeValueMemberS{Value: item.Email},
	}
	if item.Name != "" {
		av[AttrName] = &types.AttributeValueMemberS{Value: item.Name}
	}
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if dynamo.IsConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to put identity: %w", err)
	}
	return true, nil
}

// Allows reports whether address matches one of the identities. Addresses
// compare case-insensitively.
func Allows(identities []Item, address string) bool {
	for _, id := range identities {
		if strings.EqualFold(id.Email, address) {
			return true
		}
	}
	return false
}
