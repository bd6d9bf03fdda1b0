// Package attachment stores attachment metadata records and checks that
// attachment references resolve before a message is built.
package attachment

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jarrod-lowe/jmap-service-mail/internal/dynamo"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
)

// AttrOwnerEmailID names the attribute holding the email an attachment
// record was written for.
const AttrOwnerEmailID = "emailId"

// ErrNotFound is returned when no attachment record exists for a blob id.
var ErrNotFound = errors.New("attachment not found")

// Item is a stored attachment record.
type Item struct {
	email.Attachment
	EmailID string
}

// Store reads attachment records.
type Store struct {
	client    dynamo.Client
	tableName string
}

// NewStore creates a new Store.
func NewStore(client dynamo.Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// GetAttachment returns the attachment record for blobID.
func (s *Store) GetAttachment(ctx context.Context, accountID, blobID string) (*Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       dynamo.Key(dynamo.AccountPK(accountID), email.AttachmentSK(blobID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return &Item{
		Attachment: email.UnmarshalAttachment(out.Item),
		EmailID:    dynamo.StringAttr(out.Item, AttrOwnerEmailID),
	}, nil
}

// BuildPutItem returns the transaction item recording attachment a of
// emailID. It is written together with the email it belongs to.
func BuildPutItem(tableName, accountID, emailID string, a email.Attachment) types.TransactWriteItem {
	item := email.MarshalAttachment(a)
	item[dynamo.AttrPK] = &types.AttributeValueMemberS{Value: dynamo.AccountPK(accountID)}
	item[dynamo.AttrSK] = &types.AttributeValueMemberS{Value: email.AttachmentSK(a.BlobID)}
	item[AttrOwnerEmailID] = &types.AttributeValueMemberS{Value: emailID}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(tableName),
			Item:      item,
		},
	}
}
