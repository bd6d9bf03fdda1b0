// Package upload reads the records of pending client uploads.
package upload

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

// PrefixUpload is the sort key prefix of upload records.
const PrefixUpload = "UPLOAD#"

// Attribute names for upload records.
const (
	AttrBlobID    = "blobId"
	AttrType      = "type"
	AttrSize      = "size"
	AttrExpiresAt = "expiresAt"
)

// ErrNotFound is returned when no upload record exists for a blob id.
var ErrNotFound = errors.New("upload not found")

// Item is a pending upload. The content lives in the blob store under BlobID.
type Item struct {
	AccountID string
	BlobID    string
	Type      string
	Size      int64
	ExpiresAt time.Time
}

// Expired reports whether the upload is no longer usable at now. An upload
// without an expiry never expires.
func (i *Item) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Repository reads upload records.
type Repository struct {
	client    dynamo.Client
	tableName string
}

// NewRepository creates a new Repository.
func NewRepository(client dynamo.Client, tableName string) *Repository {
	return &Repository{client: client, tableName: tableName}
}

// GetUpload returns the upload record for blobID.
func (r *Repository) GetUpload(ctx context.Context, accountID, blobID string) (*Item, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       dynamo.Key(dynamo.AccountPK(accountID), PrefixUpload+blobID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	item := &Item{
		AccountID: accountID,
		BlobID:    blobID,
		Type:      dynamo.StringAttr(out.Item, AttrType),
	}
	if v, ok := out.Item[AttrSize].(*types.AttributeValueMemberN); ok {
		item.Size, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	switch v := out.Item[AttrExpiresAt].(type) {
	case *types.AttributeValueMemberS:
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			item.ExpiresAt = t
		}
	case *types.AttributeValueMemberN:
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			item.ExpiresAt = time.Unix(n, 0).UTC()
		}
	}
	return item, nil
}
