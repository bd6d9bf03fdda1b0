package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jarrod-lowe/jmap-service-mail/internal/dynamo/dynamotest"
)

func TestRepository_ListIdentities_Paginates(t *testing.T) {
	page := 0
	client := &dynamotest.Client{
		QueryFunc: func(ctx context.Context, input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			page++
			if got := input.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value; got != "IDENTITY#" {
				t.Errorf("prefix = %q", got)
			}
			if page == 1 {
				return &dynamodb.QueryOutput{
					Items: []map[string]types.AttributeValue{{
						"identityId": &types.AttributeValueMemberS{Value: "primary"},
						"email":      &types.AttributeValueMemberS{Value: "alice@example.com"},
						"name":       &types.AttributeValueMemberS{Value: "Alice"},
					}},
					LastEvaluatedKey: map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: "x"}},
				}, nil
			}
			if input.ExclusiveStartKey == nil {
				t.Error("second page requested without start key")
			}
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{{
				"identityId": &types.AttributeValueMemberS{Value: "alias"},
				"email":      &types.AttributeValueMemberS{Value: "al@example.com"},
			}}}, nil
		},
	}

	got, err := NewRepository(client, "t").ListIdentities(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("ListIdentities() error = %v", err)
	}
	if len(got) != 2 || got[0].Email != "alice@example.com" || got[0].Name != "Alice" || got[1].IdentityID != "alias" {
		t.Errorf("ListIdentities() = %+v", got)
	}
}

func TestRepository_CreateIdentity(t *testing.T) {
	var put *dynamodb.PutItemInput
	client := &dynamotest.Client{
		PutItemFunc: func(ctx context.Context, input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			put = input
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	created, err := NewRepository(client, "t").CreateIdentity(context.Background(), Item{
		AccountID: "user-123", IdentityID: "primary", Email: "alice@example.com",
	})
	if err != nil || !created {
		t.Fatalf("CreateIdentity() = %v, %v", created, err)
	}
	if sk := put.Item["sk"].(*types.AttributeValueMemberS).Value; sk != "IDENTITY#primary" {
		t.Errorf("sk = %q", sk)
	}
	if _, ok := put.Item["name"]; ok {
		t.Error("empty name should not be written")
	}
	if aws.ToString(put.ConditionExpression) != "attribute_not_exists(pk)" {
		t.Errorf("condition = %q", aws.ToString(put.ConditionExpression))
	}
}

func TestRepository_CreateIdentity_Exists(t *testing.T) {
	client := &dynamotest.Client{
		PutItemFunc: func(ctx context.Context, input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	created, err := NewRepository(client, "t").CreateIdentity(context.Background(), Item{AccountID: "u", IdentityID: "p"})
	if err != nil || created {
		t.Errorf("CreateIdentity() = %v, %v, want false, nil", created, err)
	}
}

func TestRepository_CreateIdentity_Error(t *testing.T) {
	client := &dynamotest.Client{
		PutItemFunc: func(ctx context.Context, input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, errors.New("boom")
		},
	}
	if _, err := NewRepository(client, "t").CreateIdentity(context.Background(), Item{}); err == nil {
		t.Error("CreateIdentity() error = nil")
	}
}

func TestAllows(t *testing.T) {
	ids := []Item{{Email: "Alice@Example.com"}}
	if !Allows(ids, "alice@example.com") {
		t.Error("Allows() = false for case-insensitive match")
	}
	if Allows(ids, "mallory@example.com") {
		t.Error("Allows() = true for unknown address")
	}
	if Allows(nil, "alice@example.com") {
		t.Error("Allows() = true with no identities")
	}
}
