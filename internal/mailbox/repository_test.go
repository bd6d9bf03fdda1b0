package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jarrod-lowe/jmap-service-mail/internal/dynamo/dynamotest"
)

func cancelledAt(n, i int) error {
	reasons := make([]types.CancellationReason, n)
	for j := range reasons {
		reasons[j].Code = aws.String("None")
	}
	reasons[i].Code = aws.String("ConditionalCheckFailed")
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestDynamoDBRepository_GetMailbox(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	client := &dynamotest.Client{
		GetItemFunc: func(ctx context.Context, input *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			if pk, ok := input.Key["pk"].(*types.AttributeValueMemberS); !ok || pk.Value != "ACCOUNT#user-123" {
				t.Errorf("unexpected pk: %v", input.Key["pk"])
			}
			if sk, ok := input.Key["sk"].(*types.AttributeValueMemberS); !ok || sk.Value != "MAILBOX#inbox" {
				t.Errorf("unexpected sk: %v", input.Key["sk"])
			}
			return &dynamodb.GetItemOutput{
				Item: map[string]types.AttributeValue{
					"mailboxId":    &types.AttributeValueMemberS{Value: "inbox"},
					"accountId":    &types.AttributeValueMemberS{Value: "user-123"},
					"name":         &types.AttributeValueMemberS{Value: "Inbox"},
					"role":         &types.AttributeValueMemberS{Value: "inbox"},
					"sortOrder":    &types.AttributeValueMemberN{Value: "0"},
					"totalEmails":  &types.AttributeValueMemberN{Value: "4"},
					"unreadEmails": &types.AttributeValueMemberN{Value: "1"},
					"isSubscribed": &types.AttributeValueMemberBOOL{Value: true},
					"sharedWith": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
						"bob@example.com": &types.AttributeValueMemberS{Value: "lr"},
					}},
					"createdAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
					"updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
				},
			}, nil
		},
	}

	repo := NewDynamoDBRepository(client, "test-table")
	got, err := repo.GetMailbox(context.Background(), "user-123", "inbox")
	if err != nil {
		t.Fatalf("GetMailbox() error = %v", err)
	}
	if got.Role != RoleInbox {
		t.Errorf("Role = %v, want RoleInbox", got.Role)
	}
	if got.TotalEmails != 4 || got.UnreadEmails != 1 {
		t.Errorf("counts = %d/%d, want 4/1", got.TotalEmails, got.UnreadEmails)
	}
	if RightsString(got.SharedWith["bob@example.com"]) != "lr" {
		t.Errorf("SharedWith = %v", got.SharedWith)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
}

func TestDynamoDBRepository_GetMailbox_NotFound(t *testing.T) {
	repo := NewDynamoDBRepository(&dynamotest.Client{}, "test-table")
	_, err := repo.GetMailbox(context.Background(), "user-123", "missing")
	if !errors.Is(err, ErrMailboxNotFound) {
		t.Errorf("error = %v, want ErrMailboxNotFound", err)
	}
}

func TestDynamoDBRepository_GetAllMailboxes_Paginates(t *testing.T) {
	calls := 0
	client := &dynamotest.Client{
		QueryFunc: func(ctx context.Context, input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			calls++
			if calls == 1 {
				return &dynamodb.QueryOutput{
					Items: []map[string]types.AttributeValue{
						{"mailboxId": &types.AttributeValueMemberS{Value: "a"}},
					},
					LastEvaluatedKey: map[string]types.AttributeValue{
						"pk": &types.AttributeValueMemberS{Value: "x"},
					},
				}, nil
			}
			if input.ExclusiveStartKey == nil {
				t.Error("second page requested without ExclusiveStartKey")
			}
			return &dynamodb.QueryOutput{
				Items: []map[string]types.AttributeValue{
					{"mailboxId": &types.AttributeValueMemberS{Value: "b"}},
				},
			}, nil
		},
	}

	repo := NewDynamoDBRepository(client, "test-table")
	got, err := repo.GetAllMailboxes(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("GetAllMailboxes() error = %v", err)
	}
	if len(got) != 2 || got[0].MailboxID != "a" || got[1].MailboxID != "b" {
		t.Errorf("GetAllMailboxes() = %v", got)
	}
}

func TestDynamoDBRepository_GetChildren_FiltersOnParent(t *testing.T) {
	client := &dynamotest.Client{
		QueryFunc: func(ctx context.Context, input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			if input.FilterExpression == nil {
				t.Fatal("expected a filter expression")
			}
			v, ok := input.ExpressionAttributeValues[":parent"].(*types.AttributeValueMemberS)
			if !ok || v.Value != "parent-1" {
				t.Errorf(":parent = %v", input.ExpressionAttributeValues[":parent"])
			}
			return &dynamodb.QueryOutput{}, nil
		},
	}

	repo := NewDynamoDBRepository(client, "test-table")
	if _, err := repo.GetChildren(context.Background(), "user-123", "parent-1"); err != nil {
		t.Fatalf("GetChildren() error = %v", err)
	}
}

func TestDynamoDBRepository_CreateMailbox(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	client := &dynamotest.Client{
		TransactWriteItemsFunc: func(ctx context.Context, input *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = input
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}

	repo := NewDynamoDBRepository(client, "test-table")
	err := repo.CreateMailbox(context.Background(), &MailboxItem{
		AccountID: "user-123", MailboxID: "mb-1", Name: "Work", IsSubscribed: true,
	})
	if err != nil {
		t.Fatalf("CreateMailbox() error = %v", err)
	}
	if len(captured.TransactItems) != 2 {
		t.Fatalf("len(TransactItems) = %d, want 2", len(captured.TransactItems))
	}
	lock := captured.TransactItems[1].Put.Item["sk"].(*types.AttributeValueMemberS).Value
	if lock != "MBOXNAME#ROOT#Work" {
		t.Errorf("lock sk = %q", lock)
	}
}

func TestDynamoDBRepository_CreateMailbox_WithRoleAddsRoleLock(t *testing.T) {
	repo := NewDynamoDBRepository(&dynamotest.Client{}, "test-table")
	items := repo.BuildCreateMailboxItems(&MailboxItem{AccountID: "u", MailboxID: "outbox", Name: "Outbox", Role: RoleOutbox})
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	sk := items[2].Put.Item["sk"].(*types.AttributeValueMemberS).Value
	if sk != "MBOXROLE#outbox" {
		t.Errorf("role lock sk = %q", sk)
	}
}

func TestDynamoDBRepository_CreateMailbox_Conflicts(t *testing.T) {
	tests := []struct {
		index int
		want  error
	}{
		{0, ErrMailboxExists},
		{1, ErrNameTaken},
		{2, ErrRoleAlreadyExists},
	}
	for _, tt := range tests {
		client := &dynamotest.Client{
			TransactWriteItemsFunc: func(ctx context.Context, input *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
				return nil, cancelledAt(3, tt.index)
			},
		}
		repo := NewDynamoDBRepository(client, "test-table")
		err := repo.CreateMailbox(context.Background(), &MailboxItem{AccountID: "u", MailboxID: "m", Name: "n", Role: RoleSent})
		if !errors.Is(err, tt.want) {
			t.Errorf("index %d: error = %v, want %v", tt.index, err, tt.want)
		}
	}
}

func TestDynamoDBRepository_RenameMailbox(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	client := &dynamotest.Client{
		TransactWriteItemsFunc: func(ctx context.Context, input *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = input
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	repo := NewDynamoDBRepository(client, "test-table")
	m := &MailboxItem{AccountID: "u", MailboxID: "m", Name: "Old"}

	if err := repo.RenameMailbox(context.Background(), m, "p", "New"); err != nil {
		t.Fatalf("RenameMailbox() error = %v", err)
	}
	if m.Name != "New" || m.ParentID != "p" {
		t.Errorf("mailbox not updated in place: %+v", m)
	}
	oldLock := captured.TransactItems[1].Delete.Key["sk"].(*types.AttributeValueMemberS).Value
	newLock := captured.TransactItems[2].Put.Item["sk"].(*types.AttributeValueMemberS).Value
	if oldLock != "MBOXNAME#ROOT#Old" || newLock != "MBOXNAME#p#New" {
		t.Errorf("locks = %q -> %q", oldLock, newLock)
	}
}

func TestDynamoDBRepository_RenameMailbox_NameTaken(t *testing.T) {
	client := &dynamotest.Client{
		TransactWriteItemsFunc: func(ctx context.Context, input *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, cancelledAt(3, 2)
		},
	}
	repo := NewDynamoDBRepository(client, "test-table")
	m := &MailboxItem{AccountID: "u", MailboxID: "m", Name: "Old"}

	err := repo.RenameMailbox(context.Background(), m, "", "Taken")
	if !errors.Is(err, ErrNameTaken) {
		t.Errorf("error = %v, want ErrNameTaken", err)
	}
	if m.Name != "Old" {
		t.Errorf("Name = %q after failed rename", m.Name)
	}
}

func TestDynamoDBRepository_SetSharing_EmptyRemoves(t *testing.T) {
	client := &dynamotest.Client{
		UpdateItemFunc: func(ctx context.Context, input *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			if *input.UpdateExpression != "REMOVE #acl" {
				t.Errorf("UpdateExpression = %q", *input.UpdateExpression)
			}
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	repo := NewDynamoDBRepository(client, "test-table")
	if err := repo.SetSharing(context.Background(), "u", "m", nil); err != nil {
		t.Fatalf("SetSharing() error = %v", err)
	}
}

func TestDynamoDBRepository_UpdateMailbox_NotFound(t *testing.T) {
	client := &dynamotest.Client{
		UpdateItemFunc: func(ctx context.Context, input *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	repo := NewDynamoDBRepository(client, "test-table")
	err := repo.UpdateMailbox(context.Background(), &MailboxItem{AccountID: "u", MailboxID: "m"})
	if !errors.Is(err, ErrMailboxNotFound) {
		t.Errorf("error = %v, want ErrMailboxNotFound", err)
	}
}

func TestDynamoDBRepository_DeleteMailbox(t *testing.T) {
	var captured *dynamodb.TransactWriteItemsInput
	client := &dynamotest.Client{
		TransactWriteItemsFunc: func(ctx context.Context, input *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			captured = input
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	repo := NewDynamoDBRepository(client, "test-table")
	if err := repo.DeleteMailbox(context.Background(), &MailboxItem{AccountID: "u", MailboxID: "m", Name: "Work"}); err != nil {
		t.Fatalf("DeleteMailbox() error = %v", err)
	}
	if len(captured.TransactItems) != 2 {
		t.Errorf("len(TransactItems) = %d, want 2", len(captured.TransactItems))
	}
}

func TestDynamoDBRepository_DeleteMailbox_NotFound(t *testing.T) {
	client := &dynamotest.Client{
		TransactWriteItemsFunc: func(ctx context.Context, input *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, cancelledAt(2, 0)
		},
	}
	repo := NewDynamoDBRepository(client, "test-table")
	err := repo.DeleteMailbox(context.Background(), &MailboxItem{AccountID: "u", MailboxID: "m", Name: "Work"})
	if !errors.Is(err, ErrMailboxNotFound) {
		t.Errorf("error = %v, want ErrMailboxNotFound", err)
	}
}

func TestBuildCountsUpdate(t *testing.T) {
	item := BuildCountsUpdate("t", "u", "m", 1, -1)
	if item.Update == nil {
		t.Fatal("expected Update item")
	}
	if v := item.Update.ExpressionAttributeValues[":unread"].(*types.AttributeValueMemberN).Value; v != "-1" {
		t.Errorf(":unread = %q, want -1", v)
	}
}
