// Package main implements the account-init SQS consumer Lambda handler.
// It listens to account.created events and provisions the system mailboxes
// and the primary sending identity of the account.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/dbclient"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-mail/internal/config"
	"github.com/jarrod-lowe/jmap-service-mail/internal/identity"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
)

var logger = logging.New()

// primaryIdentityID is the id of the identity provisioned with the account.
const primaryIdentityID = "primary"

// EventPayload represents an account event.
type EventPayload struct {
	EventType  string         `json:"eventType"`
	OccurredAt string         `json:"occurredAt"`
	AccountID  string         `json:"accountId"`
	Data       map[string]any `json:"data,omitempty"`
}

// MailboxRepository defines the interface for mailbox operations.
type MailboxRepository interface {
	GetMailbox(ctx context.Context, accountID, mailboxID string) (*mailbox.MailboxItem, error)
	CreateMailbox(ctx context.Context, m *mailbox.MailboxItem) error
}

// StateRepository defines the interface for state tracking operations.
type StateRepository interface {
	IncrementStateAndLogChange(ctx context.Context, accountID string, objectType state.ObjectType, objectID string, changeType state.ChangeType) (int64, error)
}

// IdentityRepository defines the interface for identity operations.
type IdentityRepository interface {
	CreateIdentity(ctx context.Context, item identity.Item) (bool, error)
}

// handler implements the account-init SQS consumer logic.
type handler struct {
	mailboxRepo  MailboxRepository
	stateRepo    StateRepository
	identityRepo IdentityRepository
	mailDomain   string
	now          func() time.Time
}

// newHandler creates a new handler.
func newHandler(mailboxRepo MailboxRepository, stateRepo StateRepository, identityRepo IdentityRepository, mailDomain string) *handler {
	return &handler{
		mailboxRepo:  mailboxRepo,
		stateRepo:    stateRepo,
		identityRepo: identityRepo,
		mailDomain:   mailDomain,
		now:          time.Now,
	}
}

// handle processes an SQS event containing account event messages.
func (h *handler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	ctx, span := tracing.Tracer("jmap-account-init").Start(ctx, "AccountInitHandler")
	defer span.End()

	var failures []events.SQSBatchItemFailure

	for _, record := range event.Records {
		var payload EventPayload
		if err := json.Unmarshal([]byte(record.Body), &payload); err != nil {
			logger.ErrorContext(ctx, "Failed to parse SQS message",
				slog.String("message_id", record.MessageId),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		if payload.EventType != "account.created" {
			logger.InfoContext(ctx, "Ignoring non-account.created event",
				slog.String("event_type", payload.EventType),
				slog.String("account_id", payload.AccountID),
			)
			continue
		}

		if err := h.provision(ctx, payload); err != nil {
			logger.ErrorContext(ctx, "Failed to provision account",
				slog.String("account_id", payload.AccountID),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	logger.InfoContext(ctx, "Account init batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("failures", len(failures)),
	)

	return events.SQSEventResponse{
		BatchItemFailures: failures,
	}, nil
}

func (h *handler) provision(ctx context.Context, payload EventPayload) error {
	if err := h.provisionMailboxes(ctx, payload.AccountID); err != nil {
		return err
	}
	return h.provisionIdentity(ctx, payload)
}

// provisionMailboxes creates the system mailboxes that do not exist yet.
// Redelivered events are harmless.
func (h *handler) provisionMailboxes(ctx context.Context, accountID string) error {
	now := h.now().UTC()
	created := 0

	for i, role := range mailbox.SystemRoles {
		id := mailbox.SystemMailboxID(role)
		_, err := h.mailboxRepo.GetMailbox(ctx, accountID, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, mailbox.ErrMailboxNotFound) {
			return err
		}

		err = h.mailboxRepo.CreateMailbox(ctx, &mailbox.MailboxItem{
			AccountID:    accountID,
			MailboxID:    id,
			Name:         role.DisplayName(),
			Role:         role,
			SortOrder:    i,
			IsSubscribed: true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if errors.Is(err, mailbox.ErrMailboxExists) || errors.Is(err, mailbox.ErrRoleAlreadyExists) {
			continue
		}
		if err != nil {
			return err
		}
		created++

		if _, err := h.stateRepo.IncrementStateAndLogChange(ctx, accountID, state.ObjectTypeMailbox, id, state.ChangeTypeCreated); err != nil {
			logger.ErrorContext(ctx, "Failed to track mailbox state change",
				slog.String("account_id", accountID),
				slog.String("mailbox_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if created == 0 {
		logger.InfoContext(ctx, "All mailboxes already exist",
			slog.String("account_id", accountID),
		)
		return nil
	}
	logger.InfoContext(ctx, "Provisioned system mailboxes",
		slog.String("account_id", accountID),
		slog.Int("count", created),
	)
	return nil
}

// provisionIdentity creates the primary identity. The address comes from
// the event data, or is the account id at the mail domain.
func (h *handler) provisionIdentity(ctx context.Context, payload EventPayload) error {
	address, _ := payload.Data["email"].(string)
	if address == "" && h.mailDomain != "" {
		address = payload.AccountID + "@" + h.mailDomain
	}
	if !strings.Contains(address, "@") {
		logger.WarnContext(ctx, "No address for primary identity",
			slog.String("account_id", payload.AccountID),
		)
		return nil
	}
	name, _ := payload.Data["name"].(string)

	written, err := h.identityRepo.CreateIdentity(ctx, identity.Item{
		AccountID:  payload.AccountID,
		IdentityID: primaryIdentityID,
		Email:      address,
		Name:       name,
	})
	if err != nil {
		return err
	}
	if written {
		logger.InfoContext(ctx, "Provisioned primary identity",
			slog.String("account_id", payload.AccountID),
		)
	}
	return nil
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Require("EMAIL_TABLE_NAME")
	}
	if err != nil {
		logger.Error("FATAL: Failed to load configuration", slog.String("error", err.Error()))
		panic(err)
	}

	dynamoClient := dbclient.NewClient(result.Config)

	// Warm the DynamoDB connection during init
	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	_, _ = dynamoClient.GetItem(warmCtx, &dynamodb.GetItemInput{
		TableName: aws.String(cfg.TableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: "WARMUP"},
			"sk": &types.AttributeValueMemberS{Value: "WARMUP"},
		},
	})
	cancel()

	h := newHandler(
		mailbox.NewDynamoDBRepository(dynamoClient, cfg.TableName),
		state.NewRepository(dynamoClient, cfg.TableName, cfg.StateTTLDays),
		identity.NewRepository(dynamoClient, cfg.TableName),
		cfg.MailDomain,
	)
	result.Start(h.handle)
}
