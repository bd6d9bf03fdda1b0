// Package main implements the mailbox-cleanup SQS consumer Lambda handler.
// A destroyed mailbox is removed from every message it held; messages left
// in no mailbox are destroyed.
package main

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/dbclient"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-mail/internal/blobdelete"
	"github.com/jarrod-lowe/jmap-service-mail/internal/config"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailboxcleanup"
	"github.com/jarrod-lowe/jmap-service-mail/internal/queue"
	"github.com/jarrod-lowe/jmap-service-mail/internal/searchindex"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
)

var logger = logging.New()

// membershipRetries bounds the re-reads after a concurrent modification.
const membershipRetries = 3

// EmailRepository defines the interface for email operations needed by cleanup.
type EmailRepository interface {
	QueryEmailsByMailbox(ctx context.Context, accountID, mailboxID string) ([]string, error)
	GetEmail(ctx context.Context, accountID, emailID string) (*email.EmailItem, error)
	SetMailboxes(ctx context.Context, e *email.EmailItem, mailboxIDs map[string]bool) error
	DeleteEmails(ctx context.Context, accountID string, emailIDs []string) ([]*email.EmailItem, []string, error)
}

// StateRepository defines the interface for state tracking operations.
type StateRepository interface {
	IncrementStateAndLogChange(ctx context.Context, accountID string, objectType state.ObjectType, objectID string, changeType state.ChangeType) (int64, error)
}

// handler implements the mailbox-cleanup SQS consumer logic.
type handler struct {
	emailRepo           EmailRepository
	stateRepo           StateRepository
	blobDeletePublisher blobdelete.BlobDeletePublisher
	indexPublisher      searchindex.Publisher
}

// newHandler creates a new handler. The publishers may be nil.
func newHandler(emailRepo EmailRepository, stateRepo StateRepository, blobDeletePublisher blobdelete.BlobDeletePublisher, indexPublisher searchindex.Publisher) *handler {
	return &handler{
		emailRepo:           emailRepo,
		stateRepo:           stateRepo,
		blobDeletePublisher: blobDeletePublisher,
		indexPublisher:      indexPublisher,
	}
}

// handle processes an SQS event containing mailbox cleanup messages.
func (h *handler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	ctx, span := tracing.Tracer("jmap-mailbox-cleanup").Start(ctx, "MailboxCleanupHandler")
	defer span.End()

	var failures []events.SQSBatchItemFailure

	for _, record := range event.Records {
		msg, err := queue.Decode[mailboxcleanup.MailboxCleanupMessage](record.Body)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to parse SQS message",
				slog.String("message_id", record.MessageId),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		if err := h.processMailboxCleanup(ctx, msg.AccountID, msg.MailboxID); err != nil {
			logger.ErrorContext(ctx, "Failed to process mailbox cleanup",
				slog.String("account_id", msg.AccountID),
				slog.String("mailbox_id", msg.MailboxID),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	logger.InfoContext(ctx, "Mailbox cleanup batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("failures", len(failures)),
	)

	return events.SQSEventResponse{
		BatchItemFailures: failures,
	}, nil
}

// processMailboxCleanup handles cleanup for a single destroyed mailbox. It
// is safe to repeat: messages already cleaned up are skipped.
func (h *handler) processMailboxCleanup(ctx context.Context, accountID, mailboxID string) error {
	emailIDs, err := h.emailRepo.QueryEmailsByMailbox(ctx, accountID, mailboxID)
	if err != nil {
		return err
	}
	for _, emailID := range emailIDs {
		if err := h.processEmail(ctx, accountID, mailboxID, emailID); err != nil {
			return err
		}
	}
	return nil
}

// processEmail removes mailboxID from one message, retrying on concurrent
// modification.
func (h *handler) processEmail(ctx context.Context, accountID, mailboxID, emailID string) error {
	var err error
	for attempt := 0; attempt < membershipRetries; attempt++ {
		var e *email.EmailItem
		e, err = h.emailRepo.GetEmail(ctx, accountID, emailID)
		if errors.Is(err, email.ErrEmailNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		// Removed by a concurrent operation
		if !e.MailboxIDs[mailboxID] {
			return nil
		}

		if len(e.MailboxIDs) == 1 {
			return h.destroyOrphanedEmail(ctx, e)
		}

		remaining := maps.Clone(e.MailboxIDs)
		delete(remaining, mailboxID)
		err = h.emailRepo.SetMailboxes(ctx, e, remaining)
		if errors.Is(err, email.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}
		h.track(ctx, accountID, emailID, state.ChangeTypeUpdated)
		return nil
	}
	return err
}

// destroyOrphanedEmail deletes a message whose only mailbox was destroyed.
func (h *handler) destroyOrphanedEmail(ctx context.Context, e *email.EmailItem) error {
	destroyed, _, err := h.emailRepo.DeleteEmails(ctx, e.AccountID, []string{e.EmailID})
	if err != nil {
		return err
	}
	for _, d := range destroyed {
		h.track(ctx, d.AccountID, d.EmailID, state.ChangeTypeDestroyed)

		if h.indexPublisher != nil {
			if err := h.indexPublisher.PublishIndexRequest(ctx, d.AccountID, d.EmailID, searchindex.ActionDelete); err != nil {
				logger.WarnContext(ctx, "Failed to publish search index removal",
					slog.String("account_id", d.AccountID),
					slog.String("email_id", d.EmailID),
					slog.String("error", err.Error()),
				)
			}
		}

		// Publish blob deletions (best-effort)
		blobIDs := blobdelete.BlobIDs(d)
		if h.blobDeletePublisher != nil && len(blobIDs) > 0 {
			if err := h.blobDeletePublisher.PublishBlobDeletions(ctx, d.AccountID, blobIDs); err != nil {
				logger.ErrorContext(ctx, "Failed to publish blob deletions",
					slog.String("account_id", d.AccountID),
					slog.String("email_id", d.EmailID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

func (h *handler) track(ctx context.Context, accountID, emailID string, change state.ChangeType) {
	if _, err := h.stateRepo.IncrementStateAndLogChange(ctx, accountID, state.ObjectTypeEmail, emailID, change); err != nil {
		logger.ErrorContext(ctx, "Failed to track email state change",
			slog.String("account_id", accountID),
			slog.String("email_id", emailID),
			slog.String("error", err.Error()),
		)
	}
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

	sqsClient := sqs.NewFromConfig(result.Config)

	var blobPub blobdelete.BlobDeletePublisher
	if cfg.BlobDeleteQueueURL != "" {
		blobPub = blobdelete.NewSQSPublisher(sqsClient, cfg.BlobDeleteQueueURL)
	}
	var indexPub searchindex.Publisher
	if cfg.SearchIndexQueueURL != "" {
		indexPub = searchindex.NewSQSPublisher(sqsClient, cfg.SearchIndexQueueURL)
	}

	h := newHandler(
		email.NewRepository(dynamoClient, cfg.TableName),
		state.NewRepository(dynamoClient, cfg.TableName, cfg.StateTTLDays),
		blobPub,
		indexPub,
	)
	result.Start(h.handle)
}
