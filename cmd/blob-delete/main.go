// Package main implements the blob-delete SQS consumer Lambda handler.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-mail/internal/blob"
	"github.com/jarrod-lowe/jmap-service-mail/internal/blobdelete"
	"github.com/jarrod-lowe/jmap-service-mail/internal/config"
	"github.com/jarrod-lowe/jmap-service-mail/internal/queue"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var logger = logging.New()

// BlobDeleter releases blobs in the core store.
type BlobDeleter interface {
	Delete(ctx context.Context, accountID, blobID string) error
}

// handler implements the blob-delete SQS consumer logic.
type handler struct {
	blobDeleter BlobDeleter
}

// newHandler creates a handler around the given deleter.
func newHandler(blobDeleter BlobDeleter) *handler {
	return &handler{blobDeleter: blobDeleter}
}

// handle processes an SQS event containing blob deletion messages. A record
// is retried when any of its blobs failed for a transient reason; blobs the
// core refuses outright are logged and skipped.
func (h *handler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	ctx, span := tracing.Tracer("jmap-blob-delete").Start(ctx, "BlobDeleteHandler")
	defer span.End()

	var failures []events.SQSBatchItemFailure
	deleted := 0

	for _, record := range event.Records {
		msg, err := queue.Decode[blobdelete.BlobDeleteMessage](record.Body)
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

		retry := false
		seen := make(map[string]bool, len(msg.BlobIDs))
		for _, blobID := range msg.BlobIDs {
			if blobID == "" || seen[blobID] {
				continue
			}
			seen[blobID] = true

			err := h.blobDeleter.Delete(ctx, msg.AccountID, blobID)
			switch {
			case err == nil:
				deleted++
			case errors.Is(err, blob.ErrForbidden), errors.Is(err, blob.ErrInvalidArguments):
				logger.WarnContext(ctx, "Blob deletion refused",
					slog.String("account_id", msg.AccountID),
					slog.String("blob_id", blobID),
					slog.String("error", err.Error()),
				)
			default:
				logger.ErrorContext(ctx, "Failed to delete blob",
					slog.String("account_id", msg.AccountID),
					slog.String("blob_id", blobID),
					slog.String("error", err.Error()),
				)
				retry = true
			}
		}

		if retry {
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	logger.InfoContext(ctx, "Blob delete batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("blobs_deleted", deleted),
		slog.Int("failures", len(failures)),
	)

	return events.SQSEventResponse{
		BatchItemFailures: failures,
	}, nil
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
		err = cfg.Require("CORE_API_URL")
	}
	if err != nil {
		logger.Error("FATAL: Failed to load configuration", slog.String("error", err.Error()))
		panic(err)
	}

	baseTransport := otelhttp.NewTransport(http.DefaultTransport)
	transport := blob.NewSigV4Transport(baseTransport, result.Config.Credentials, result.Config.Region)
	blobClient := blob.NewHTTPBlobClient(cfg.CoreAPIURL, &http.Client{Transport: transport})

	h := newHandler(blobClient)
	result.Start(h.handle)
}
