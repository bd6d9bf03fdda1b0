// Package main implements the outbound-relay SQS consumer Lambda handler.
// It takes spooled messages, DKIM-signs them and relays them to the smart
// host.
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
	"github.com/jarrod-lowe/jmap-service-mail/internal/config"
	"github.com/jarrod-lowe/jmap-service-mail/internal/outbound"
	"github.com/jarrod-lowe/jmap-service-mail/internal/queue"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

var logger = logging.New()

// BlobFetcher reads stored message content.
type BlobFetcher interface {
	FetchBlob(ctx context.Context, accountID, blobID string) ([]byte, error)
}

// MessageSigner signs a message before it leaves.
type MessageSigner interface {
	Sign(raw []byte) ([]byte, error)
}

// Relayer hands a message to the smart host.
type Relayer interface {
	Send(ctx context.Context, from string, to []string, raw []byte) error
}

// handler implements the outbound-relay SQS consumer logic.
type handler struct {
	blobs  BlobFetcher
	signer MessageSigner
	relay  Relayer
}

// newHandler creates a new handler. signer may be nil, in which case
// messages are relayed unsigned.
func newHandler(blobs BlobFetcher, signer MessageSigner, relay Relayer) *handler {
	return &handler{blobs: blobs, signer: signer, relay: relay}
}

// handle processes an SQS event containing spooled messages.
func (h *handler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	ctx, span := tracing.Tracer("jmap-outbound-relay").Start(ctx, "OutboundRelayHandler")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(event.Records)))

	var failures []events.SQSBatchItemFailure

	for _, record := range event.Records {
		msg, err := queue.Decode[outbound.Message](record.Body)
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

		if err := h.deliver(ctx, msg); err != nil {
			if permanent(err) {
				logger.ErrorContext(ctx, "Dropping undeliverable message",
					slog.String("account_id", msg.AccountID),
					slog.String("email_id", msg.EmailID),
					slog.String("error", err.Error()),
				)
				continue
			}
			logger.ErrorContext(ctx, "Failed to relay message",
				slog.String("account_id", msg.AccountID),
				slog.String("email_id", msg.EmailID),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	logger.InfoContext(ctx, "Outbound relay batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("failures", len(failures)),
	)

	return events.SQSEventResponse{
		BatchItemFailures: failures,
	}, nil
}

func (h *handler) deliver(ctx context.Context, msg outbound.Message) error {
	if len(msg.RcptTo) == 0 {
		return outbound.ErrNoRecipients
	}
	raw, err := h.blobs.FetchBlob(ctx, msg.AccountID, msg.BlobID)
	if err != nil {
		return err
	}
	if h.signer != nil {
		if raw, err = h.signer.Sign(raw); err != nil {
			return err
		}
	}
	if err := h.relay.Send(ctx, msg.MailFrom, msg.RcptTo, raw); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Relayed message",
		slog.String("account_id", msg.AccountID),
		slog.String("email_id", msg.EmailID),
		slog.Int("recipients", len(msg.RcptTo)),
	)
	return nil
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	return errors.Is(err, outbound.ErrNoRecipients) ||
		errors.Is(err, blob.ErrBlobNotFound) ||
		errors.Is(err, blob.ErrForbidden)
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
		err = cfg.Require("CORE_API_URL", "SMTP_HOST")
	}
	if err != nil {
		logger.Error("FATAL: Failed to load configuration", slog.String("error", err.Error()))
		panic(err)
	}

	baseTransport := otelhttp.NewTransport(http.DefaultTransport)
	signedClient := &http.Client{Transport: blob.NewSigV4Transport(baseTransport, result.Config.Credentials, result.Config.Region)}
	blobClient := blob.NewHTTPBlobClient(cfg.CoreAPIURL, signedClient)

	var signer MessageSigner
	if cfg.DKIMPrivateKey != "" {
		if err := cfg.Require("DKIM_DOMAIN", "DKIM_SELECTOR"); err != nil {
			logger.Error("FATAL: Failed to load configuration", slog.String("error", err.Error()))
			panic(err)
		}
		s, err := outbound.NewSigner(cfg.DKIMDomain, cfg.DKIMSelector, cfg.DKIMPrivateKey)
		if err != nil {
			logger.Error("FATAL: Failed to load DKIM key", slog.String("error", err.Error()))
			panic(err)
		}
		signer = s
	}

	relay := outbound.NewRelay(outbound.RelayConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Helo:     cfg.SMTPHelo,
		StartTLS: cfg.SMTPStartTLS,
	})

	h := newHandler(blobClient, signer, relay)
	result.Start(h.handle)
}
