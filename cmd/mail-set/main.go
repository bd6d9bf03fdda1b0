// Package main implements the Lambda handler serving Mailbox/set and
// Email/set.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/dbclient"
	"github.com/jarrod-lowe/jmap-service-libs/jmaperror"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/plugincontract"
	"github.com/jarrod-lowe/jmap-service-mail/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-mail/internal/blob"
	"github.com/jarrod-lowe/jmap-service-mail/internal/blobdelete"
	"github.com/jarrod-lowe/jmap-service-mail/internal/config"
	"github.com/jarrod-lowe/jmap-service-mail/internal/delivery"
	"github.com/jarrod-lowe/jmap-service-mail/internal/dispatch"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/emailset"
	"github.com/jarrod-lowe/jmap-service-mail/internal/identity"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailbox"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailboxcleanup"
	"github.com/jarrod-lowe/jmap-service-mail/internal/mailboxset"
	"github.com/jarrod-lowe/jmap-service-mail/internal/outbound"
	"github.com/jarrod-lowe/jmap-service-mail/internal/searchindex"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
	"github.com/jarrod-lowe/jmap-service-mail/internal/upload"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var logger = logging.New()

// Method names served by this Lambda.
const (
	methodMailboxSet = "Mailbox/set"
	methodEmailSet   = "Email/set"
)

// SetProcessor applies one parsed /set request.
type SetProcessor interface {
	Process(ctx context.Context, req *dispatch.SetRequest) (*dispatch.SetResponse, *jmaperror.MethodError)
}

// newDispatcher builds the method table.
func newDispatcher(mailboxes, emails SetProcessor) *dispatch.Dispatcher {
	return dispatch.New(map[string]dispatch.HandlerFunc{
		methodMailboxSet: setHandler(methodMailboxSet, mailboxes),
		methodEmailSet:   setHandler(methodEmailSet, emails),
	}, logger)
}

// setHandler adapts a SetProcessor to the plugin contract.
func setHandler(method string, p SetProcessor) dispatch.HandlerFunc {
	return func(ctx context.Context, request plugincontract.PluginInvocationRequest) (plugincontract.PluginInvocationResponse, error) {
		req, merr := dispatch.ParseSetRequest(request)
		if merr != nil {
			return dispatch.ErrorResponse(request.ClientID, merr), nil
		}
		resp, merr := p.Process(ctx, req)
		if merr != nil {
			return dispatch.ErrorResponse(request.ClientID, merr), nil
		}
		return resp.Response(method, request.ClientID, req.AccountID), nil
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
		err = cfg.Require("EMAIL_TABLE_NAME", "CORE_API_URL", "OUTBOUND_QUEUE_URL", "MAIL_DOMAIN")
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

	mailboxRepo := mailbox.NewDynamoDBRepository(dynamoClient, cfg.TableName)
	emailRepo := email.NewRepository(dynamoClient, cfg.TableName)
	stateRepo := state.NewRepository(dynamoClient, cfg.TableName, cfg.StateTTLDays)
	identityRepo := identity.NewRepository(dynamoClient, cfg.TableName)

	// Blob clients: SigV4 for the core API, plain for presigned uploads
	baseTransport := otelhttp.NewTransport(http.DefaultTransport)
	signedClient := &http.Client{Transport: blob.NewSigV4Transport(baseTransport, result.Config.Credentials, result.Config.Region)}
	plainClient := &http.Client{Transport: baseTransport}
	blobClient := blob.NewHTTPBlobClient(cfg.CoreAPIURL, signedClient)
	uploader := blob.NewPresignedUploadClient(cfg.CoreAPIURL, signedClient, plainClient)

	resolver := blob.NewResolver(
		upload.NewRepository(dynamoClient, cfg.TableName),
		attachment.NewStore(dynamoClient, cfg.TableName),
		emailRepo,
		blobClient,
	)

	var cleanup mailboxcleanup.MailboxCleanupPublisher
	if cfg.MailboxCleanupQueueURL != "" {
		cleanup = mailboxcleanup.NewSQSPublisher(sqsClient, cfg.MailboxCleanupQueueURL)
	}
	var blobDeleter blobdelete.BlobDeletePublisher
	if cfg.BlobDeleteQueueURL != "" {
		blobDeleter = blobdelete.NewSQSPublisher(sqsClient, cfg.BlobDeleteQueueURL)
	}
	var indexer searchindex.Publisher
	if cfg.SearchIndexQueueURL != "" {
		indexer = searchindex.NewSQSPublisher(sqsClient, cfg.SearchIndexQueueURL)
	}

	mailboxes := mailboxset.NewProcessor(mailboxRepo, stateRepo, identityRepo, cleanup, cfg.MaxMailboxNameLength, logger)

	emails := emailset.NewProcessor(emailset.Deps{
		Emails:      emailRepo,
		Mailboxes:   mailboxRepo,
		States:      stateRepo,
		Identities:  identityRepo,
		Attachments: attachment.NewChecker(resolver, cfg.AttachmentConcurrency),
		Blobs:       resolver,
		Content:     blobClient,
		Appender:    delivery.NewAppender(emailRepo, uploader, indexer, cfg.TableName, logger),
		Sender:      delivery.NewSender(emailRepo, outbound.NewSQSSpooler(sqsClient, cfg.OutboundQueueURL), logger),
		References:  delivery.NewReferenceUpdater(emailRepo, logger),
		BlobDeleter: blobDeleter,
		Indexer:     indexer,
	}, emailset.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		Concurrency:    cfg.EntryConcurrency,
		Hostname:       cfg.MailDomain,
	}, logger)

	d := newDispatcher(mailboxes, emails)
	logger.Info("Serving methods", slog.Any("methods", d.Methods()))
	result.Start(d.Handle)
}
