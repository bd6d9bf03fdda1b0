// Package blob reads and writes message and attachment content in the core
// blob store and resolves blob ids across the stores that share them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Error types for blob operations.
var (
	ErrBlobNotFound     = errors.New("blob not found")
	ErrForbidden        = errors.New("forbidden")
	ErrServerFail       = errors.New("server error")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrInvalidResponse  = errors.New("invalid response")
)

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBlobClient reads blobs from the core service over HTTP.
type HTTPBlobClient struct {
	baseURL    string
	httpClient HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	sleepFunc  func(time.Duration)
}

// NewHTTPBlobClient creates a new HTTPBlobClient with default settings.
func NewHTTPBlobClient(baseURL string, httpClient HTTPDoer) *HTTPBlobClient {
	return &HTTPBlobClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: 2,
		baseDelay:  100 * time.Millisecond,
		sleepFunc:  time.Sleep,
	}
}

// blobURL builds the IAM download URL for a blob.
func (c *HTTPBlobClient) blobURL(accountID, blobID string) string {
	return c.baseURL + "/download-iam/" + accountID + "/" + blobID
}

// Open returns a stream of the blob's content. Server errors and network
// failures are retried with exponential backoff; 4xx answers are not.
func (c *HTTPBlobClient) Open(ctx context.Context, accountID, blobID string) (io.ReadCloser, error) {
	ctx, span := tracing.Tracer("jmap-blob-client").Start(ctx, "blob.Open",
		trace.WithAttributes(
			tracing.AccountID(accountID),
			attribute.String("blob_id", blobID),
		))
	defer span.End()

	body, err := c.get(ctx, c.blobURL(accountID, blobID))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return body, nil
}

// FetchBlob reads a whole blob into memory.
func (c *HTTPBlobClient) FetchBlob(ctx context.Context, accountID, blobID string) ([]byte, error) {
	rc, err := c.Open(ctx, accountID, blobID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerFail, err)
	}
	return data, nil
}

// Delete releases a blob in the core store. A blob that is already gone is
// not an error.
func (c *HTTPBlobClient) Delete(ctx context.Context, accountID, blobID string) error {
	ctx, span := tracing.Tracer("jmap-blob-client").Start(ctx, "blob.Delete",
		trace.WithAttributes(
			tracing.AccountID(accountID),
			attribute.String("blob_id", blobID),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/delete-iam/"+accountID+"/"+blobID, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrServerFail, err)
		tracing.RecordError(span, err)
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusForbidden:
		err = ErrForbidden
	case resp.StatusCode >= 500:
		err = ErrServerFail
	case resp.StatusCode >= 400:
		err = fmt.Errorf("%w: status %d", ErrInvalidArguments, resp.StatusCode)
	default:
		return nil
	}
	tracing.RecordError(span, err)
	return err
}

func (c *HTTPBlobClient) get(ctx context.Context, url string) (io.ReadCloser, error) {
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 && c.sleepFunc != nil && c.baseDelay > 0 {
			c.sleepFunc(c.baseDelay * time.Duration(1<<(attempt-1)))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrServerFail, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrBlobNotFound
		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrForbidden
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = ErrServerFail
			continue
		case resp.StatusCode >= 400:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", ErrInvalidArguments, resp.StatusCode)
		}
		return resp.Body, nil
	}

	return nil, lastErr
}
