package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const uploadCapability = "https://jmap.rrod.net/extensions/upload-put"

// PresignedUploadClient stores new blobs in two steps: Blob/allocate through
// the signed JMAP endpoint returns an id and a presigned URL, then the
// content is PUT to that URL without signing.
type PresignedUploadClient struct {
	baseURL      string
	signedClient HTTPDoer
	plainClient  HTTPDoer
}

// NewPresignedUploadClient creates a new PresignedUploadClient.
func NewPresignedUploadClient(baseURL string, signedClient, plainClient HTTPDoer) *PresignedUploadClient {
	return &PresignedUploadClient{
		baseURL:      baseURL,
		signedClient: signedClient,
		plainClient:  plainClient,
	}
}

type allocateRequest struct {
	Using       []string `json:"using"`
	MethodCalls [][]any  `json:"methodCalls"`
}

type allocateArgs struct {
	Created    map[string]allocated `json:"created"`
	NotCreated map[string]any       `json:"notCreated"`
}

type allocated struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Upload stores content as a new blob of the given type and returns its id.
func (c *PresignedUploadClient) Upload(ctx context.Context, accountID, contentType string, content []byte) (string, error) {
	ctx, span := tracing.Tracer("jmap-blob-client").Start(ctx, "blob.Upload",
		trace.WithAttributes(
			tracing.AccountID(accountID),
			tracing.ContentType(contentType),
			attribute.Int("size", len(content)),
		))
	defer span.End()

	blobID, url, err := c.allocate(ctx, accountID, contentType, len(content))
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	if err := c.put(ctx, url, contentType, content); err != nil {
		tracing.RecordError(span, err)
		return "", err
	}

	span.SetAttributes(attribute.String("blob_id", blobID))
	return blobID, nil
}

// allocate sends a Blob/allocate request and returns the blobID and presigned URL.
func (c *PresignedUploadClient) allocate(ctx context.Context, accountID, contentType string, size int) (string, string, error) {
	payload, err := json.Marshal(allocateRequest{
		Using: []string{uploadCapability},
		MethodCalls: [][]any{{
			"Blob/allocate",
			map[string]any{
				"accountId": accountID,
				"create": map[string]any{
					"c0": map[string]any{"type": contentType, "size": size},
				},
			},
			"c0",
		}},
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jmap-iam/"+accountID, bytes.NewReader(payload))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.signedClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrServerFail, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return "", "", fmt.Errorf("%w: allocate returned status %d", ErrServerFail, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", "", fmt.Errorf("%w: allocate returned status %d", ErrInvalidArguments, resp.StatusCode)
	}

	var body struct {
		MethodResponses [][]json.RawMessage `json:"methodResponses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(body.MethodResponses) == 0 || len(body.MethodResponses[0]) < 2 {
		return "", "", fmt.Errorf("%w: missing Blob/allocate response", ErrInvalidResponse)
	}

	var name string
	if err := json.Unmarshal(body.MethodResponses[0][0], &name); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if name == "error" {
		return "", "", fmt.Errorf("%w: Blob/allocate returned JMAP error", ErrServerFail)
	}

	var args allocateArgs
	if err := json.Unmarshal(body.MethodResponses[0][1], &args); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if nc, ok := args.NotCreated["c0"]; ok {
		return "", "", fmt.Errorf("%w: Blob/allocate notCreated: %v", ErrServerFail, nc)
	}
	created, ok := args.Created["c0"]
	if !ok || created.ID == "" || created.URL == "" {
		return "", "", fmt.Errorf("%w: no 'c0' in created", ErrInvalidResponse)
	}

	return created.ID, created.URL, nil
}

func (c *PresignedUploadClient) put(ctx context.Context, url, contentType string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Length", strconv.Itoa(len(content)))

	resp, err := c.plainClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerFail, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: presigned PUT returned status %d", ErrServerFail, resp.StatusCode)
	}
	return nil
}
