package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/jmap-service-mail/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/upload"
)

// MessageContentType is the media type of a blob resolved to a whole message.
const MessageContentType = "message/rfc822"

// Source identifies the store a blob id was resolved in.
type Source int

const (
	SourceUpload Source = iota + 1
	SourceAttachment
	SourceMessage
)

func (s Source) String() string {
	switch s {
	case SourceUpload:
		return "upload"
	case SourceAttachment:
		return "attachment"
	case SourceMessage:
		return "message"
	}
	return "unknown"
}

// UploadStore reads pending uploads.
type UploadStore interface {
	GetUpload(ctx context.Context, accountID, blobID string) (*upload.Item, error)
}

// AttachmentStore reads stored attachment records.
type AttachmentStore interface {
	GetAttachment(ctx context.Context, accountID, blobID string) (*attachment.Item, error)
}

// MessageStore reads stored messages.
type MessageStore interface {
	GetEmail(ctx context.Context, accountID, emailID string) (*email.EmailItem, error)
}

// ContentOpener streams blob content.
type ContentOpener interface {
	Open(ctx context.Context, accountID, blobID string) (io.ReadCloser, error)
}

// Resolved is a blob id resolved to its metadata. The content is only read
// when Open or Bytes is called.
type Resolved struct {
	BlobID string
	Type   string
	Name   string
	Size   int64
	Source Source

	accountID     string
	contentBlobID string
	opener        ContentOpener
}

// Open streams the blob content.
func (r *Resolved) Open(ctx context.Context) (io.ReadCloser, error) {
	return r.opener.Open(ctx, r.accountID, r.contentBlobID)
}

// Bytes reads the whole blob content.
func (r *Resolved) Bytes(ctx context.Context) ([]byte, error) {
	rc, err := r.Open(ctx)
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

// Resolver finds the store a blob id belongs to. Uploads, attachments and
// messages share one id space, so the stores are tried in that order.
type Resolver struct {
	uploads     UploadStore
	attachments AttachmentStore
	messages    MessageStore
	opener      ContentOpener
	now         func() time.Time
}

// NewResolver creates a new Resolver.
func NewResolver(uploads UploadStore, attachments AttachmentStore, messages MessageStore, opener ContentOpener) *Resolver {
	return &Resolver{
		uploads:     uploads,
		attachments: attachments,
		messages:    messages,
		opener:      opener,
		now:         time.Now,
	}
}

// Resolve returns the metadata of blobID, or ErrBlobNotFound when no store
// holds it.
func (r *Resolver) Resolve(ctx context.Context, accountID, blobID string) (*Resolved, error) {
	up, err := r.uploads.GetUpload(ctx, accountID, blobID)
	switch {
	case err == nil && !up.Expired(r.now()):
		return r.resolved(accountID, blobID, blobID, up.Type, "", up.Size, SourceUpload), nil
	case err != nil && !errors.Is(err, upload.ErrNotFound):
		return nil, err
	}

	att, err := r.attachments.GetAttachment(ctx, accountID, blobID)
	switch {
	case err == nil:
		return r.resolved(accountID, blobID, blobID, att.Type, att.Name, att.Size, SourceAttachment), nil
	case !errors.Is(err, attachment.ErrNotFound):
		return nil, err
	}

	if _, err := uuid.Parse(blobID); err != nil {
		return nil, ErrBlobNotFound
	}
	msg, err := r.messages.GetEmail(ctx, accountID, blobID)
	switch {
	case err == nil:
		return r.resolved(accountID, blobID, msg.BlobID, MessageContentType, "", msg.Size, SourceMessage), nil
	case errors.Is(err, email.ErrEmailNotFound):
		return nil, ErrBlobNotFound
	default:
		return nil, err
	}
}

// Exists reports whether blobID resolves in any store.
func (r *Resolver) Exists(ctx context.Context, accountID, blobID string) (bool, error) {
	_, err := r.Resolve(ctx, accountID, blobID)
	if errors.Is(err, ErrBlobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load resolves blobID and reads its content.
func (r *Resolver) Load(ctx context.Context, accountID, blobID string) (*Resolved, []byte, error) {
	res, err := r.Resolve(ctx, accountID, blobID)
	if err != nil {
		return nil, nil, err
	}
	data, err := res.Bytes(ctx)
	if err != nil {
		return nil, nil, err
	}
	return res, data, nil
}

func (r *Resolver) resolved(accountID, blobID, contentBlobID, contentType, name string, size int64, source Source) *Resolved {
	return &Resolved{
		BlobID:        blobID,
		Type:          contentType,
		Name:          name,
		Size:          size,
		Source:        source,
		accountID:     accountID,
		contentBlobID: contentBlobID,
		opener:        r.opener,
	}
}
