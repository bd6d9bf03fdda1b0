package emailset

import (
	"context"
	"log/slog"

	"github.com/jarrod-lowe/jmap-service-mail/internal/blobdelete"
	"github.com/jarrod-lowe/jmap-service-mail/internal/searchindex"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
	"github.com/jarrod-lowe/jmap-service-mail/internal/state"
)

func (p *Processor) destroyAll(ctx context.Context, b *batch) {
	if len(b.req.Destroy) == 0 {
		return
	}
	accountID := b.req.AccountID

	ids := make([]string, 0, len(b.req.Destroy))
	seen := make(map[string]bool, len(b.req.Destroy))
	for _, id := range b.req.Destroy {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	destroyed, notFound, err := p.Emails.DeleteEmails(ctx, accountID, ids)

	done := make(map[string]bool, len(ids))
	var blobIDs []string
	for _, e := range destroyed {
		done[e.EmailID] = true
		b.resp.Destroyed = append(b.resp.Destroyed, e.EmailID)
		blobIDs = append(blobIDs, blobdelete.BlobIDs(e)...)
		p.track(ctx, b, e.EmailID, state.ChangeTypeDestroyed)
		p.unindex(ctx, accountID, e.EmailID)
	}
	for _, id := range notFound {
		done[id] = true
		b.resp.NotDestroyed[id] = seterror.NotFound("message not found", "id")
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to delete emails",
			slog.String("account_id", accountID),
			slog.Int("destroyed_count", len(destroyed)),
			slog.String("error", err.Error()),
		)
		for _, id := range ids {
			if !done[id] {
				b.resp.NotDestroyed[id] = seterror.Unexpected("An error occurred when destroying a message")
			}
		}
	}

	if p.BlobDeleter != nil && len(blobIDs) > 0 {
		if err := p.BlobDeleter.PublishBlobDeletions(ctx, accountID, blobIDs); err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish blob deletions",
				slog.String("account_id", accountID),
				slog.Int("blob_count", len(blobIDs)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Processor) unindex(ctx context.Context, accountID, emailID string) {
	if p.Indexer == nil {
		return
	}
	if err := p.Indexer.PublishIndexRequest(ctx, accountID, emailID, searchindex.ActionDelete); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish search index removal",
			slog.String("account_id", accountID),
			slog.String("email_id", emailID),
			slog.String("error", err.Error()),
		)
	}
}
