package delivery

import (
	"context"
	"log/slog"

	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
)

// ReferenceUpdater flags the messages a sent message replies to or forwards.
type ReferenceUpdater struct {
	store  Store
	logger *slog.Logger
}

// NewReferenceUpdater creates a new ReferenceUpdater.
func NewReferenceUpdater(store Store, logger *slog.Logger) *ReferenceUpdater {
	return &ReferenceUpdater{store: store, logger: logger}
}

// Update sets $answered on the message named by In-Reply-To and $forwarded
// on the one named by X-Forwarded-Message-Id. A reference is only acted on
// when it matches exactly one message. Failures are logged.
func (u *ReferenceUpdater) Update(ctx context.Context, accountID string, parsed *email.ParsedEmail) {
	for _, id := range parsed.InReplyTo {
		u.flag(ctx, accountID, id, email.KeywordAnswered)
	}
	for _, id := range parsed.ForwardedMessageID {
		u.flag(ctx, accountID, id, email.KeywordForwarded)
	}
}

func (u *ReferenceUpdater) flag(ctx context.Context, accountID, messageID, keyword string) {
	matches, err := u.store.FindByMessageID(ctx, accountID, messageID)
	if err != nil {
		u.logger.ErrorContext(ctx, "Failed to look up referenced message",
			slog.String("account_id", accountID),
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
		return
	}

	switch len(matches) {
	case 0:
		u.logger.InfoContext(ctx, "Referenced message not found",
			slog.String("account_id", accountID),
			slog.String("message_id", messageID),
		)
		return
	case 1:
	default:
		u.logger.WarnContext(ctx, "Referenced message is ambiguous",
			slog.String("account_id", accountID),
			slog.String("message_id", messageID),
			slog.Int("matches", len(matches)),
		)
		return
	}

	if _, err := u.store.UpdateKeywords(ctx, accountID, matches[0].EmailID, map[string]bool{keyword: true}, email.KeywordsAdd); err != nil {
		u.logger.ErrorContext(ctx, "Failed to flag referenced message",
			slog.String("account_id", accountID),
			slog.String("email_id", matches[0].EmailID),
			slog.String("keyword", keyword),
			slog.String("error", err.Error()),
		)
	}
}
