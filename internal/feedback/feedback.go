// Package feedback receives user reactions to relayed replies. Events are
// logged and counted; nothing is stored and the dispatch pipeline is unaffected.
package feedback

import (
	"context"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	ReactionLike    = "like"
	ReactionDislike = "dislike"
)

// maxRawLog bounds how much of the raw payload reaches the log.
const maxRawLog = 2048

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger}
}

func (h *Handler) HandleFeedback(_ context.Context, ev domain.FeedbackEvent) {
	reaction := NormalizeReaction(ev.Reaction)
	metrics.FeedbackTotal.Inc()

	raw := string(ev.Raw)
	if len(raw) > maxRawLog {
		raw = raw[:maxRawLog] + "..."
	}
	h.logger.Info("feedback received",
		"channel", ev.Channel,
		"conversation", ev.ConversationID,
		"sender", ev.SenderID,
		"reply_to", ev.ReplyToID,
		"reaction", reaction,
		"text", ev.Text,
		"raw", raw,
	)
}

// NormalizeReaction maps platform reaction spellings onto like/dislike.
// Unknown values are returned lower-cased.
func NormalizeReaction(r string) string {
	switch v := strings.ToLower(strings.TrimSpace(r)); v {
	case "like", "thumbsup", "up", "+1", "👍":
		return ReactionLike
	case "dislike", "thumbsdown", "down", "-1", "👎":
		return ReactionDislike
	default:
		return v
	}
}
