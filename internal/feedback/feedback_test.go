package feedback

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

func TestHandleFeedback_LogsEvent(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(slog.New(slog.NewTextHandler(&buf, nil)))
	before := metrics.FeedbackTotal.Value()

	h.HandleFeedback(context.Background(), domain.FeedbackEvent{
		Channel:        "bot",
		ConversationID: "conv-1",
		ReplyToID:      "act-9",
		Reaction:       "Dislike",
		Text:           "wrong totals",
		Raw:            []byte(`{"actionName":"feedback"}`),
	})

	out := buf.String()
	assert.Contains(t, out, "feedback received")
	assert.Contains(t, out, "reaction=dislike")
	assert.Contains(t, out, `text="wrong totals"`)
	assert.Contains(t, out, "actionName")
	assert.Equal(t, before+1, metrics.FeedbackTotal.Value())
}

func TestHandleFeedback_TruncatesRaw(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(slog.New(slog.NewTextHandler(&buf, nil)))

	h.HandleFeedback(context.Background(), domain.FeedbackEvent{Raw: []byte(strings.Repeat("x", maxRawLog*2))})

	assert.NotContains(t, buf.String(), strings.Repeat("x", maxRawLog+1))
}

func TestNormalizeReaction(t *testing.T) {
	tests := map[string]string{
		"like":    ReactionLike,
		" LIKE ":  ReactionLike,
		"👍":       ReactionLike,
		"dislike": ReactionDislike,
		"👎":       ReactionDislike,
		"Meh":     "meh",
		"":        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeReaction(in), "input %q", in)
	}
}
