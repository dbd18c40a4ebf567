package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"relaybot/internal/domain"
)

const defaultBotScope = "https://api.botframework.com/.default"

type ConnectorConfig struct {
	Tokens     domain.TokenProvider // nil sends replies unauthenticated (emulator)
	Scope      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Connector posts replies to the Bot Framework connector service.
type Connector struct {
	tokens domain.TokenProvider
	scope  string
	client *http.Client
	logger *slog.Logger
}

func NewConnector(cfg ConnectorConfig) *Connector {
	if cfg.Scope == "" {
		cfg.Scope = defaultBotScope
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Connector{
		tokens: cfg.Tokens,
		scope:  cfg.Scope,
		client: cfg.HTTPClient,
		logger: cfg.Logger,
	}
}

type replyActivity struct {
	Type         string              `json:"type"`
	Text         string              `json:"text"`
	ReplyToID    string              `json:"replyToId,omitempty"`
	From         ChannelAccount      `json:"from"`
	Recipient    ChannelAccount      `json:"recipient"`
	Conversation ConversationAccount `json:"conversation"`
}

// ReplyURL is {serviceUrl}/v3/conversations/{conversationId}/activities/{activityId}.
func ReplyURL(ref ConversationRef) string {
	return strings.TrimRight(ref.ServiceURL, "/") +
		"/v3/conversations/" + url.PathEscape(ref.ConversationID) +
		"/activities/" + url.PathEscape(ref.ActivityID)
}

func (c *Connector) Reply(ctx context.Context, ref ConversationRef, text string) error {
	if ref.ServiceURL == "" {
		return fmt.Errorf("reply to %s: missing serviceUrl", ref.ActivityID)
	}

	payload, err := json.Marshal(replyActivity{
		Type:         "message",
		Text:         text,
		ReplyToID:    ref.ActivityID,
		From:         ChannelAccount{ID: ref.BotID},
		Recipient:    ChannelAccount{ID: ref.UserID},
		Conversation: ConversationAccount{ID: ref.ConversationID},
	})
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ReplyURL(ref), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		tok, err := c.tokens.GetToken(ctx, c.scope)
		if err != nil {
			return fmt.Errorf("connector token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("connector returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Debug("reply sent", "conversation", ref.ConversationID, "reply_to", ref.ActivityID, "text_len", len(text))
	return nil
}
