package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	telegramChannelName = "telegram"
	telegramMaxMsgLen   = 4000
	feedbackPrefix      = "fb:"
)

// telegramAPI is the part of tgbotapi.BotAPI the channel uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram relays Telegram messages through long polling. Replies carry
// 👍/👎 buttons whose presses become feedback events.
type Telegram struct {
	token     string
	allowFrom []int64 // empty = allow all
	feedback  domain.FeedbackSink

	api    telegramAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	Feedback  domain.FeedbackSink
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		feedback:  cfg.Feedback,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return telegramChannelName }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.api = bot
	t.bus = bus
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound(telegramChannelName, t.deliver)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(ctx, update.CallbackQuery)
		return
	}

	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	userID, chatID := m.From.ID, m.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", m.From.UserName)
		t.send(tgbotapi.NewMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list."))
		return
	}

	if m.IsCommand() {
		t.handleCommand(chatID, m)
		return
	}

	msg := telegramInbound(m)
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(msg.Text),
		"attachments", len(msg.Attachments),
	)
	_, _ = t.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	if err := t.bus.Publish(msg); err != nil {
		t.logger.Error("failed to queue telegram message", "chat_id", chatID, "err", err)
		t.send(tgbotapi.NewMessage(chatID, "⚠️ The bot is busy, please try again shortly."))
	}
}

// telegramInbound maps a Telegram message. Documents carry no Graph download
// reference, so they are listed by mime type and the caption becomes the text.
func telegramInbound(m *tgbotapi.Message) domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:             strconv.Itoa(m.MessageID),
		Channel:        telegramChannelName,
		ConversationID: strconv.FormatInt(m.Chat.ID, 10),
		SenderID:       strconv.FormatInt(m.From.ID, 10),
		Text:           m.Text,
		Timestamp:      time.Unix(int64(m.Date), 0),
	}
	if m.Document != nil {
		if strings.TrimSpace(msg.Text) == "" {
			msg.Text = m.Caption
		}
		msg.Attachments = []domain.Attachment{{
			ContentType: m.Document.MimeType,
			Name:        m.Document.FileName,
		}}
	}
	return msg
}

func (t *Telegram) handleCommand(chatID int64, m *tgbotapi.Message) {
	switch m.Command() {
	case "start", "help":
		t.send(tgbotapi.NewMessage(chatID,
			"👋 Send me a question and I'll forward it to the knowledge backend.\n\n"+
				"Use 👍 / 👎 under an answer to tell us how it went."))
	default:
		t.send(tgbotapi.NewMessage(chatID, "Unknown command. Type /help for usage."))
	}
}

func (t *Telegram) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	_, _ = t.api.Request(tgbotapi.NewCallback(cq.ID, "Thanks for the feedback!"))

	reaction, replyTo, ok := parseFeedbackData(cq.Data)
	if !ok || cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	if t.feedback != nil {
		var sender string
		if cq.From != nil {
			sender = strconv.FormatInt(cq.From.ID, 10)
		}
		t.feedback.HandleFeedback(ctx, domain.FeedbackEvent{
			Channel:        telegramChannelName,
			ConversationID: strconv.FormatInt(chatID, 10),
			SenderID:       sender,
			ReplyToID:      replyTo,
			Reaction:       reaction,
			Raw:            []byte(cq.Data),
		})
	}

	// Drop the buttons so each reply is rated once.
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	t.send(edit)
}

// deliver sends a reply, split to Telegram's size limit, with feedback
// buttons on the last chunk.
func (t *Telegram) deliver(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ConversationID, 10, 64)
	if err != nil {
		metrics.RepliesFailed.Inc()
		t.logger.Error("invalid chat ID for telegram outbound", "chat_id", msg.ConversationID, "err", err)
		return
	}
	replyTo, _ := strconv.Atoi(msg.ReplyToID)

	chunks := splitMessage(msg.Content, telegramMaxMsgLen)
	for i, chunk := range chunks {
		out := tgbotapi.NewMessage(chatID, chunk)
		if i == 0 {
			out.ReplyToMessageID = replyTo
		}
		if i == len(chunks)-1 {
			out.ReplyMarkup = feedbackKeyboard(msg.ReplyToID)
		}
		if !t.send(out) {
			metrics.RepliesFailed.Inc()
			return
		}
	}
}

func (t *Telegram) send(c tgbotapi.Chattable) bool {
	if _, err := t.api.Send(c); err != nil {
		t.logger.Error("telegram send failed", "err", err)
		return false
	}
	return true
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func feedbackKeyboard(replyTo string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍", feedbackPrefix+"like:"+replyTo),
			tgbotapi.NewInlineKeyboardButtonData("👎", feedbackPrefix+"dislike:"+replyTo),
		),
	)
}

// parseFeedbackData decodes "fb:<reaction>:<replyTo>".
func parseFeedbackData(data string) (reaction, replyTo string, ok bool) {
	rest, found := strings.CutPrefix(data, feedbackPrefix)
	if !found {
		return "", "", false
	}
	reaction, replyTo, _ = strings.Cut(rest, ":")
	if reaction == "" {
		return "", "", false
	}
	return reaction, replyTo, true
}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring
// newline boundaries.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 1 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
