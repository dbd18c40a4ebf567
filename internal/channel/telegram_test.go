package channel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

type fakeTelegramAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegramAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newTestTelegram(t *testing.T, cfg TelegramConfig) (*Telegram, *fakeTelegramAPI, *bus.InMemoryBus) {
	t.Helper()
	cfg.Logger = testLogger()
	tg := NewTelegram(cfg)
	api := &fakeTelegramAPI{}
	mb := bus.New(4, testLogger())
	t.Cleanup(mb.Close)
	tg.api = api
	tg.bus = mb
	return tg, api, mb
}

func textUpdate(userID, chatID int64, msgID int, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: msgID,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
		Date:      1700000000,
	}}
}

func TestTelegram_TextMessagePublished(t *testing.T) {
	tg, _, mb := newTestTelegram(t, TelegramConfig{})

	tg.handleUpdate(context.Background(), textUpdate(7, 42, 100, "  what is our refund policy?  "))

	msg := receive(t, mb)
	if msg.ID != "100" || msg.Channel != "telegram" || msg.ConversationID != "42" || msg.SenderID != "7" {
		t.Errorf("unexpected identity fields: %+v", msg)
	}
	if msg.Text != "  what is our refund policy?  " {
		t.Errorf("text: %q", msg.Text)
	}
}

func TestTelegram_DocumentUsesCaption(t *testing.T) {
	m := &tgbotapi.Message{
		MessageID: 5,
		From:      &tgbotapi.User{ID: 1},
		Chat:      &tgbotapi.Chat{ID: 2},
		Text:      " ",
		Caption:   "Summarize ",
		Document:  &tgbotapi.Document{FileName: "report.pdf", MimeType: "application/pdf"},
	}
	msg := telegramInbound(m)
	if msg.Text != "Summarize " {
		t.Errorf("text: %q", msg.Text)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].ContentType == domain.FileDownloadInfo {
		t.Errorf("telegram documents must not be treated as download-info attachments: %+v", msg.Attachments)
	}
}

func TestTelegram_Unauthorized(t *testing.T) {
	tg, api, mb := newTestTelegram(t, TelegramConfig{AllowFrom: []string{"11", " 12 "}})

	tg.handleUpdate(context.Background(), textUpdate(99, 42, 1, "hello"))

	if len(api.sent) != 1 {
		t.Fatalf("expected one rejection message, got %d", len(api.sent))
	}
	select {
	case m := <-mb.Subscribe():
		t.Errorf("unauthorized message published: %+v", m)
	default:
	}
	if !tg.isAllowed(12) {
		t.Error("allow list entries should be trimmed")
	}
}

func TestTelegram_DeliverAddsFeedbackButtons(t *testing.T) {
	tg, api, _ := newTestTelegram(t, TelegramConfig{})

	tg.deliver(domain.OutboundMessage{Channel: "telegram", ConversationID: "42", ReplyToID: "100", Content: "hi there"})

	if len(api.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(api.sent))
	}
	out, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", api.sent[0])
	}
	if out.ChatID != 42 || out.Text != "hi there" || out.ReplyToMessageID != 100 {
		t.Errorf("unexpected message: %+v", out)
	}
	kb, ok := out.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("expected a one-row keyboard with two buttons, got %#v", out.ReplyMarkup)
	}
	if data := *kb.InlineKeyboard[0][0].CallbackData; data != "fb:like:100" {
		t.Errorf("like button data: %s", data)
	}
}

func TestTelegram_DeliverInvalidChat(t *testing.T) {
	tg, api, _ := newTestTelegram(t, TelegramConfig{})
	tg.deliver(domain.OutboundMessage{ConversationID: "not-a-number", Content: "x"})
	if len(api.sent) != 0 {
		t.Errorf("expected nothing sent, got %d", len(api.sent))
	}
}

func TestTelegram_FeedbackCallback(t *testing.T) {
	fb := &fakeFeedback{}
	tg, api, _ := newTestTelegram(t, TelegramConfig{Feedback: fb})

	tg.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 7},
		Data:    "fb:dislike:100",
		Message: &tgbotapi.Message{MessageID: 101, Chat: &tgbotapi.Chat{ID: 42}},
	}})

	if len(fb.events) != 1 {
		t.Fatalf("expected 1 feedback event, got %d", len(fb.events))
	}
	ev := fb.events[0]
	if ev.Reaction != "dislike" || ev.ReplyToID != "100" || ev.ConversationID != "42" || ev.SenderID != "7" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if len(api.requests) != 1 || len(api.sent) != 1 {
		t.Errorf("expected callback ack and keyboard removal, got %d requests %d sends", len(api.requests), len(api.sent))
	}
}

func TestParseFeedbackData(t *testing.T) {
	tests := []struct {
		in               string
		reaction, target string
		ok               bool
	}{
		{"fb:like:12", "like", "12", true},
		{"fb:dislike:", "dislike", "", true},
		{"fb::12", "", "", false},
		{"confirm_yes", "", "", false},
	}
	for _, tt := range tests {
		r, target, ok := parseFeedbackData(tt.in)
		if r != tt.reaction || target != tt.target || ok != tt.ok {
			t.Errorf("parseFeedbackData(%q) = %q, %q, %v", tt.in, r, target, ok)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	if chunks := splitMessage("short message", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks := splitMessage("", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk for empty, got %d", len(chunks))
	}

	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Errorf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks should reassemble to the original")
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("é", 30) // 60 bytes
	for _, c := range splitMessage(msg, 25) {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk splits a rune: %q", c)
		}
	}
}
