package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	botChannelName      = "bot"
	maxActivityBytes    = 1 << 20
	defaultReplyTimeout = 15 * time.Second
	submitActionInvoke  = "message/submitAction"
)

// Replier posts reply text into a conversation.
type Replier interface {
	Reply(ctx context.Context, ref ConversationRef, text string) error
}

type BotConfig struct {
	Host           string
	Port           int
	Path           string // activity endpoint (default: /api/messages)
	Secret         string // optional HMAC-SHA256 secret checked against X-Signature-256
	Replier        Replier
	Feedback       domain.FeedbackSink
	MetricsPath    string       // mounted only when MetricsHandler is set
	MetricsHandler http.Handler // optional
	ReplyTimeout   time.Duration
	Logger         *slog.Logger
}

// Bot receives Bot Framework activities over HTTP and replies through the
// connector service.
type Bot struct {
	addr           string
	path           string
	secret         string
	replier        Replier
	feedback       domain.FeedbackSink
	metricsPath    string
	metricsHandler http.Handler
	replyTimeout   time.Duration
	logger         *slog.Logger

	bus    domain.MessageBus
	server *http.Server

	// pending maps queued delivery IDs to where their reply goes.
	pendingMu sync.Mutex
	pending   map[string]ConversationRef
}

func NewBot(cfg BotConfig) *Bot {
	if cfg.Path == "" {
		cfg.Path = "/api/messages"
	}
	if cfg.Port == 0 {
		cfg.Port = 3978
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bot{
		addr:           net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		path:           cfg.Path,
		secret:         cfg.Secret,
		replier:        cfg.Replier,
		feedback:       cfg.Feedback,
		metricsPath:    cfg.MetricsPath,
		metricsHandler: cfg.MetricsHandler,
		replyTimeout:   cfg.ReplyTimeout,
		logger:         cfg.Logger,
		pending:        make(map[string]ConversationRef),
	}
}

func (b *Bot) Name() string { return botChannelName }

// Handler returns the HTTP routes served by the bot.
func (b *Bot) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(b.path, b.handleActivity)
	if b.metricsHandler != nil {
		mux.Handle(b.metricsPath, b.metricsHandler)
	}
	return mux
}

// Attach registers the outbound handler on bus without starting the server.
func (b *Bot) Attach(bus domain.MessageBus) {
	b.bus = bus
	bus.OnOutbound(botChannelName, b.deliver)
}

// Start serves activities until ctx is cancelled.
func (b *Bot) Start(ctx context.Context, bus domain.MessageBus) error {
	b.Attach(bus)

	b.server = &http.Server{
		Addr:              b.addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	b.logger.Info("bot endpoint starting", "addr", b.addr, "path", b.path)

	errCh := make(chan error, 1)
	go func() {
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("bot endpoint shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return b.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("bot endpoint: %w", err)
	}
}

func (b *Bot) Stop() error { return nil }

func (b *Bot) handleActivity(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxActivityBytes))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if b.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, b.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var act Activity
	if err := json.Unmarshal(body, &act); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	switch act.Type {
	case "message":
		b.handleMessage(rw, act)
	case "invoke":
		b.handleInvoke(r.Context(), rw, act)
	default:
		b.logger.Debug("ignoring activity", "type", act.Type, "id", act.ID)
		rw.WriteHeader(http.StatusOK)
	}
}

func (b *Bot) handleMessage(rw http.ResponseWriter, act Activity) {
	if act.Conversation.ID == "" {
		http.Error(rw, "conversation.id is required", http.StatusBadRequest)
		return
	}
	if act.ID == "" {
		act.ID = uuid.NewString()
	}

	// Each delivery is queued under its own id so a resubmitted activity
	// gets its own reply. The activity id stays on the reference.
	msg := act.toInbound(botChannelName)
	msg.ID = uuid.NewString()
	b.logger.Info("activity received",
		"id", act.ID,
		"delivery_id", msg.ID,
		"conversation", act.Conversation.ID,
		"from", act.From.ID,
		"text_len", len(msg.Text),
		"attachments", len(msg.Attachments),
	)

	b.pendingMu.Lock()
	b.pending[msg.ID] = act.ref()
	b.pendingMu.Unlock()

	if err := b.bus.Publish(msg); err != nil {
		b.takePending(msg.ID)
		b.logger.Error("failed to queue activity", "id", act.ID, "err", err)
		http.Error(rw, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

func (b *Bot) handleInvoke(ctx context.Context, rw http.ResponseWriter, act Activity) {
	var v feedbackValue
	if act.Name != submitActionInvoke || json.Unmarshal(act.Value, &v) != nil || v.ActionName != "feedback" {
		b.logger.Debug("ignoring invoke", "name", act.Name, "id", act.ID)
		rw.WriteHeader(http.StatusOK)
		return
	}

	if b.feedback != nil {
		b.feedback.HandleFeedback(ctx, domain.FeedbackEvent{
			Channel:        botChannelName,
			ConversationID: act.Conversation.ID,
			SenderID:       act.From.ID,
			ReplyToID:      act.ReplyToID,
			Reaction:       v.ActionValue.Reaction,
			Text:           v.feedbackText(),
			Raw:            act.Value,
		})
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]int{"status": http.StatusOK})
}

// deliver is the outbound handler. Each pending reference is used once.
func (b *Bot) deliver(msg domain.OutboundMessage) {
	ref, ok := b.takePending(msg.ReplyToID)
	if !ok {
		metrics.RepliesFailed.Inc()
		b.logger.Warn("no pending activity for reply", "reply_to", msg.ReplyToID, "conversation", msg.ConversationID)
		return
	}
	if b.replier == nil {
		b.logger.Warn("no replier configured, dropping reply", "reply_to", msg.ReplyToID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.replyTimeout)
	defer cancel()
	if err := b.replier.Reply(ctx, ref, msg.Content); err != nil {
		metrics.RepliesFailed.Inc()
		b.logger.Error("failed to send reply",
			"reply_to", msg.ReplyToID,
			"conversation", ref.ConversationID,
			"err", err,
		)
	}
}

func (b *Bot) takePending(id string) (ConversationRef, bool) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	ref, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	return ref, ok
}

// verifyHMAC checks a "sha256=<hex>" signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
