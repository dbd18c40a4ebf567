package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	defaultConcurrency = 3
	recordTimeout      = 5 * time.Second
)

// Loop feeds inbound bus messages through the pipeline and sends each reply
// back to the originating conversation.
type Loop struct {
	pipeline    *Pipeline
	bus         domain.MessageBus
	recorder    domain.ExchangeRecorder
	logger      *slog.Logger
	concurrency int
}

type LoopConfig struct {
	Pipeline    *Pipeline
	Bus         domain.MessageBus
	Recorder    domain.ExchangeRecorder // optional
	Logger      *slog.Logger
	Concurrency int // max messages in flight (default 3)
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		pipeline:    cfg.Pipeline,
		bus:         cfg.Bus,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes inbound messages with bounded concurrency until ctx is done or
// the bus closes. It waits for in-flight messages before returning. Messages
// that cannot start before shutdown get the fixed failure reply.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("relay loop started", "concurrency", l.concurrency)

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("relay loop stopping")
			l.rejectBuffered(inbound)
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, relay loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				l.reject(msg)
				l.rejectBuffered(inbound)
				return
			}
			wg.Add(1)
			go func(m domain.InboundMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// rejectBuffered answers the messages still queued on the bus.
func (l *Loop) rejectBuffered(inbound <-chan domain.InboundMessage) {
	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			l.reject(msg)
		default:
			return
		}
	}
}

// reject replies to a message that will not be processed.
func (l *Loop) reject(msg domain.InboundMessage) {
	reply := BackendFailureReply
	if Classify(msg) == PathAttachment {
		reply = AttachmentFailureReply
	}
	l.logger.Warn("rejecting message on shutdown", "message_id", msg.ID, "channel", msg.Channel)
	metrics.FailuresTotal("shutdown").Inc()
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel:        msg.Channel,
		ConversationID: msg.ConversationID,
		ReplyToID:      msg.ID,
		Content:        reply,
	})
}

// HandleDirect runs msg through the pipeline synchronously. Used by callers
// that need a blocking reply, such as the ask command.
func (l *Loop) HandleDirect(ctx context.Context, msg domain.InboundMessage) Result {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return l.handle(ctx, msg)
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	l.logger.Info("processing message",
		"message_id", msg.ID,
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"text_len", len(msg.Text),
		"attachments", len(msg.Attachments),
	)

	res := l.handle(ctx, msg)

	l.bus.SendOutbound(domain.OutboundMessage{
		Channel:        msg.Channel,
		ConversationID: msg.ConversationID,
		ReplyToID:      msg.ID,
		Content:        res.Reply,
	})
}

func (l *Loop) handle(ctx context.Context, msg domain.InboundMessage) Result {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	start := time.Now()
	res := l.pipeline.Handle(ctx, msg)
	latency := time.Since(start)

	outcome := StageOf(res.Err)
	metrics.MessagesTotal(string(res.Path)).Inc()
	if res.Err != nil {
		metrics.FailuresTotal(outcome).Inc()
	}

	l.record(ctx, domain.Exchange{
		ID:             msg.ID,
		Channel:        msg.Channel,
		ConversationID: msg.ConversationID,
		Path:           string(res.Path),
		AttachmentName: res.AttachmentName,
		QueryLength:    res.QueryLength,
		Outcome:        outcome,
		LatencyMs:      latency.Milliseconds(),
		CreatedAt:      start.UTC(),
	})
	return res
}

// record stores exchange metadata. It outlives ctx so exchanges handled
// during shutdown are still written.
func (l *Loop) record(ctx context.Context, ex domain.Exchange) {
	if l.recorder == nil {
		return
	}
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := l.recorder.RecordExchange(rctx, ex); err != nil {
		l.logger.Warn("failed to record exchange", "message_id", ex.ID, "err", err)
	}
}
