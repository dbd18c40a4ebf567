package domain

import (
	"context"
	"time"
)

// Token is a bearer credential and the moment it stops being valid.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenProvider acquires bearer tokens for a resource scope.
type TokenProvider interface {
	GetToken(ctx context.Context, scope string) (Token, error)
}

// QueryBackend answers relayed queries.
type QueryBackend interface {
	Query(ctx context.Context, q OutboundQuery) (*BackendResponse, error)
}

// FeedbackSink receives feedback events from channels.
type FeedbackSink interface {
	HandleFeedback(ctx context.Context, ev FeedbackEvent)
}

// Exchange is the metadata of one handled inbound message. It never carries
// message text or backend responses.
type Exchange struct {
	ID             string    `json:"id"`
	Channel        string    `json:"channel"`
	ConversationID string    `json:"conversation_id"`
	Path           string    `json:"path"` // text | attachment
	AttachmentName string    `json:"attachment_name,omitempty"`
	QueryLength    int       `json:"query_length"`
	Outcome        string    `json:"outcome"` // ok | credential | download | extraction | backend
	LatencyMs      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExchangeRecorder persists exchange metadata.
type ExchangeRecorder interface {
	RecordExchange(ctx context.Context, ex Exchange) error
	RecentExchanges(ctx context.Context, limit int) ([]Exchange, error)
	Close() error
}
