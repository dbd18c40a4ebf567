package channel

import (
	"encoding/json"
	"strings"
	"time"

	"relaybot/internal/domain"
)

// Activity is the subset of a Bot Framework activity the relay reads.
type Activity struct {
	Type         string               `json:"type"`
	ID           string               `json:"id"`
	Name         string               `json:"name,omitempty"`
	Timestamp    time.Time            `json:"timestamp,omitempty"`
	ServiceURL   string               `json:"serviceUrl"`
	ChannelID    string               `json:"channelId"`
	From         ChannelAccount       `json:"from"`
	Recipient    ChannelAccount       `json:"recipient"`
	Conversation ConversationAccount  `json:"conversation"`
	Text         string               `json:"text"`
	Attachments  []ActivityAttachment `json:"attachments,omitempty"`
	Value        json.RawMessage      `json:"value,omitempty"`
	ReplyToID    string               `json:"replyToId,omitempty"`
}

type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ConversationAccount struct {
	ID string `json:"id"`
}

type ActivityAttachment struct {
	ContentType string          `json:"contentType"`
	Name        string          `json:"name,omitempty"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// downloadURL returns content.downloadUrl for file-download-info attachments
// and contentUrl otherwise.
func (a ActivityAttachment) downloadURL() string {
	if a.ContentType == domain.FileDownloadInfo && len(a.Content) > 0 {
		var c struct {
			DownloadURL string `json:"downloadUrl"`
		}
		if err := json.Unmarshal(a.Content, &c); err == nil && c.DownloadURL != "" {
			return c.DownloadURL
		}
	}
	return a.ContentURL
}

// ConversationRef is what the connector needs to reply to one activity.
type ConversationRef struct {
	ServiceURL     string
	ConversationID string
	ActivityID     string
	BotID          string
	UserID         string
}

func (a Activity) ref() ConversationRef {
	return ConversationRef{
		ServiceURL:     a.ServiceURL,
		ConversationID: a.Conversation.ID,
		ActivityID:     a.ID,
		BotID:          a.Recipient.ID,
		UserID:         a.From.ID,
	}
}

func (a Activity) toInbound(channel string) domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:             a.ID,
		Channel:        channel,
		ConversationID: a.Conversation.ID,
		SenderID:       a.From.ID,
		Text:           a.Text,
		Timestamp:      a.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	for _, att := range a.Attachments {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			ContentType: att.ContentType,
			Name:        att.Name,
			DownloadURL: att.downloadURL(),
		})
	}
	return msg
}

// feedbackValue is the value of a message/submitAction invoke.
type feedbackValue struct {
	ActionName  string `json:"actionName"`
	ActionValue struct {
		Reaction string `json:"reaction"`
		Feedback string `json:"feedback"` // JSON-encoded form payload
	} `json:"actionValue"`
}

// feedbackText pulls feedbackText out of the embedded form payload, falling
// back to the raw string.
func (v feedbackValue) feedbackText() string {
	raw := strings.TrimSpace(v.ActionValue.Feedback)
	if raw == "" {
		return ""
	}
	var form struct {
		FeedbackText string `json:"feedbackText"`
	}
	if err := json.Unmarshal([]byte(raw), &form); err == nil {
		return form.FeedbackText
	}
	return raw
}
