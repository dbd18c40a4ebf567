package domain

import "time"

// FileDownloadInfo is the attachment content type the messaging platform uses
// for files referenced by a download URL instead of inline content.
const FileDownloadInfo = "application/vnd.microsoft.teams.file.download.info"

// Attachment references a file carried by an inbound message.
type Attachment struct {
	ContentType string `json:"contentType"`
	Name        string `json:"name"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

type InboundMessage struct {
	ID             string
	Channel        string
	ConversationID string
	SenderID       string
	Text           string
	Attachments    []Attachment
	Details        map[string]string // forwarded as additional_details
	Timestamp      time.Time
}

// FirstAttachment returns the first attachment, if any. Later attachments are
// never consulted by the pipeline.
func (m InboundMessage) FirstAttachment() (Attachment, bool) {
	if len(m.Attachments) == 0 {
		return Attachment{}, false
	}
	return m.Attachments[0], true
}

type OutboundMessage struct {
	Channel        string
	ConversationID string
	ReplyToID      string
	Content        string
}

// ExtractedDocument is the text pulled out of a downloaded attachment.
type ExtractedDocument struct {
	SourceFileName string
	Text           string
	Pages          int
}

// OutboundQuery is the payload sent to the query backend.
type OutboundQuery struct {
	Query             string            `json:"query"`
	AdditionalDetails map[string]string `json:"additional_details,omitempty"`
}

// BackendResponse is the backend's answer to one OutboundQuery.
type BackendResponse struct {
	Response string `json:"response"`
}

// FeedbackEvent is a user reaction to an earlier reply.
type FeedbackEvent struct {
	Channel        string
	ConversationID string
	SenderID       string
	ReplyToID      string
	Reaction       string // like | dislike
	Text           string
	Raw            []byte
}
