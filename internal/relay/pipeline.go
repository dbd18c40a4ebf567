// Package relay implements the dispatch pipeline: classify an inbound message,
// fold in text extracted from an attached PDF, query the backend and produce
// exactly one reply.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/attachment"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// PDFMarker separates the user's text from the extracted document text.
const PDFMarker = "\n\n[Extracted PDF Text]\n"

type Path string

const (
	PathText       Path = "text"
	PathAttachment Path = "attachment"
)

// Downloader fetches an attachment into scoped temporary storage.
type Downloader interface {
	Download(ctx context.Context, url, name, token string) (*attachment.TempFile, error)
}

// Extractor turns a downloaded file into text.
type Extractor interface {
	ExtractFile(ctx context.Context, path, sourceName string) (domain.ExtractedDocument, error)
}

// Timeouts bound each external call. Zero values fall back to defaults.
type Timeouts struct {
	Token      time.Duration
	Download   time.Duration
	Extraction time.Duration
	Backend    time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Token <= 0 {
		t.Token = 15 * time.Second
	}
	if t.Download <= 0 {
		t.Download = 60 * time.Second
	}
	if t.Extraction <= 0 {
		t.Extraction = 30 * time.Second
	}
	if t.Backend <= 0 {
		t.Backend = 120 * time.Second
	}
	return t
}

type PipelineConfig struct {
	Tokens     domain.TokenProvider // nil: attachment path always fails with ErrCredential
	GraphScope string
	Downloader Downloader
	Extractor  Extractor
	Backend    domain.QueryBackend
	Timeouts   Timeouts
	Logger     *slog.Logger
}

// Pipeline is stateless across messages and safe for concurrent use.
type Pipeline struct {
	tokens     domain.TokenProvider
	scope      string
	downloader Downloader
	extractor  Extractor
	backend    domain.QueryBackend
	timeouts   Timeouts
	logger     *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.GraphScope == "" {
		cfg.GraphScope = "https://graph.microsoft.com/.default"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		tokens:     cfg.Tokens,
		scope:      cfg.GraphScope,
		downloader: cfg.Downloader,
		extractor:  cfg.Extractor,
		backend:    cfg.Backend,
		timeouts:   cfg.Timeouts.withDefaults(),
		logger:     cfg.Logger,
	}
}

// Result is the outcome of one message. Reply is always set; Err carries the
// wrapped cause for logs and metrics only.
type Result struct {
	Reply          string
	Path           Path
	AttachmentName string
	QueryLength    int
	Err            error
}

// Classify picks the pipeline path: only the first attachment is consulted.
func Classify(msg domain.InboundMessage) Path {
	if att, ok := msg.FirstAttachment(); ok && att.ContentType == domain.FileDownloadInfo {
		return PathAttachment
	}
	return PathText
}

// CombineQuery appends extracted document text to the user's text.
func CombineQuery(userText, extracted string) string {
	return userText + PDFMarker + extracted
}

// Handle runs msg through the pipeline and returns exactly one reply.
func (p *Pipeline) Handle(ctx context.Context, msg domain.InboundMessage) Result {
	if Classify(msg) == PathAttachment {
		return p.handleAttachment(ctx, msg)
	}
	return p.handleText(ctx, msg)
}

func (p *Pipeline) handleText(ctx context.Context, msg domain.InboundMessage) Result {
	res := Result{Path: PathText, QueryLength: len(msg.Text)}

	answer, err := p.query(ctx, msg.Text, msg.Details)
	if err != nil {
		p.logger.Error("error calling backend",
			"message_id", msg.ID,
			"channel", msg.Channel,
			"err", err,
		)
		res.Reply = BackendFailureReply
		res.Err = err
		return res
	}
	res.Reply = answer
	return res
}

func (p *Pipeline) handleAttachment(ctx context.Context, msg domain.InboundMessage) Result {
	att, _ := msg.FirstAttachment()
	res := Result{Path: PathAttachment, AttachmentName: att.Name}
	if extra := len(msg.Attachments) - 1; extra > 0 {
		p.logger.Debug("ignoring additional attachments", "message_id", msg.ID, "ignored", extra)
	}

	answer, queryLen, err := p.relayAttachment(ctx, msg, att)
	res.QueryLength = queryLen
	if err != nil {
		p.logger.Error("error downloading or parsing PDF",
			"message_id", msg.ID,
			"channel", msg.Channel,
			"attachment", att.Name,
			"stage", StageOf(err),
			"err", err,
		)
		res.Reply = AttachmentFailureReply
		res.Err = err
		return res
	}
	res.Reply = answer
	return res
}

func (p *Pipeline) relayAttachment(ctx context.Context, msg domain.InboundMessage, att domain.Attachment) (string, int, error) {
	if p.tokens == nil {
		return "", 0, fmt.Errorf("%w: no credential provider configured", ErrCredential)
	}
	if att.DownloadURL == "" {
		return "", 0, fmt.Errorf("%w: attachment %q has no download url", ErrDownload, att.Name)
	}

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, p.timeouts.Token)
	tok, err := p.tokens.GetToken(tctx, p.scope)
	cancel()
	metrics.StageLatency("credential").ObserveSince(start)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrCredential, err)
	}

	start = time.Now()
	dctx, cancel := context.WithTimeout(ctx, p.timeouts.Download)
	file, err := p.downloader.Download(dctx, att.DownloadURL, att.Name, tok.Value)
	cancel()
	metrics.StageLatency("download").ObserveSince(start)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer func() {
		if err := file.Remove(); err != nil {
			p.logger.Warn("failed to remove temporary attachment", "path", file.Path, "err", err)
		}
	}()

	start = time.Now()
	ectx, cancel := context.WithTimeout(ctx, p.timeouts.Extraction)
	doc, err := p.extractor.ExtractFile(ectx, file.Path, att.Name)
	cancel()
	metrics.StageLatency("extraction").ObserveSince(start)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	p.logger.Info("pdf extracted",
		"message_id", msg.ID,
		"attachment", doc.SourceFileName,
		"pages", doc.Pages,
		"text_len", len(doc.Text),
	)

	query := CombineQuery(msg.Text, doc.Text)
	answer, err := p.query(ctx, query, msg.Details)
	return answer, len(query), err
}

// query sends one OutboundQuery under the backend timeout.
func (p *Pipeline) query(ctx context.Context, text string, details map[string]string) (string, error) {
	if p.backend == nil {
		return "", fmt.Errorf("%w: no backend configured", ErrBackend)
	}

	start := time.Now()
	bctx, cancel := context.WithTimeout(ctx, p.timeouts.Backend)
	defer cancel()
	resp, err := p.backend.Query(bctx, domain.OutboundQuery{Query: text, AdditionalDetails: details})
	metrics.StageLatency("backend").ObserveSince(start)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, errors.New("empty backend response"))
	}
	return resp.Response, nil
}
