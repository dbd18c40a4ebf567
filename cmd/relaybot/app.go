package main

import (
	"fmt"
	"net/http"
	"time"

	"relaybot/internal/attachment"
	"relaybot/internal/audit"
	"relaybot/internal/backend"
	"relaybot/internal/bus"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/extract"
	"relaybot/internal/feedback"
	"relaybot/internal/httpclient"
	"relaybot/internal/identity"
	"relaybot/internal/relay"
)

// app holds the components shared by serve and ask.
type app struct {
	cfg      *config.Config
	client   *http.Client
	bus      *bus.InMemoryBus
	tokens   domain.TokenProvider // nil when no credentials are configured
	store    *audit.SQLiteStore   // nil when auditing is disabled
	feedback *feedback.Handler
	loop     *relay.Loop
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func newApp(cfg *config.Config) (*app, error) {
	rt := &app{
		cfg:      cfg,
		client:   httpclient.New(seconds(maxTimeout(cfg.Timeouts))),
		bus:      bus.New(cfg.General.BusBufferSize, logger),
		feedback: feedback.NewHandler(logger),
	}

	if cfg.Identity.Complete() {
		creds, err := identity.New(identity.Config{
			TenantID:      cfg.Identity.TenantID,
			ClientID:      cfg.Identity.ClientID,
			ClientSecret:  cfg.Identity.ClientSecret,
			AuthorityHost: cfg.Identity.AuthorityHost,
			HTTPClient:    rt.client,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("identity: %w", err)
		}
		rt.tokens = creds
	} else {
		logger.Warn("identity credentials not configured; PDF attachments will be rejected")
	}

	var recorder domain.ExchangeRecorder
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		rt.store = store
		recorder = store
	}

	pipeline := relay.NewPipeline(relay.PipelineConfig{
		Tokens:     rt.tokens,
		GraphScope: cfg.Identity.GraphScope,
		Downloader: attachment.NewDownloader(attachment.Config{
			TempDir:      cfg.Attachments.TempDir,
			MaxSizeBytes: cfg.Attachments.MaxSizeBytes,
			HTTPClient:   rt.client,
			Logger:       logger,
		}),
		Extractor: extract.NewPDF(),
		Backend: backend.New(backend.Config{
			URL:        cfg.Backend.URL,
			HTTPClient: rt.client,
			Logger:     logger,
		}),
		Timeouts: relay.Timeouts{
			Token:      seconds(cfg.Timeouts.TokenSeconds),
			Download:   seconds(cfg.Timeouts.DownloadSeconds),
			Extraction: seconds(cfg.Timeouts.ExtractionSeconds),
			Backend:    seconds(cfg.Timeouts.BackendSeconds),
		},
		Logger: logger,
	})

	rt.loop = relay.NewLoop(relay.LoopConfig{
		Pipeline:    pipeline,
		Bus:         rt.bus,
		Recorder:    recorder,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentMessages,
	})
	return rt, nil
}

func (rt *app) Close() {
	rt.bus.Close()
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			logger.Warn("failed to close audit store", "err", err)
		}
	}
}

// maxTimeout is the longest per-step timeout; it caps each HTTP request.
func maxTimeout(t config.TimeoutsConfig) int {
	m := t.TokenSeconds
	for _, s := range []int{t.DownloadSeconds, t.BackendSeconds, t.ReplySeconds} {
		if s > m {
			m = s
		}
	}
	return m
}
