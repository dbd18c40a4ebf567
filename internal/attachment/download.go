// Package attachment downloads message attachments into per-request
// temporary storage.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const defaultMaxSize = 50 * 1024 * 1024

var ErrTooLarge = errors.New("attachment exceeds size limit")

// StatusError reports a non-success response from the file source.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download failed: HTTP %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	TempDir      string // parent of per-request directories (default: os.TempDir())
	MaxSizeBytes int64
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Downloader fetches attachment bytes with a bearer token.
type Downloader struct {
	tempDir string
	maxSize int64
	client  *http.Client
	logger  *slog.Logger
}

func NewDownloader(cfg Config) *Downloader {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = defaultMaxSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Downloader{
		tempDir: cfg.TempDir,
		maxSize: cfg.MaxSizeBytes,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

// TempFile is a downloaded attachment on disk. Remove deletes it together with
// its per-request directory.
type TempFile struct {
	RequestID string
	Name      string
	Path      string
	Size      int64
	dir       string
}

func (f *TempFile) Remove() error {
	if f == nil || f.dir == "" {
		return nil
	}
	return os.RemoveAll(f.dir)
}

// Download GETs url with "Authorization: Bearer <token>" and stores the body
// under <tempDir>/<request uuid>/<name>. Nothing is left on disk when an error
// is returned.
func (d *Downloader) Download(ctx context.Context, url, name, token string) (*TempFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if resp.ContentLength > d.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrTooLarge, resp.ContentLength, d.maxSize)
	}

	requestID := uuid.NewString()
	dir := filepath.Join(d.tempDir, "relaybot-"+requestID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	f := &TempFile{
		RequestID: requestID,
		Name:      name,
		Path:      filepath.Join(dir, SafeName(name)),
		dir:       dir,
	}

	out, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		f.Remove()
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	written, err := io.Copy(out, io.LimitReader(resp.Body, d.maxSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		f.Remove()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if written > d.maxSize {
		f.Remove()
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxSize)
	}
	f.Size = written

	d.logger.Debug("attachment downloaded",
		"request_id", requestID,
		"name", name,
		"size", written,
	)
	return f, nil
}

// SafeName reduces an attachment name to a single path element.
func SafeName(name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if base == "/" || base == "." || base == "" {
		return "attachment"
	}
	return base
}
