// Package extract pulls plain text out of downloaded documents.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"relaybot/internal/domain"
)

var ErrNoPages = errors.New("pdf has no pages")

// PDF extracts text from PDF files using ledongthuc/pdf.
type PDF struct{}

func NewPDF() *PDF { return &PDF{} }

// ExtractFile parses the PDF at path. The parser is not context aware, so it
// runs in its own goroutine and ExtractFile returns ctx.Err() once ctx is done.
func (p *PDF) ExtractFile(ctx context.Context, path, sourceName string) (domain.ExtractedDocument, error) {
	if sourceName == "" {
		sourceName = filepath.Base(path)
	}

	type result struct {
		text  string
		pages int
		err   error
	}
	done := make(chan result, 1)
	go func() {
		text, pages, err := readPlainText(path)
		done <- result{text, pages, err}
	}()

	select {
	case <-ctx.Done():
		return domain.ExtractedDocument{}, fmt.Errorf("extract %s: %w", sourceName, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return domain.ExtractedDocument{}, fmt.Errorf("extract %s: %w", sourceName, r.err)
		}
		return domain.ExtractedDocument{
			SourceFileName: sourceName,
			Text:           r.text,
			Pages:          r.pages,
		}, nil
	}
}

// readPlainText concatenates the text of every page. Malformed input can make
// the parser panic; that is reported as an error.
func readPlainText(path string) (text string, pages int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages = r.NumPage()
	if pages == 0 {
		return "", 0, ErrNoPages
	}

	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		if pageText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(pageText)
	}
	return sb.String(), pages, nil
}
