// Package audit keeps an optional SQLite ledger of handled exchanges. Only
// metadata is stored: message text, extracted text and backend responses never
// reach the database.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/internal/domain"
)

const defaultRecentLimit = 20

// SQLiteStore implements domain.ExchangeRecorder.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.ExchangeRecorder = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) RecordExchange(ctx context.Context, ex domain.Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO exchanges
		 (id, channel, conversation_id, path, attachment_name, query_length, outcome, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.Channel, ex.ConversationID, ex.Path, ex.AttachmentName,
		ex.QueryLength, ex.Outcome, ex.LatencyMs, ex.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record exchange %s: %w", ex.ID, err)
	}
	return nil
}

// RecentExchanges returns up to limit exchanges, newest first.
func (s *SQLiteStore) RecentExchanges(ctx context.Context, limit int) ([]domain.Exchange, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, conversation_id, path, attachment_name, query_length, outcome, latency_ms, created_at
		 FROM exchanges ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []domain.Exchange
	for rows.Next() {
		var ex domain.Exchange
		if err := rows.Scan(&ex.ID, &ex.Channel, &ex.ConversationID, &ex.Path, &ex.AttachmentName,
			&ex.QueryLength, &ex.Outcome, &ex.LatencyMs, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// OutcomeCounts tallies exchanges per outcome since the given time.
func (s *SQLiteStore) OutcomeCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM exchanges WHERE created_at >= ? GROUP BY outcome`, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
