package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if v, err := GetSchemaVersion(db); err != nil || v != 0 {
		t.Fatalf("fresh db: version=%d err=%v", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, testLogger()); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
	v, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, v)
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, ex := range []domain.Exchange{
		{ID: "a", Channel: "bot", Path: "text", Outcome: "ok", QueryLength: 5, LatencyMs: 40},
		{ID: "b", Channel: "bot", Path: "attachment", AttachmentName: "r.pdf", Outcome: "download", LatencyMs: 90},
		{ID: "c", Channel: "telegram", Path: "text", Outcome: "backend"},
	} {
		ex.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.RecordExchange(ctx, ex); err != nil {
			t.Fatalf("RecordExchange(%s): %v", ex.ID, err)
		}
	}

	got, err := s.RecentExchanges(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("expected newest first [c b], got [%s %s]", got[0].ID, got[1].ID)
	}
	if got[1].AttachmentName != "r.pdf" || got[1].Outcome != "download" || got[1].LatencyMs != 90 {
		t.Errorf("fields not preserved: %+v", got[1])
	}
	if !got[1].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("created_at: got %v", got[1].CreatedAt)
	}
}

func TestRecentExchanges_DefaultLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < defaultRecentLimit+5; i++ {
		ex := domain.Exchange{ID: string(rune('A' + i)), Channel: "cli", Path: "text", Outcome: "ok"}
		if err := s.RecordExchange(ctx, ex); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.RecentExchanges(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != defaultRecentLimit {
		t.Errorf("expected %d, got %d", defaultRecentLimit, len(got))
	}
}

func TestOutcomeCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []domain.Exchange{
		{ID: "old", Outcome: "ok", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "1", Outcome: "ok", CreatedAt: now.Add(-time.Minute)},
		{ID: "2", Outcome: "ok", CreatedAt: now.Add(-time.Minute)},
		{ID: "3", Outcome: "backend", CreatedAt: now.Add(-time.Minute)},
	}
	for _, ex := range records {
		ex.Channel, ex.Path = "bot", "text"
		if err := s.RecordExchange(ctx, ex); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.OutcomeCounts(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if counts["ok"] != 2 || counts["backend"] != 1 || len(counts) != 2 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestRecordExchange_SameIDReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.RecordExchange(ctx, domain.Exchange{ID: "x", Channel: "bot", Path: "text", Outcome: "backend"})
	if err := s.RecordExchange(ctx, domain.Exchange{ID: "x", Channel: "bot", Path: "text", Outcome: "ok"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecentExchanges(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Outcome != "ok" {
		t.Errorf("expected one replaced row, got %+v", got)
	}
}
