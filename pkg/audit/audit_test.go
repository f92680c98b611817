package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLogger(t *testing.T) *Logger {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	l, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLogAndQuery(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	err := l.Log(ctx, EventCredSet, "wss://host/live", "cli", "live_token")
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, Filter{EventType: EventCredSet})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].Detail != "live_token" {
		t.Errorf("Detail = %q, want %q", entries[0].Detail, "live_token")
	}
}

func TestLogStructuredDetail(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	detail := map[string]any{"state": "closed", "attempt": 2}
	if err := l.Log(ctx, EventChannelRetry, "", "channel", detail); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, _ := l.Query(ctx, Filter{Limit: 1})
	if len(entries) == 0 {
		t.Fatal("no entries")
	}
	if entries[0].Detail != `{"attempt":2,"state":"closed"}` {
		t.Errorf("Detail = %q", entries[0].Detail)
	}
}

func TestQueryFilters(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	if err := l.Log(ctx, EventChannelOpen, "wss://a/live", "channel", ""); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(ctx, EventManualConnect, "wss://a/live", "gateway", ""); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(ctx, EventChannelOpen, "wss://b/live", "channel", ""); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, _ := l.Query(ctx, Filter{EventType: EventChannelOpen})
	if len(entries) != 2 {
		t.Errorf("by event: len = %d, want 2", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{Endpoint: "wss://a/live"})
	if len(entries) != 2 {
		t.Errorf("by endpoint: len = %d, want 2", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{Actor: "gateway"})
	if len(entries) != 1 {
		t.Errorf("by actor: len = %d, want 1", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{Limit: 1})
	if len(entries) != 1 {
		t.Errorf("by limit: len = %d, want 1", len(entries))
	}
}

func TestQueryTimeRange(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	if err := l.Log(ctx, EventChannelOpen, "", "", "event"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, _ := l.Query(ctx, Filter{Since: before})
	if len(entries) != 1 {
		t.Errorf("since: len = %d, want 1", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{Until: before})
	if len(entries) != 0 {
		t.Errorf("before event: len = %d, want 0", len(entries))
	}
}

func TestQueryOrdering(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	for _, d := range []string{"first", "second", "third"} {
		if err := l.Log(ctx, EventChannelRetry, "", "channel", d); err != nil {
			t.Fatalf("Log: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	entries, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].Detail != "third" {
		t.Errorf("entries[0].Detail = %q, want %q (DESC order)", entries[0].Detail, "third")
	}
	if entries[2].Detail != "first" {
		t.Errorf("entries[2].Detail = %q, want %q", entries[2].Detail, "first")
	}
}

func TestPruneBefore(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Log(ctx, EventChannelClosed, "", "", fmt.Sprintf("event-%d", i)); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	n, err := l.PruneBefore(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 0 {
		t.Errorf("pruned %d recent entries, want 0", n)
	}

	n, err = l.PruneBefore(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned = %d, want 3", n)
	}
	entries, _ := l.Query(ctx, Filter{})
	if len(entries) != 0 {
		t.Errorf("len after prune = %d, want 0", len(entries))
	}
}

func TestAutoMigrateIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	if _, err := New(db); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(db); err != nil {
		t.Fatalf("second New: %v", err)
	}
}
