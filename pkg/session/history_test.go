package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/nnnkkk7/duckbench/pkg/connection"
)

// setupTestHistory creates a history store with in-memory DuckDB.
func setupTestHistory(t *testing.T) *HistoryStore {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("failed to open DuckDB: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close DB: %v", err)
		}
	})

	store, err := NewHistoryStore(connection.NewManager(db))
	if err != nil {
		t.Fatalf("failed to create history store: %v", err)
	}

	return store
}

// TestHistoryStore_RecordAndList tests recording and listing submits.
func TestHistoryStore_RecordAndList(t *testing.T) {
	store := setupTestHistory(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	for _, text := range []string{"SELECT 1", "CREATE TABLE t (a INT); SELECT * FROM t"} {
		if err := store.Record(ctx, "s1", text); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := store.Record(ctx, "s2", "SELECT 'other'"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := store.List(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.SessionID != "s1" || e.ID == "" {
			t.Errorf("unexpected entry %+v", e)
		}
		if e.SubmittedAt.Before(before) {
			t.Errorf("SubmittedAt = %v, want after %v", e.SubmittedAt, before)
		}
	}

	limited, err := store.List(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("List() with limit error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("List() with limit 1 returned %d entries", len(limited))
	}
}

// TestHistoryStore_Delete tests removal by session and by age.
func TestHistoryStore_Delete(t *testing.T) {
	store := setupTestHistory(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s1", "s2"} {
		if err := store.Record(ctx, id, "SELECT 1"); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	entries, err := store.List(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() after DeleteSession returned %d entries", len(entries))
	}

	n, err := store.DeleteBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteBefore() deleted %d entries, want 1", n)
	}
}
