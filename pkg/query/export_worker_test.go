package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestExportWorker_FetchesEverything(t *testing.T) {
	stmt := "SELECT id FROM t"
	e := newFakeEngine()
	e.results[stmt] = &fakeCursor{columns: []string{"id"}, types: []string{"BIGINT"}, rows: intRows(25)}
	w := NewExportWorker(e, zap.NewNop(), WithChunkSize(10))

	events := collect(t, w.Start(context.Background(), stmt+";"))
	batches, errs := terminal(events)
	if len(errs) != 0 || len(batches) != 1 {
		t.Fatalf("got %d batches and %v errors, want one batch", len(batches), errs)
	}

	got := batches[0]
	if got.RowCount() != 25 || got.TotalCount != 25 || got.HasMore {
		t.Errorf("batch rows=%d total=%d hasMore=%v, want 25/25/false", got.RowCount(), got.TotalCount, got.HasMore)
	}
	for i, row := range got.Rows {
		if row[0] != int64(i) {
			t.Fatalf("row %d = %v, want %d", i, row[0], i)
		}
	}

	var progress []int
	for _, ev := range events {
		if ev.Type == EventProgress {
			progress = append(progress, ev.Progress)
		}
	}
	want := []int{10, 15, 20, 25, 100}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress = %v, want %v", progress, want)
			break
		}
	}

	// Export runs the statement as written: no count, no rewrite.
	if executed := e.Executed(); len(executed) != 1 || executed[0] != stmt {
		t.Errorf("executed = %q, want only %q", executed, stmt)
	}
}

func TestExportWorker_ProgressCapped(t *testing.T) {
	stmt := "SELECT id FROM t"
	e := newFakeEngine()
	e.results[stmt] = &fakeCursor{columns: []string{"id"}, rows: intRows(500)}
	w := NewExportWorker(e, zap.NewNop(), WithChunkSize(10))

	for _, ev := range collect(t, w.Start(context.Background(), stmt)) {
		if ev.Type == EventProgress && ev.Progress > 95 && ev.Progress != 100 {
			t.Fatalf("progress %d exceeds the fetch cap", ev.Progress)
		}
	}
}

func TestExportWorker_NoClamping(t *testing.T) {
	stmt := "SELECT payload FROM t"
	long := strings.Repeat("q", 60000)
	e := newFakeEngine()
	e.results[stmt] = &fakeCursor{columns: []string{"payload"}, rows: [][]any{{long, int32(3)}}}
	w := NewExportWorker(e, zap.NewNop())

	batches, _ := terminal(collect(t, w.Start(context.Background(), stmt)))
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if batches[0].Rows[0][0] != long {
		t.Error("export clamped a long string")
	}
	if batches[0].Rows[0][1] != int64(3) {
		t.Errorf("cell = %#v, want normalized int64(3)", batches[0].Rows[0][1])
	}
}

func TestExportWorker_Failures(t *testing.T) {
	t.Run("Execution", func(t *testing.T) {
		w := NewExportWorker(newFakeEngine(), zap.NewNop())
		batches, errs := terminal(collect(t, w.Start(context.Background(), "SELECT * FROM missing")))
		if len(batches) != 0 || len(errs) != 1 || errs[0].Kind != ErrorKindExecution {
			t.Errorf("batches=%d errors=%v, want one execution error", len(batches), errs)
		}
	})

	t.Run("Fetch", func(t *testing.T) {
		stmt := "SELECT id FROM t"
		e := newFakeEngine()
		e.results[stmt] = &fakeCursor{columns: []string{"id"}, rows: intRows(30), fetchErr: errors.New("disk full"), failAt: 10}
		w := NewExportWorker(e, zap.NewNop(), WithChunkSize(10))

		batches, errs := terminal(collect(t, w.Start(context.Background(), stmt)))
		if len(batches) != 0 || len(errs) != 1 || errs[0].Kind != ErrorKindFetch {
			t.Errorf("batches=%d errors=%v, want one fetch error", len(batches), errs)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		w := NewExportWorker(newFakeEngine(), zap.NewNop())
		_, errs := terminal(collect(t, w.Start(context.Background(), ";")))
		if len(errs) != 1 || errs[0].Kind != ErrorKindPreparation {
			t.Errorf("errors = %v, want one preparation error", errs)
		}
	})
}

func TestExportWorker_Cancellation(t *testing.T) {
	stmt := "SELECT id FROM huge"
	e := newFakeEngine()
	e.results[stmt] = &fakeCursor{columns: []string{"id"}, endless: true, delay: 5 * time.Millisecond}
	w := NewExportWorker(e, zap.NewNop(), WithChunkSize(100))

	h := w.Start(context.Background(), stmt)
	var events []Event
	for ev := range h.Events() {
		events = append(events, ev)
		if ev.Progress >= 15 {
			break
		}
	}
	h.Cancel()
	events = append(events, collect(t, h)...)

	batches, errs := terminal(events)
	if len(batches) != 0 || len(errs) != 0 {
		t.Errorf("cancelled export emitted %d batches and %d errors", len(batches), len(errs))
	}
}
