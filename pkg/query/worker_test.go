package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/connection"
)

func pageFixture(t *testing.T, stmt string, total int, pageSize, offset int64) *fakeEngine {
	t.Helper()

	p, err := Paginate(stmt, pageSize, offset)
	if err != nil {
		t.Fatalf("Paginate() error = %v", err)
	}

	all := intRows(total)
	start := min(int(offset), total)
	end := min(start+int(pageSize), total)

	e := newFakeEngine()
	e.results[p.CountQuery] = &fakeCursor{columns: []string{"count"}, rows: [][]any{{int64(total)}}}
	e.results[p.Query] = &fakeCursor{columns: []string{"id"}, types: []string{"BIGINT"}, rows: all[start:end]}
	return e
}

func TestStreamWorker_Page(t *testing.T) {
	stmt := "SELECT id FROM t"
	e := pageFixture(t, stmt, 25, 10, 10)
	w := NewStreamWorker(e, zap.NewNop(), WithChunkSize(3))

	events := collect(t, w.Start(context.Background(), PageRequest{
		Statement:  stmt,
		PageSize:   10,
		Offset:     10,
		KnownTotal: UnknownTotal,
	}))

	batches, errs := terminal(events)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}

	got := batches[0]
	if diff := cmp.Diff([]string{"id"}, got.Columns); diff != "" {
		t.Errorf("Columns mismatch (-want +got):\n%s", diff)
	}
	if got.RowCount() != 10 {
		t.Errorf("RowCount() = %d, want 10", got.RowCount())
	}
	if got.Rows[0][0] != int64(10) {
		t.Errorf("first row = %v, want 10", got.Rows[0][0])
	}
	if got.TotalCount != 25 {
		t.Errorf("TotalCount = %d, want 25", got.TotalCount)
	}
	if !got.HasMore {
		t.Error("HasMore = false, want true")
	}
	if got.Offset != 10 {
		t.Errorf("Offset = %d, want 10", got.Offset)
	}

	// Progress is monotonic, passes the coarse milestones and ends with 100
	// right before the batch.
	var progress []int
	for _, ev := range events {
		if ev.Type == EventProgress {
			progress = append(progress, ev.Progress)
		}
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress not monotonic: %v", progress)
		}
	}
	for _, milestone := range []int{25, 50, 75, 100} {
		found := false
		for _, p := range progress {
			found = found || p == milestone
		}
		if !found {
			t.Errorf("progress %v missing milestone %d", progress, milestone)
		}
	}
	last := events[len(events)-1]
	if last.Type != EventBatchReady || events[len(events)-2].Progress != 100 {
		t.Errorf("events do not end with progress 100 then batch")
	}
}

func TestStreamWorker_HasMore(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		offset      int64
		knownTotal  int64
		wantRows    int
		wantHasMore bool
	}{
		{name: "ExactlyOnePage", total: 10, offset: 0, knownTotal: UnknownTotal, wantRows: 10, wantHasMore: false},
		{name: "OneExtraRowFirstPage", total: 11, offset: 0, knownTotal: UnknownTotal, wantRows: 10, wantHasMore: true},
		{name: "OneExtraRowSecondPage", total: 11, offset: 10, knownTotal: UnknownTotal, wantRows: 1, wantHasMore: false},
		{name: "Empty", total: 0, offset: 0, knownTotal: UnknownTotal, wantRows: 0, wantHasMore: false},
		{name: "KnownTotalSkipsCount", total: 30, offset: 10, knownTotal: 30, wantRows: 10, wantHasMore: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := "SELECT id FROM t"
			e := pageFixture(t, stmt, tt.total, 10, tt.offset)
			w := NewStreamWorker(e, zap.NewNop(), WithChunkSize(4))

			batches, errs := terminal(collect(t, w.Start(context.Background(), PageRequest{
				Statement:  stmt,
				PageSize:   10,
				Offset:     tt.offset,
				KnownTotal: tt.knownTotal,
			})))
			if len(errs) != 0 || len(batches) != 1 {
				t.Fatalf("got %d batches and %v errors, want one batch", len(batches), errs)
			}
			if batches[0].RowCount() != tt.wantRows {
				t.Errorf("RowCount() = %d, want %d", batches[0].RowCount(), tt.wantRows)
			}
			if batches[0].HasMore != tt.wantHasMore {
				t.Errorf("HasMore = %v, want %v", batches[0].HasMore, tt.wantHasMore)
			}
		})
	}
}

func TestStreamWorker_KnownTotalSkipsCount(t *testing.T) {
	stmt := "SELECT id FROM t"
	e := pageFixture(t, stmt, 30, 10, 0)
	w := NewStreamWorker(e, zap.NewNop())

	collect(t, w.Start(context.Background(), PageRequest{Statement: stmt, PageSize: 10, KnownTotal: 30}))

	for _, executed := range e.Executed() {
		if strings.Contains(executed, "count_subquery") {
			t.Errorf("count query executed with a known total: %q", executed)
		}
	}
}

func TestStreamWorker_CountFailureDegrades(t *testing.T) {
	stmt := "SELECT id FROM t"
	e := pageFixture(t, stmt, 10, 10, 0)
	e.errs[CountQuery(stmt)] = errors.New("subquery not allowed")
	w := NewStreamWorker(e, zap.NewNop())

	batches, errs := terminal(collect(t, w.Start(context.Background(), PageRequest{
		Statement:  stmt,
		PageSize:   10,
		KnownTotal: UnknownTotal,
	})))

	if len(errs) != 0 {
		t.Fatalf("count failure surfaced as error: %v", errs)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if batches[0].TotalCount != UnknownTotal {
		t.Errorf("TotalCount = %d, want %d", batches[0].TotalCount, UnknownTotal)
	}
	// Unknown total with a full page: more rows may follow.
	if !batches[0].HasMore {
		t.Error("HasMore = false, want true with unknown total and a full page")
	}
}

func TestStreamWorker_ExecutionFailure(t *testing.T) {
	e := newFakeEngine()
	w := NewStreamWorker(e, zap.NewNop())

	h := w.Start(context.Background(), PageRequest{
		Statement:  "SELECT * FROM missing",
		PageSize:   10,
		KnownTotal: UnknownTotal,
	})
	batches, errs := terminal(collect(t, h))

	if len(batches) != 0 {
		t.Errorf("got %d batches, want 0", len(batches))
	}
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if errs[0].Kind != ErrorKindExecution {
		t.Errorf("Kind = %q, want %q", errs[0].Kind, ErrorKindExecution)
	}
	if errs[0].Message != "no such table" {
		t.Errorf("Message = %q, want engine text verbatim", errs[0].Message)
	}
	if h.State() != StateFailed {
		t.Errorf("State() = %q, want %q", h.State(), StateFailed)
	}
}

func TestStreamWorker_FetchFailureDiscardsRows(t *testing.T) {
	stmt := "SELECT id FROM t"
	e := pageFixture(t, stmt, 10, 10, 0)
	p, _ := Paginate(stmt, 10, 0)
	e.results[p.Query].fetchErr = errors.New("connection lost")
	e.results[p.Query].failAt = 2
	w := NewStreamWorker(e, zap.NewNop(), WithChunkSize(2))

	batches, errs := terminal(collect(t, w.Start(context.Background(), PageRequest{
		Statement:  stmt,
		PageSize:   10,
		KnownTotal: UnknownTotal,
	})))

	if len(batches) != 0 {
		t.Errorf("partial batch emitted: %d rows", batches[0].RowCount())
	}
	if len(errs) != 1 || errs[0].Kind != ErrorKindFetch {
		t.Fatalf("errors = %v, want one fetch error", errs)
	}
	if errs[0].Statement != stmt {
		t.Errorf("Statement = %q, want %q", errs[0].Statement, stmt)
	}
}

func TestStreamWorker_PreparationFailure(t *testing.T) {
	w := NewStreamWorker(newFakeEngine(), zap.NewNop())

	tests := []struct {
		name string
		req  PageRequest
	}{
		{name: "Empty", req: PageRequest{Statement: " ; ", PageSize: 10, KnownTotal: UnknownTotal}},
		{name: "ZeroPageSize", req: PageRequest{Statement: "SELECT 1", PageSize: 0, KnownTotal: UnknownTotal}},
		{name: "NegativeOffset", req: PageRequest{Statement: "SELECT 1", PageSize: 10, Offset: -5, KnownTotal: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := terminal(collect(t, w.Start(context.Background(), tt.req)))
			if len(errs) != 1 || errs[0].Kind != ErrorKindPreparation {
				t.Errorf("errors = %v, want one preparation error", errs)
			}
		})
	}
}

func TestStreamWorker_NonRowProducingAck(t *testing.T) {
	e := newFakeEngine()
	e.results["CREATE TABLE t (id INT)"] = &fakeCursor{}
	w := NewStreamWorker(e, zap.NewNop())

	batches, errs := terminal(collect(t, w.Start(context.Background(), PageRequest{
		Statement:  "CREATE TABLE t (id INT);",
		PageSize:   10,
		KnownTotal: UnknownTotal,
	})))
	if len(errs) != 0 || len(batches) != 1 {
		t.Fatalf("got %d batches and %v errors, want one batch", len(batches), errs)
	}

	want := &Batch{
		Columns:     []string{AckColumn},
		ColumnTypes: []string{"VARCHAR"},
		Rows:        []Row{{"CREATE statement executed successfully"}},
		TotalCount:  1,
		Statement:   "CREATE TABLE t (id INT)",
	}
	if diff := cmp.Diff(want, batches[0]); diff != "" {
		t.Errorf("ack batch mismatch (-want +got):\n%s", diff)
	}

	// Non-row-producing statements are never counted or rewritten.
	if diff := cmp.Diff([]string{"CREATE TABLE t (id INT)"}, e.Executed()); diff != "" {
		t.Errorf("executed statements mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamWorker_EmptyCommandResultAcknowledged(t *testing.T) {
	tests := []struct {
		name    string
		stmt    string
		cursor  *fakeCursor
		wantAck bool
	}{
		{
			name:    "CreateWithEmptyCountColumn",
			stmt:    "CREATE TABLE t (id INT)",
			cursor:  &fakeCursor{columns: []string{"Count"}},
			wantAck: true,
		},
		{
			name:    "InsertWithCount",
			stmt:    "INSERT INTO t VALUES (1)",
			cursor:  &fakeCursor{columns: []string{"Count"}, rows: intRows(1)},
			wantAck: false,
		},
		{
			name:    "EmptyWithQueryKeepsColumns",
			stmt:    "WITH x AS (SELECT 1 AS a) SELECT * FROM x WHERE false",
			cursor:  &fakeCursor{columns: []string{"a"}},
			wantAck: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newFakeEngine()
			e.results[tt.stmt] = tt.cursor
			w := NewStreamWorker(e, zap.NewNop())

			batches, errs := terminal(collect(t, w.Start(context.Background(), PageRequest{
				Statement:  tt.stmt,
				PageSize:   10,
				KnownTotal: UnknownTotal,
			})))
			if len(errs) != 0 || len(batches) != 1 {
				t.Fatalf("got %d batches and %v errors, want one batch", len(batches), errs)
			}
			gotAck := len(batches[0].Columns) == 1 && batches[0].Columns[0] == AckColumn
			if gotAck != tt.wantAck {
				t.Errorf("columns = %v, acknowledged = %v, want %v", batches[0].Columns, gotAck, tt.wantAck)
			}
		})
	}
}

func TestStreamWorker_NonRowProducingWithColumns(t *testing.T) {
	stmt := "WITH x AS (SELECT 1) SELECT * FROM x"
	e := newFakeEngine()
	e.results[stmt] = &fakeCursor{columns: []string{"1"}, rows: intRows(3)}
	w := NewStreamWorker(e, zap.NewNop())

	batches, _ := terminal(collect(t, w.Start(context.Background(), PageRequest{
		Statement:  stmt,
		PageSize:   3,
		KnownTotal: UnknownTotal,
	})))
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if batches[0].HasMore {
		t.Error("HasMore = true, want false for a non-row-producing statement")
	}
	if batches[0].RowCount() != 3 {
		t.Errorf("RowCount() = %d, want 3", batches[0].RowCount())
	}
}

func TestStreamWorker_SetupRunsFirst(t *testing.T) {
	stmt := "SELECT id FROM t"
	e := pageFixture(t, stmt, 3, 10, 0)
	e.results["CREATE TABLE t (id INT)"] = &fakeCursor{}
	w := NewStreamWorker(e, zap.NewNop())

	collect(t, w.Start(context.Background(), PageRequest{
		Setup:      []string{"CREATE TABLE t (id INT)"},
		Statement:  stmt,
		PageSize:   10,
		KnownTotal: UnknownTotal,
	}))

	executed := e.Executed()
	if len(executed) != 3 || executed[0] != "CREATE TABLE t (id INT)" {
		t.Errorf("executed = %q, want setup first then count and page", executed)
	}
}

func TestStreamWorker_SetupFailure(t *testing.T) {
	e := newFakeEngine()
	w := NewStreamWorker(e, zap.NewNop())

	_, errs := terminal(collect(t, w.Start(context.Background(), PageRequest{
		Setup:      []string{"CREATE TABLE broken"},
		Statement:  "SELECT 1",
		PageSize:   10,
		KnownTotal: UnknownTotal,
	})))
	if len(errs) != 1 || errs[0].Statement != "CREATE TABLE broken" {
		t.Errorf("errors = %v, want one error for the setup statement", errs)
	}
}

func TestStreamWorker_Clamping(t *testing.T) {
	stmt := "SELECT blob, text FROM big"
	p, _ := Paginate(stmt, 10, 0)
	e := newFakeEngine()
	e.results[p.Query] = &fakeCursor{
		columns: []string{"blob", "text"},
		rows:    [][]any{{make([]byte, 20000), strings.Repeat("z", 60000)}},
	}
	w := NewStreamWorker(e, zap.NewNop())

	batches, _ := terminal(collect(t, w.Start(context.Background(), PageRequest{Statement: stmt, PageSize: 10, KnownTotal: 1})))
	if len(batches) != 1 || batches[0].RowCount() != 1 {
		t.Fatalf("want one batch with one row")
	}

	row := batches[0].Rows[0]
	if row[0] != "<binary data: 19.5 KiB>" {
		t.Errorf("binary cell = %v, want size summary", row[0])
	}
	if row[1] != strings.Repeat("z", 50000)+TruncationMarker {
		t.Errorf("string cell not truncated to 50000 characters plus marker")
	}
}

func TestStreamWorker_Cancellation(t *testing.T) {
	stmt := "SELECT id FROM huge"
	p, _ := Paginate(stmt, 1_000_000, 0)
	e := newFakeEngine()
	e.results[p.Query] = &fakeCursor{columns: []string{"id"}, endless: true, delay: 5 * time.Millisecond}
	w := NewStreamWorker(e, zap.NewNop(), WithChunkSize(10))

	h := w.Start(context.Background(), PageRequest{Statement: stmt, PageSize: 1_000_000, KnownTotal: 1_000_000})

	// Wait until the worker is fetching, then cancel.
	var events []Event
	for ev := range h.Events() {
		events = append(events, ev)
		if ev.Type == EventProgress && ev.Progress >= 75 {
			break
		}
	}
	h.Cancel()
	events = append(events, collect(t, h)...)

	batches, errs := terminal(events)
	if len(batches) != 0 || len(errs) != 0 {
		t.Errorf("cancelled worker emitted %d batches and %d errors", len(batches), len(errs))
	}
	if h.State() != StateCancelled {
		t.Errorf("State() = %q, want %q", h.State(), StateCancelled)
	}
}

func TestStreamWorker_CancelBeforeStart(t *testing.T) {
	e := newFakeEngine()
	w := NewStreamWorker(e, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collect(t, w.Start(ctx, PageRequest{Statement: "SELECT 1", PageSize: 10, KnownTotal: UnknownTotal}))
	if len(events) != 0 {
		t.Errorf("got %d events from a cancelled worker, want 0", len(events))
	}
	if len(e.Executed()) != 0 {
		t.Errorf("engine called after cancellation: %q", e.Executed())
	}
}

type panicEngine struct{}

func (panicEngine) Execute(context.Context, string) (connection.Cursor, error) {
	panic("driver exploded")
}

func TestStreamWorker_PanicBecomesError(t *testing.T) {
	w := NewStreamWorker(panicEngine{}, zap.NewNop())

	_, errs := terminal(collect(t, w.Start(context.Background(), PageRequest{Statement: "SELECT 1", PageSize: 10, KnownTotal: 1})))
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "driver exploded") {
		t.Errorf("errors = %v, want one error carrying the panic", errs)
	}
}

func TestStreamWorker_RunSynchronous(t *testing.T) {
	stmt := "SELECT id FROM t"
	e := pageFixture(t, stmt, 5, 10, 0)
	w := NewStreamWorker(e, nil)

	var got []Event
	state := w.Run(NewCancelToken(context.Background()), PageRequest{Statement: stmt, PageSize: 10, KnownTotal: UnknownTotal}, func(ev Event) bool {
		got = append(got, ev)
		return true
	})

	if state != StateDone {
		t.Errorf("Run() = %q, want %q", state, StateDone)
	}
	batches, _ := terminal(got)
	if len(batches) != 1 || batches[0].RowCount() != 5 || batches[0].HasMore {
		t.Errorf("unexpected batch from Run()")
	}
}
