package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nnnkkk7/duckbench/pkg/connection"
)

// fakeEngine serves canned results keyed by statement.
type fakeEngine struct {
	mu       sync.Mutex
	results  map[string]*fakeCursor
	errs     map[string]error
	fallback func(stmt string) (connection.Cursor, error)
	executed []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		results: make(map[string]*fakeCursor),
		errs:    make(map[string]error),
	}
}

func (e *fakeEngine) Execute(ctx context.Context, stmt string) (connection.Cursor, error) {
	e.mu.Lock()
	e.executed = append(e.executed, stmt)
	cur, ok := e.results[stmt]
	err := e.errs[stmt]
	fallback := e.fallback
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if ok {
		return cur.clone(ctx), nil
	}
	if fallback != nil {
		return fallback(stmt)
	}
	return nil, errors.New("no such table")
}

func (e *fakeEngine) Executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

// fakeCursor returns rows from a fixed slice, or an endless sequence.
type fakeCursor struct {
	ctx      context.Context
	columns  []string
	types    []string
	rows     [][]any
	pos      int
	endless  bool
	delay    time.Duration
	fetchErr error
	failAt   int // fetchErr is returned once pos reaches failAt
	closed   bool
}

func (c *fakeCursor) clone(ctx context.Context) *fakeCursor {
	cp := *c
	cp.ctx = ctx
	cp.rows = make([][]any, len(c.rows))
	for i, r := range c.rows {
		cp.rows[i] = append([]any(nil), r...)
	}
	return &cp
}

func (c *fakeCursor) Columns() []string     { return c.columns }
func (c *fakeCursor) ColumnTypes() []string { return c.types }

func (c *fakeCursor) FetchChunk(n int) ([][]any, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		}
	}
	if c.fetchErr != nil && c.pos >= c.failAt {
		return nil, c.fetchErr
	}
	if c.endless {
		out := make([][]any, n)
		for i := range out {
			out[i] = []any{int64(c.pos)}
			c.pos++
		}
		return out, nil
	}
	end := min(c.pos+n, len(c.rows))
	out := c.rows[c.pos:end]
	c.pos = end
	return out, nil
}

func (c *fakeCursor) FetchOne() ([]any, error) {
	rows, err := c.FetchChunk(1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (c *fakeCursor) Close() error {
	c.closed = true
	return nil
}

func intRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	return rows
}

// collect drains a handle's events until the worker exits.
func collect(t *testing.T, h *Handle) []Event {
	t.Helper()

	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				h.Wait()
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for worker events")
			return nil
		}
	}
}

// terminal returns the batch and error events of a run.
func terminal(events []Event) (batches []*Batch, errs []*Error) {
	for _, ev := range events {
		switch ev.Type {
		case EventBatchReady:
			batches = append(batches, ev.Batch)
		case EventError:
			errs = append(errs, ev.Err)
		}
	}
	return batches, errs
}
