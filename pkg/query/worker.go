package query

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/config"
	"github.com/nnnkkk7/duckbench/pkg/connection"
)

// UnknownTotal marks a row count that has not been established.
const UnknownTotal int64 = -1

// AckColumn is the single column of the acknowledgment batch emitted for
// statements that produce no result set.
const AckColumn = "Result"

// PageRequest describes one page fetch.
type PageRequest struct {
	// Setup statements run once, in order, before Statement.
	Setup     []string
	Statement string
	PageSize  int64
	Offset    int64
	// KnownTotal skips the row count when >= 0. Use UnknownTotal otherwise.
	KnownTotal int64
}

// WorkerOption configures a worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	chunkSize int
	limits    CellLimits
}

// WithChunkSize sets the number of rows fetched per engine call.
func WithChunkSize(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithCellLimits sets the cell clamping thresholds.
func WithCellLimits(l CellLimits) WorkerOption {
	return func(o *workerOptions) {
		o.limits = l
	}
}

// StreamWorker fetches one page of a statement in bounded chunks.
type StreamWorker struct {
	engine     Engine
	logger     *zap.Logger
	classifier *Classifier
	chunkSize  int
	limits     CellLimits
}

// NewStreamWorker creates a streaming worker over engine.
func NewStreamWorker(engine Engine, logger *zap.Logger, opts ...WorkerOption) *StreamWorker {
	o := workerOptions{
		chunkSize: config.DefaultFetchChunkSize,
		limits:    DefaultCellLimits(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamWorker{
		engine:     engine,
		logger:     logger,
		classifier: DefaultClassifier,
		chunkSize:  o.chunkSize,
		limits:     o.limits,
	}
}

// Start runs the page fetch on a new goroutine.
func (w *StreamWorker) Start(ctx context.Context, req PageRequest) *Handle {
	return startHandle(ctx, req.Statement, func(token *CancelToken, emit Emitter, setState func(WorkerState)) WorkerState {
		return w.run(token, req, emit, setState)
	})
}

// Run fetches the page on the calling goroutine and returns the final state.
func (w *StreamWorker) Run(token *CancelToken, req PageRequest, emit Emitter) WorkerState {
	return w.run(token, req, emit, func(WorkerState) {})
}

func (w *StreamWorker) run(token *CancelToken, req PageRequest, emit Emitter, setState func(WorkerState)) WorkerState {
	stmt := cleanStatement(req.Statement)
	class := w.classifier.Classify(stmt)
	rowProducing := class.IsRowProducing()
	log := w.logger.With(
		zap.String("statement_kind", class.Kind.String()),
		zap.Int64("page_size", req.PageSize),
		zap.Int64("offset", req.Offset),
	)

	fail := func(qe *Error) WorkerState {
		if token.Cancelled() {
			log.Debug("worker cancelled", zap.String("during", string(qe.Kind)))
			return StateCancelled
		}
		log.Warn("worker failed", zap.String("kind", string(qe.Kind)), zap.String("error", qe.Message))
		emit(Event{Type: EventError, Err: qe})
		return StateFailed
	}
	cancelled := func(step WorkerState) WorkerState {
		log.Debug("worker cancelled", zap.String("during", string(step)))
		return StateCancelled
	}

	if token.Cancelled() {
		return cancelled(StateIdle)
	}
	if stmt == "" {
		return fail(newError(ErrorKindPreparation, req.Statement, "empty statement", nil))
	}
	if req.PageSize <= 0 {
		return fail(newError(ErrorKindPreparation, stmt, fmt.Sprintf("invalid page size %d", req.PageSize), nil))
	}

	setState(StateCountingRows)
	for _, setup := range req.Setup {
		if token.Cancelled() {
			return cancelled(StateCountingRows)
		}
		if err := w.exec(token.Context(), setup); err != nil {
			return fail(newError(ErrorKindExecution, setup, "", err))
		}
	}

	total := req.KnownTotal
	if rowProducing && total < 0 {
		if token.Cancelled() {
			return cancelled(StateCountingRows)
		}
		total = w.count(token.Context(), stmt, log)
	}
	if !emit(Event{Type: EventProgress, Progress: 25}) {
		return cancelled(StateCountingRows)
	}

	setState(StatePreparingQuery)
	if token.Cancelled() {
		return cancelled(StatePreparingQuery)
	}
	execStmt := stmt
	if rowProducing {
		p, err := Paginate(stmt, req.PageSize, req.Offset)
		if err != nil {
			var qe *Error
			if !errors.As(err, &qe) {
				qe = newError(ErrorKindPreparation, stmt, "", err)
			}
			return fail(qe)
		}
		execStmt = p.Query
	}
	if !emit(Event{Type: EventProgress, Progress: 50}) {
		return cancelled(StatePreparingQuery)
	}

	setState(StateExecuting)
	if token.Cancelled() {
		return cancelled(StateExecuting)
	}
	cur, err := w.engine.Execute(token.Context(), execStmt)
	if err != nil {
		return fail(newError(ErrorKindExecution, stmt, "", err))
	}
	defer cur.Close()
	if !emit(Event{Type: EventProgress, Progress: 75}) {
		return cancelled(StateExecuting)
	}

	setState(StateFetching)
	batch := &Batch{
		Columns:     cur.Columns(),
		ColumnTypes: cur.ColumnTypes(),
		TotalCount:  total,
		Offset:      req.Offset,
		Statement:   stmt,
	}

	if len(batch.Columns) > 0 {
		rows, exhausted, state, qe := w.fetch(token, cur, req.PageSize, emit)
		switch state {
		case StateCancelled:
			return cancelled(StateFetching)
		case StateFailed:
			qe.Statement = stmt
			return fail(qe)
		}
		batch.Rows = rows
		if !rowProducing {
			batch.TotalCount = UnknownTotal
			if exhausted {
				batch.TotalCount = int64(len(rows))
			}
		}
	}

	// DuckDB reports DDL as an empty Count column; commands without rows
	// are acknowledged instead.
	if len(batch.Columns) == 0 || (len(batch.Rows) == 0 && class.IsCommand()) {
		if rowProducing {
			batch.Rows = []Row{}
		} else {
			batch.Columns = []string{AckColumn}
			batch.ColumnTypes = []string{"VARCHAR"}
			batch.Rows = []Row{{class.AckLabel() + " statement executed successfully"}}
			batch.TotalCount = 1
		}
	}

	fetched := int64(len(batch.Rows))
	batch.HasMore = rowProducing && fetched == req.PageSize &&
		(total < 0 || req.Offset+req.PageSize < total)

	if token.Cancelled() {
		return cancelled(StateFetching)
	}
	if !emit(Event{Type: EventProgress, Progress: 100}) {
		return cancelled(StateFetching)
	}
	if !emit(Event{Type: EventBatchReady, Batch: batch}) {
		return cancelled(StateFetching)
	}
	log.Debug("page fetched", zap.Int64("rows", fetched), zap.Int64("total", batch.TotalCount), zap.Bool("has_more", batch.HasMore))
	return StateDone
}

// fetch pulls up to limit rows in chunks, clamping every cell. exhausted
// reports whether the cursor ran out before limit.
func (w *StreamWorker) fetch(token *CancelToken, cur connection.Cursor, limit int64, emit Emitter) (rows []Row, exhausted bool, state WorkerState, qe *Error) {
	rows = make([]Row, 0, min(limit, int64(w.chunkSize)))
	for int64(len(rows)) < limit {
		if token.Cancelled() {
			return nil, false, StateCancelled, nil
		}

		n := min(int64(w.chunkSize), limit-int64(len(rows)))
		chunk, err := cur.FetchChunk(int(n))
		if err != nil {
			return nil, false, StateFailed, newError(ErrorKindFetch, "", "", err)
		}
		if token.Cancelled() {
			return nil, false, StateCancelled, nil
		}

		for _, r := range chunk {
			rows = append(rows, w.limits.ClampRow(r))
		}

		progress := 75 + int(20*int64(len(rows))/limit)
		if !emit(Event{Type: EventProgress, Progress: min(progress, 95)}) {
			return nil, false, StateCancelled, nil
		}

		if int64(len(chunk)) < n {
			return rows, true, StateFetching, nil
		}
	}
	return rows, false, StateFetching, nil
}

// count runs the COUNT(*) wrapper. Any failure yields UnknownTotal.
func (w *StreamWorker) count(ctx context.Context, stmt string, log *zap.Logger) int64 {
	cur, err := w.engine.Execute(ctx, CountQuery(stmt))
	if err != nil {
		log.Debug("row count unavailable", zap.Error(err))
		return UnknownTotal
	}
	defer cur.Close()

	row, err := cur.FetchOne()
	if err != nil || len(row) == 0 {
		log.Debug("row count unavailable", zap.Error(err))
		return UnknownTotal
	}

	n, ok := NormalizeValue(row[0]).(int64)
	if !ok || n < 0 {
		log.Debug("row count unavailable", zap.Any("value", row[0]))
		return UnknownTotal
	}
	return n
}

// exec runs a statement whose result is discarded.
func (w *StreamWorker) exec(ctx context.Context, stmt string) error {
	cur, err := w.engine.Execute(ctx, stmt)
	if err != nil {
		return err
	}
	return cur.Close()
}
