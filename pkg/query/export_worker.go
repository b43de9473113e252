package query

import (
	"context"

	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/config"
)

// ExportWorker fetches the complete result of a statement for export.
//
// The whole result is held in memory and cells are normalized but not
// clamped. It is meant for results the caller knows fit in memory.
type ExportWorker struct {
	engine    Engine
	logger    *zap.Logger
	chunkSize int
}

// NewExportWorker creates an export worker over engine. Only WithChunkSize
// applies.
func NewExportWorker(engine Engine, logger *zap.Logger, opts ...WorkerOption) *ExportWorker {
	o := workerOptions{chunkSize: config.DefaultExportChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportWorker{
		engine:    engine,
		logger:    logger,
		chunkSize: o.chunkSize,
	}
}

// Start runs the export on a new goroutine.
func (w *ExportWorker) Start(ctx context.Context, stmt string) *Handle {
	return startHandle(ctx, stmt, func(token *CancelToken, emit Emitter, setState func(WorkerState)) WorkerState {
		return w.run(token, stmt, emit, setState)
	})
}

// Run exports on the calling goroutine and returns the final state.
func (w *ExportWorker) Run(token *CancelToken, stmt string, emit Emitter) WorkerState {
	return w.run(token, stmt, emit, func(WorkerState) {})
}

func (w *ExportWorker) run(token *CancelToken, raw string, emit Emitter, setState func(WorkerState)) WorkerState {
	stmt := cleanStatement(raw)
	log := w.logger.With(zap.String("worker", "export"))

	fail := func(qe *Error) WorkerState {
		if token.Cancelled() {
			log.Debug("export cancelled", zap.String("during", string(qe.Kind)))
			return StateCancelled
		}
		log.Warn("export failed", zap.String("kind", string(qe.Kind)), zap.String("error", qe.Message))
		emit(Event{Type: EventError, Err: qe})
		return StateFailed
	}

	if token.Cancelled() {
		return StateCancelled
	}
	if stmt == "" {
		return fail(newError(ErrorKindPreparation, raw, "empty statement", nil))
	}

	setState(StateExecuting)
	cur, err := w.engine.Execute(token.Context(), stmt)
	if err != nil {
		return fail(newError(ErrorKindExecution, stmt, "", err))
	}
	defer cur.Close()

	progress := 10
	if !emit(Event{Type: EventProgress, Progress: progress}) {
		return StateCancelled
	}

	setState(StateFetching)
	batch := &Batch{
		Columns:     cur.Columns(),
		ColumnTypes: cur.ColumnTypes(),
		Rows:        []Row{},
		Statement:   stmt,
	}

	for len(batch.Columns) > 0 {
		if token.Cancelled() {
			log.Debug("export cancelled", zap.Int("rows", len(batch.Rows)))
			return StateCancelled
		}
		chunk, err := cur.FetchChunk(w.chunkSize)
		if err != nil {
			return fail(newError(ErrorKindFetch, stmt, "", err))
		}
		if token.Cancelled() {
			log.Debug("export cancelled", zap.Int("rows", len(batch.Rows)))
			return StateCancelled
		}

		for _, r := range chunk {
			for i, v := range r {
				r[i] = NormalizeValue(v)
			}
			batch.Rows = append(batch.Rows, r)
		}

		progress = min(progress+5, 95)
		if !emit(Event{Type: EventProgress, Progress: progress}) {
			return StateCancelled
		}
		if len(chunk) < w.chunkSize {
			break
		}
	}

	batch.TotalCount = int64(len(batch.Rows))

	if !emit(Event{Type: EventProgress, Progress: 100}) {
		return StateCancelled
	}
	if !emit(Event{Type: EventBatchReady, Batch: batch}) {
		return StateCancelled
	}
	log.Debug("export fetched", zap.Int64("rows", batch.TotalCount))
	return StateDone
}
