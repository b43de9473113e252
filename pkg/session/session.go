// Package session holds the per-tab query state and coordinates the
// workers that serve it.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/config"
	"github.com/nnnkkk7/duckbench/pkg/query"
)

// Session errors.
var (
	ErrEmptyQuery       = errors.New("query contains no statements")
	ErrNoQuery          = errors.New("no query has been submitted")
	ErrQueryNotPaged    = errors.New("current statement does not produce pages")
	ErrTotalUnknown     = errors.New("total row count is not known yet")
	ErrNoPreviousPage   = errors.New("already on the first page")
	ErrNoNextPage       = errors.New("no more rows")
	ErrPageOutOfRange   = errors.New("page out of range")
	ErrInvalidPageSize  = errors.New("page size is not one of the configured sizes")
	ErrSessionClosed    = errors.New("session is closed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNothingToExport  = errors.New("nothing to export")
	ErrExportInProgress = errors.New("an export is already running")
)

// Source names the worker an event came from.
type Source string

// Event sources.
const (
	SourceQuery  Source = "query"
	SourceExport Source = "export"
)

// Event is a worker event forwarded by a session.
type Event struct {
	SessionID string
	Source    Source
	query.Event
}

// Status is the coarse state of a session's query worker.
type Status string

// Session statuses.
const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// Controls tells a presentation layer which actions are currently allowed.
type Controls struct {
	CanFirst  bool `json:"canFirst"`
	CanPrev   bool `json:"canPrev"`
	CanNext   bool `json:"canNext"`
	CanLast   bool `json:"canLast"`
	CanCancel bool `json:"canCancel"`
	CanExport bool `json:"canExport"`
	Running   bool `json:"running"`
	Exporting bool `json:"exporting"`
}

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	ID             string    `json:"id"`
	CurrentQuery   string    `json:"currentQuery"`
	RowProducing   bool      `json:"rowProducing"`
	CurrentPage    int       `json:"currentPage"`
	PageSize       int       `json:"pageSize"`
	TotalRows      int64     `json:"totalRows"`
	TotalPages     int64     `json:"totalPages"`
	HasMore        bool      `json:"hasMore"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	ExportProgress int       `json:"exportProgress"`
	LastError      string    `json:"lastError,omitempty"`
	Controls       Controls  `json:"controls"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivity   time.Time `json:"lastActivity"`
}

// Options configures sessions.
type Options struct {
	PageSizes       []int
	DefaultPageSize int
	FetchChunkSize  int
	ExportChunkSize int
	Limits          query.CellLimits
}

// DefaultOptions returns options built from the package defaults.
func DefaultOptions() Options {
	return Options{
		PageSizes:       config.DefaultPageSizes(),
		DefaultPageSize: config.DefaultPageSize,
		FetchChunkSize:  config.DefaultFetchChunkSize,
		ExportChunkSize: config.DefaultExportChunkSize,
		Limits:          query.DefaultCellLimits(),
	}
}

// OptionsFromConfig builds session options from the query configuration.
func OptionsFromConfig(cfg config.QueryConfig) Options {
	return Options{
		PageSizes:       slices.Clone(cfg.PageSizes),
		DefaultPageSize: cfg.DefaultPageSize,
		FetchChunkSize:  cfg.FetchChunkSize,
		ExportChunkSize: cfg.ExportChunkSize,
		Limits: query.CellLimits{
			MaxBinaryBytes: cfg.MaxBinaryBytes,
			MaxStringChars: cfg.MaxStringChars,
		},
	}
}

// run is one worker invocation and the pump forwarding its events.
type run struct {
	handle   *query.Handle
	pumpDone chan struct{}
	finished bool
	progress int
}

// Session is the state of one query tab.
//
// Control operations are serialized; each one cancels and awaits the
// previous worker of the same kind before starting a new one. Worker events
// are applied to the session state and then forwarded on Events, which must
// be drained. Events of a cancelled worker are dropped.
type Session struct {
	ID        string
	CreatedAt time.Time

	stream    *query.StreamWorker
	export    *query.ExportWorker
	pageSizes []int
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event

	opMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	currentQuery string
	rowProducing bool
	currentPage  int
	pageSize     int
	totalRows    int64
	hasMore      bool
	lastErr      *query.Error
	queryRun     *run
	exportRun    *run
	lastActivity time.Time
}

// New creates a session over engine.
func New(id string, engine query.Engine, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.PageSizes) == 0 {
		opts.PageSizes = config.DefaultPageSizes()
	}
	if opts.DefaultPageSize <= 0 || !slices.Contains(opts.PageSizes, opts.DefaultPageSize) {
		opts.DefaultPageSize = opts.PageSizes[0]
	}
	logger = logger.With(zap.String("session", id))

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		stream: query.NewStreamWorker(engine, logger,
			query.WithChunkSize(opts.FetchChunkSize),
			query.WithCellLimits(opts.Limits),
		),
		export:       query.NewExportWorker(engine, logger, query.WithChunkSize(opts.ExportChunkSize)),
		pageSizes:    slices.Clone(opts.PageSizes),
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan Event),
		pageSize:     opts.DefaultPageSize,
		totalRows:    query.UnknownTotal,
		lastActivity: now,
	}
}

// Events returns the session's event stream. It is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// PageSizes returns the page sizes the session accepts.
func (s *Session) PageSizes() []int {
	return slices.Clone(s.pageSizes)
}

// Submit splits text and starts paging its last statement. Earlier
// statements run once before it and are not repeated on navigation.
func (s *Session) Submit(text string) error {
	stmts := query.SplitStatements(text)
	if len(stmts) == 0 {
		return ErrEmptyQuery
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	s.stopRun(SourceQuery)

	last := stmts[len(stmts)-1]
	s.mu.Lock()
	s.currentQuery = last
	s.rowProducing = query.IsRowProducing(last)
	s.currentPage = 0
	s.totalRows = query.UnknownTotal
	s.hasMore = false
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Debug("query submitted", zap.Int("statements", len(stmts)))
	s.startPage(stmts[:len(stmts)-1])
	return nil
}

// FirstPage shows page 0.
func (s *Session) FirstPage() error {
	return s.navigate(func() (int, error) {
		return 0, nil
	})
}

// PrevPage shows the previous page.
func (s *Session) PrevPage() error {
	return s.navigate(func() (int, error) {
		if s.currentPage == 0 {
			return 0, ErrNoPreviousPage
		}
		return s.currentPage - 1, nil
	})
}

// NextPage shows the next page.
func (s *Session) NextPage() error {
	return s.navigate(func() (int, error) {
		if !s.canNextLocked() {
			return 0, ErrNoNextPage
		}
		return s.currentPage + 1, nil
	})
}

// LastPage shows the last page. The total row count must be known.
func (s *Session) LastPage() error {
	return s.navigate(func() (int, error) {
		if s.totalRows < 0 {
			return 0, ErrTotalUnknown
		}
		return s.lastPageLocked(), nil
	})
}

// GotoPage shows page n (zero-based).
func (s *Session) GotoPage(n int) error {
	return s.navigate(func() (int, error) {
		if n < 0 {
			return 0, ErrPageOutOfRange
		}
		if s.totalRows >= 0 && n > s.lastPageLocked() {
			return 0, ErrPageOutOfRange
		}
		return n, nil
	})
}

// SetPageSize changes the page size and returns to page 0, re-running the
// current query if there is one.
func (s *Session) SetPageSize(n int) error {
	if !slices.Contains(s.pageSizes, n) {
		return ErrInvalidPageSize
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	rerun := s.currentQuery != "" && s.rowProducing
	s.mu.Unlock()

	// The old run must be gone before its page geometry changes.
	if rerun {
		s.stopRun(SourceQuery)
	}
	s.mu.Lock()
	s.pageSize = n
	s.currentPage = 0
	s.mu.Unlock()

	if rerun {
		s.startPage(nil)
	}
	return nil
}

// navigate sets the current page chosen by pick and re-runs the query.
// pick runs with the state lock held; the page is applied only after the
// old run has stopped.
func (s *Session) navigate(pick func() (int, error)) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	switch {
	case s.currentQuery == "":
		s.mu.Unlock()
		return ErrNoQuery
	case !s.rowProducing:
		s.mu.Unlock()
		return ErrQueryNotPaged
	}
	page, err := pick()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.stopRun(SourceQuery)
	s.mu.Lock()
	s.currentPage = page
	s.mu.Unlock()

	s.startPage(nil)
	return nil
}

// Export fetches the complete result of stmt, or of the current query when
// stmt is empty. A running export is replaced.
func (s *Session) Export(stmt string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	if stmt == "" {
		s.mu.Lock()
		stmt = s.currentQuery
		s.mu.Unlock()
	}
	if stmt == "" {
		return ErrNothingToExport
	}

	s.stopRun(SourceExport)

	h := s.export.Start(s.ctx, stmt)
	r := &run{handle: h, pumpDone: make(chan struct{})}
	s.mu.Lock()
	s.exportRun = r
	s.lastActivity = time.Now()
	s.mu.Unlock()

	go s.pump(SourceExport, r)
	return nil
}

// ExportWorkerID returns the worker ID of the latest export, or "" when none
// was started. Events of that export carry the same ID.
func (s *Session) ExportWorkerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exportRun == nil {
		return ""
	}
	return s.exportRun.handle.ID
}

// Cancel stops both workers and waits for them. The session is then idle
// and accepts a new submit immediately.
func (s *Session) Cancel() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	s.stopRun(SourceQuery)
	s.stopRun(SourceExport)
	return nil
}

// CancelExport stops only the export worker.
func (s *Session) CancelExport() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	s.stopRun(SourceExport)
	return nil
}

// Close cancels and joins every worker, then closes the event stream.
func (s *Session) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	s.stopRun(SourceQuery)
	s.stopRun(SourceExport)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.events)
	s.logger.Debug("session closed")
	return nil
}

// Snapshot returns the current state and controls.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:           s.ID,
		CurrentQuery: s.currentQuery,
		RowProducing: s.rowProducing,
		CurrentPage:  s.currentPage,
		PageSize:     s.pageSize,
		TotalRows:    s.totalRows,
		TotalPages:   -1,
		HasMore:      s.hasMore,
		Status:       StatusIdle,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
	if s.totalRows >= 0 {
		snap.TotalPages = int64(s.lastPageLocked()) + 1
	}
	if s.lastErr != nil {
		snap.Status = StatusFailed
		snap.LastError = s.lastErr.Message
	}

	running := s.queryRun != nil && !s.queryRun.finished
	exporting := s.exportRun != nil && !s.exportRun.finished
	if running {
		snap.Status = StatusRunning
		snap.Progress = s.queryRun.progress
	}
	if exporting {
		snap.ExportProgress = s.exportRun.progress
	}

	paged := !s.closed && s.currentQuery != "" && s.rowProducing
	snap.Controls = Controls{
		CanFirst:  paged && s.currentPage > 0,
		CanPrev:   paged && s.currentPage > 0,
		CanNext:   paged && s.canNextLocked(),
		CanLast:   paged && s.totalRows >= 0 && s.currentPage < s.lastPageLocked(),
		CanCancel: running || exporting,
		CanExport: !s.closed && s.currentQuery != "" && !exporting,
		Running:   running,
		Exporting: exporting,
	}
	return snap
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// canNextLocked reports whether a page after the current one exists.
func (s *Session) canNextLocked() bool {
	if s.totalRows >= 0 {
		return int64(s.currentPage+1)*int64(s.pageSize) < s.totalRows
	}
	return s.hasMore
}

// lastPageLocked returns the index of the last page for a known total.
func (s *Session) lastPageLocked() int {
	if s.totalRows <= 0 {
		return 0
	}
	return int((s.totalRows - 1) / int64(s.pageSize))
}

// startPage starts the streaming worker for the current page. opMu must be
// held and no query run may be active.
func (s *Session) startPage(setup []string) {
	s.mu.Lock()
	req := query.PageRequest{
		Setup:      setup,
		Statement:  s.currentQuery,
		PageSize:   int64(s.pageSize),
		Offset:     int64(s.currentPage) * int64(s.pageSize),
		KnownTotal: s.totalRows,
	}
	s.hasMore = false
	s.lastErr = nil
	s.lastActivity = time.Now()
	s.mu.Unlock()

	h := s.stream.Start(s.ctx, req)
	r := &run{handle: h, pumpDone: make(chan struct{})}

	s.mu.Lock()
	s.queryRun = r
	s.mu.Unlock()

	go s.pump(SourceQuery, r)
}

// stopRun cancels the run of the given kind and waits for its worker and
// pump to exit. opMu must be held.
func (s *Session) stopRun(src Source) {
	s.mu.Lock()
	r := s.queryRun
	if src == SourceExport {
		r = s.exportRun
	}
	s.mu.Unlock()

	if r == nil {
		return
	}
	r.handle.Cancel()
	r.handle.Wait()
	<-r.pumpDone

	s.mu.Lock()
	r.finished = true
	s.mu.Unlock()
}

// pump applies the run's events to the session state and forwards them.
func (s *Session) pump(src Source, r *run) {
	defer close(r.pumpDone)
	h := r.handle
	stop := h.Context().Done()

	for ev := range h.Events() {
		s.mu.Lock()
		if h.Cancelled() {
			s.mu.Unlock()
			continue
		}
		s.applyLocked(src, r, ev)
		s.mu.Unlock()

		select {
		case s.events <- Event{SessionID: s.ID, Source: src, Event: ev}:
		case <-stop:
		}
	}

	s.mu.Lock()
	r.finished = true
	s.mu.Unlock()
}

func (s *Session) applyLocked(src Source, r *run, ev query.Event) {
	s.lastActivity = time.Now()
	switch ev.Type {
	case query.EventProgress:
		r.progress = ev.Progress
	case query.EventBatchReady:
		r.finished = true
		if src != SourceQuery {
			return
		}
		s.hasMore = ev.Batch.HasMore
		if s.rowProducing && s.totalRows < 0 && ev.Batch.TotalCount >= 0 {
			s.totalRows = ev.Batch.TotalCount
		}
	case query.EventError:
		r.finished = true
		if src == SourceQuery {
			s.lastErr = ev.Err
			s.hasMore = false
		}
		s.logger.Debug("worker error", zap.String("source", string(src)), zap.String("error", ev.Err.Message))
	}
}
