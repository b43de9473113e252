package session

import (
	"sync"
	"time"

	"github.com/nnnkkk7/duckbench/pkg/query"
)

// ResultStatus represents the status of a retained result.
type ResultStatus string

const (
	ResultStatusRunning  ResultStatus = "running"
	ResultStatusSuccess  ResultStatus = "success"
	ResultStatusFailed   ResultStatus = "failed"
	ResultStatusCanceled ResultStatus = "canceled"
)

// Result is the latest outcome of one worker kind in a session.
type Result struct {
	SessionID   string       `json:"sessionId"`
	Source      Source       `json:"source"`
	WorkerID    string       `json:"workerId"`
	Status      ResultStatus `json:"status"`
	Progress    int          `json:"progress"`
	Batch       *query.Batch `json:"batch,omitempty"`
	Error       *query.Error `json:"error,omitempty"`
	CreatedOn   time.Time    `json:"createdOn"`
	CompletedOn *time.Time   `json:"completedOn,omitempty"`
}

// minCleanupInterval bounds how often the cleanup loop runs for tiny TTLs.
const minCleanupInterval = 10 * time.Millisecond

type resultKey struct {
	session string
	source  Source
}

// ResultStore retains the latest page and export result of every session
// until they have been complete for longer than the TTL.
type ResultStore struct {
	mu      sync.RWMutex
	results map[resultKey]*Result
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

// NewResultStore creates a new result store and starts its cleanup loop.
// A non-positive ttl keeps results until they are replaced or deleted.
func NewResultStore(ttl time.Duration) *ResultStore {
	rs := &ResultStore{
		results: make(map[resultKey]*Result),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	if ttl > 0 {
		go rs.cleanupLoop()
	}
	return rs
}

// Record applies a session event. A progress event from a new worker
// replaces the previous result of the same source.
func (rs *ResultStore) Record(ev Event) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	key := resultKey{session: ev.SessionID, source: ev.Source}
	r, ok := rs.results[key]
	if !ok || r.WorkerID != ev.WorkerID {
		r = &Result{
			SessionID: ev.SessionID,
			Source:    ev.Source,
			WorkerID:  ev.WorkerID,
			Status:    ResultStatusRunning,
			CreatedOn: time.Now(),
		}
		rs.results[key] = r
	}

	switch ev.Type {
	case query.EventProgress:
		r.Progress = ev.Progress
	case query.EventBatchReady:
		r.Batch = ev.Batch
		r.Status = ResultStatusSuccess
		r.Progress = 100
		r.complete()
	case query.EventError:
		r.Error = ev.Err
		r.Status = ResultStatusFailed
		r.complete()
	}
}

// MarkCanceled marks the running results of a session as canceled.
func (rs *ResultStore) MarkCanceled(sessionID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for key, r := range rs.results {
		if key.session == sessionID && r.Status == ResultStatusRunning {
			r.Status = ResultStatusCanceled
			r.complete()
		}
	}
}

// Get returns a copy of the latest result of the given source.
func (rs *ResultStore) Get(sessionID string, src Source) (Result, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	r, ok := rs.results[resultKey{session: sessionID, source: src}]
	if !ok {
		return Result{}, false
	}
	return *r, true
}

// DeleteSession removes every result of a session.
func (rs *ResultStore) DeleteSession(sessionID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for key := range rs.results {
		if key.session == sessionID {
			delete(rs.results, key)
		}
	}
}

// Close stops the cleanup loop.
func (rs *ResultStore) Close() {
	rs.once.Do(func() { close(rs.stop) })
}

func (r *Result) complete() {
	now := time.Now()
	r.CompletedOn = &now
}

// cleanupLoop periodically removes expired results.
func (rs *ResultStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval(rs.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rs.cleanup()
		case <-rs.stop:
			return
		}
	}
}

// cleanupInterval is half the TTL, but never below minCleanupInterval.
func cleanupInterval(ttl time.Duration) time.Duration {
	return max(ttl/2, minCleanupInterval)
}

// cleanup removes results that have been complete for longer than TTL.
func (rs *ResultStore) cleanup() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := time.Now()
	for key, r := range rs.results {
		if r.CompletedOn != nil && now.Sub(*r.CompletedOn) > rs.ttl {
			delete(rs.results, key)
		}
	}
}
