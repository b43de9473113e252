package session

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/query"
)

// Manager manages the open sessions over one shared engine.
type Manager struct {
	sessions map[string]*Session
	engine   query.Engine
	opts     Options
	history  *HistoryStore // optional
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewManager creates a new session manager.
func NewManager(engine query.Engine, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		engine:   engine,
		opts:     opts,
		logger:   logger,
	}
}

// NewManagerWithHistory creates a session manager that records every submit.
func NewManagerWithHistory(engine query.Engine, opts Options, history *HistoryStore, logger *zap.Logger) *Manager {
	mgr := NewManager(engine, opts, logger)
	mgr.history = history
	return mgr
}

// History returns the attached history store, or nil.
func (m *Manager) History() *HistoryStore {
	return m.history
}

// Open creates a new session with a unique ID.
func (m *Manager) Open() *Session {
	s := New(uuid.NewString(), m.engine, m.opts, m.logger)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Debug("session opened", zap.String("session", s.ID))
	return s
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close cancels and joins the session's workers and removes it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	return s.Close()
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Close()
		}(s)
	}
	wg.Wait()
}

// List returns a snapshot of every session, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Submit submits text to the session with the given ID.
func (m *Manager) Submit(id, text string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.Submit(text); err != nil {
		return err
	}

	if m.history != nil {
		if err := m.history.Record(context.Background(), id, text); err != nil {
			m.logger.Warn("failed to record query history", zap.String("session", id), zap.Error(err))
		}
	}
	return nil
}

// Cancel cancels every worker of the session with the given ID.
func (m *Manager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Cancel()
}
