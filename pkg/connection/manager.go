package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrManagerClosed is returned when a statement is issued after Close.
var ErrManagerClosed = errors.New("connection manager is closed")

// Manager owns the single engine connection shared by every session.
//
// When statement serialization is enabled (the default) the Manager holds an
// execution slot from Execute until the returned Cursor is closed, so at most
// one statement is in flight across all sessions. Waiting for the slot honors
// context cancellation.
type Manager struct {
	db     *sql.DB
	driver string
	owned  bool

	slot chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithSerializedStatements toggles the cross-session execution slot.
func WithSerializedStatements(enabled bool) Option {
	return func(m *Manager) {
		if !enabled {
			m.slot = nil
		}
	}
}

// WithDriverName records the driver the database was opened with.
func WithDriverName(name string) Option {
	return func(m *Manager) {
		m.driver = name
	}
}

// NewManager creates a new connection manager for the given database.
// The caller keeps ownership of db.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		slot:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.slot != nil {
		// One statement at a time also means one connection: session state
		// such as SET or temporary tables stays visible to later statements.
		db.SetMaxOpenConns(1)
	}
	return m
}

// acquire takes the execution slot. The returned release func is idempotent.
func (m *Manager) acquire(ctx context.Context) (func(), error) {
	select {
	case <-m.closed:
		return nil, ErrManagerClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.slot == nil {
		return func() {}, nil
	}

	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, ErrManagerClosed
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-m.slot })
	}, nil
}

// Execute runs stmt and returns a cursor over its result. The execution slot
// is held until the cursor is closed, so callers must always Close it.
func (m *Manager) Execute(ctx context.Context, stmt string) (Cursor, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, stmt)
	if err != nil {
		release()
		return nil, err
	}

	cur, err := newRowsCursor(rows, release)
	if err != nil {
		_ = rows.Close()
		release()
		return nil, err
	}
	return cur, nil
}

// Exec executes a statement that returns no rows.
func (m *Manager) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.db.ExecContext(ctx, query, args...)
}

// QueryAll runs query and materializes the whole result. It is meant for
// small catalog lookups, not user statements.
func (m *Manager) QueryAll(ctx context.Context, query string, args ...any) ([]string, [][]any, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		row, err := scanRow(rows, len(columns))
		if err != nil {
			return nil, nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// ExecTx executes multiple statements in a transaction.
// If the provided function returns an error, the transaction is rolled back.
func (m *Manager) ExecTx(ctx context.Context, fn func(*sql.Tx) error) error {
	release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Serialized reports whether statements share a single execution slot.
func (m *Manager) Serialized() bool {
	return m.slot != nil
}

// Driver returns the driver name, or "" when unknown.
func (m *Manager) Driver() string {
	return m.driver
}

// DB returns the underlying database connection.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close stops new statements. The database is closed only when the Manager
// opened it itself.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		if m.owned {
			err = m.db.Close()
		}
	})
	return err
}
