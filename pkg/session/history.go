package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nnnkkk7/duckbench/pkg/connection"
	"github.com/nnnkkk7/duckbench/pkg/query"
)

// HistoryEntry is one recorded submit.
type HistoryEntry struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	Statement      string    `json:"statement"`
	StatementCount int       `json:"statementCount"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// HistoryStore provides persistent storage for submitted queries using DuckDB.
type HistoryStore struct {
	mgr *connection.Manager
}

// NewHistoryStore creates a history store and its table.
func NewHistoryStore(mgr *connection.Manager) (*HistoryStore, error) {
	store := &HistoryStore{
		mgr: mgr,
	}

	if err := store.initTable(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize history table: %w", err)
	}

	return store, nil
}

// initTable creates the history table if it doesn't exist.
func (s *HistoryStore) initTable(ctx context.Context) error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS _duckbench_history (
			id VARCHAR PRIMARY KEY,
			session_id VARCHAR NOT NULL,
			statement VARCHAR NOT NULL,
			statement_count INTEGER NOT NULL,
			submitted_at TIMESTAMP NOT NULL
		)
	`

	_, err := s.mgr.Exec(ctx, createTableSQL)
	return err
}

// Record stores a submit of text by the given session.
func (s *HistoryStore) Record(ctx context.Context, sessionID, text string) error {
	insertSQL := `
		INSERT INTO _duckbench_history (id, session_id, statement, statement_count, submitted_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.mgr.Exec(ctx, insertSQL,
		uuid.NewString(),
		sessionID,
		text,
		len(query.SplitStatements(text)),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

// List returns the most recent submits of a session, newest first. A
// non-positive limit returns all of them.
func (s *HistoryStore) List(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	selectSQL := `
		SELECT id, session_id, statement, statement_count, submitted_at
		FROM _duckbench_history
		WHERE session_id = ?
		ORDER BY submitted_at DESC, id
	`
	args := []any{sessionID}
	if limit > 0 {
		selectSQL += " LIMIT ?"
		args = append(args, limit)
	}

	_, rows, err := s.mgr.QueryAll(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := scanHistoryEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// DeleteSession removes every entry of a session.
func (s *HistoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.mgr.Exec(ctx, `DELETE FROM _duckbench_history WHERE session_id = ?`, sessionID)
	return err
}

// DeleteBefore deletes entries submitted before t and returns the count.
func (s *HistoryStore) DeleteBefore(ctx context.Context, t time.Time) (int, error) {
	res, err := s.mgr.Exec(ctx, `DELETE FROM _duckbench_history WHERE submitted_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted history: %w", err)
	}
	return int(n), nil
}

func scanHistoryEntry(row []any) (HistoryEntry, error) {
	if len(row) != 5 {
		return HistoryEntry{}, fmt.Errorf("unexpected history row width %d", len(row))
	}
	var e HistoryEntry
	var ok bool
	if e.ID, ok = row[0].(string); !ok {
		return e, fmt.Errorf("unexpected history id type %T", row[0])
	}
	if e.SessionID, ok = row[1].(string); !ok {
		return e, fmt.Errorf("unexpected history session type %T", row[1])
	}
	if e.Statement, ok = row[2].(string); !ok {
		return e, fmt.Errorf("unexpected history statement type %T", row[2])
	}
	switch n := row[3].(type) {
	case int32:
		e.StatementCount = int(n)
	case int64:
		e.StatementCount = int(n)
	default:
		return e, fmt.Errorf("unexpected history count type %T", row[3])
	}
	if e.SubmittedAt, ok = row[4].(time.Time); !ok {
		return e, fmt.Errorf("unexpected history timestamp type %T", row[4])
	}
	return e, nil
}
