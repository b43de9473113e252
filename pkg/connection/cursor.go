package connection

import (
	"database/sql"
	"fmt"
	"sync"
)

// Cursor iterates over the result of a single executed statement.
type Cursor interface {
	// Columns returns the result column names, empty for statements that
	// produce no result set.
	Columns() []string
	// ColumnTypes returns the engine type name of each column.
	ColumnTypes() []string
	// FetchChunk returns up to n rows. A short or empty chunk means the
	// result is exhausted.
	FetchChunk(n int) ([][]any, error)
	// FetchOne returns the next row, or nil when the result is exhausted.
	FetchOne() ([]any, error)
	// Close releases the result and the execution slot.
	Close() error
}

type rowsCursor struct {
	rows    *sql.Rows
	columns []string
	types   []string
	done    bool

	release   func()
	closeOnce sync.Once
	closeErr  error
}

func newRowsCursor(rows *sql.Rows, release func()) (*rowsCursor, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	types := make([]string, len(columns))
	if len(columns) > 0 {
		colTypes, err := rows.ColumnTypes()
		if err != nil {
			return nil, fmt.Errorf("failed to read column types: %w", err)
		}
		for i, ct := range colTypes {
			types[i] = ct.DatabaseTypeName()
		}
	}

	return &rowsCursor{
		rows:    rows,
		columns: columns,
		types:   types,
		release: release,
	}, nil
}

func (c *rowsCursor) Columns() []string {
	return c.columns
}

func (c *rowsCursor) ColumnTypes() []string {
	return c.types
}

func (c *rowsCursor) FetchChunk(n int) ([][]any, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", n)
	}

	out := make([][]any, 0, n)
	for len(out) < n {
		row, err := c.FetchOne()
		if err != nil {
			return out, err
		}
		if row == nil {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *rowsCursor) FetchOne() ([]any, error) {
	if c.done {
		return nil, nil
	}
	if !c.rows.Next() {
		c.done = true
		return nil, c.rows.Err()
	}
	return scanRow(c.rows, len(c.columns))
}

func (c *rowsCursor) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rows.Close()
		c.release()
	})
	return c.closeErr
}

// scanRow scans the current row into driver-native values.
func scanRow(rows *sql.Rows, width int) ([]any, error) {
	values := make([]any, width)
	ptrs := make([]any, width)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return values, nil
}
