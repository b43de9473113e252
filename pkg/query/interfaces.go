package query

import (
	"context"

	"github.com/nnnkkk7/duckbench/pkg/connection"
)

// Engine executes statements and returns cursors over their results.
// *connection.Manager is the production implementation.
type Engine interface {
	// Execute runs stmt. The caller must Close the returned cursor.
	Execute(ctx context.Context, stmt string) (connection.Cursor, error)
}

// Emitter receives worker events. It returns false when the receiver is
// gone and the worker should stop.
type Emitter func(Event) bool

var _ Engine = (*connection.Manager)(nil)
