package connection

import (
	"database/sql"
	"errors"
	"fmt"

	// Engine drivers selectable through configuration.
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/nnnkkk7/duckbench/pkg/config"
)

// ErrUnknownDriver is returned by Open for drivers duckbench does not ship.
var ErrUnknownDriver = errors.New("unknown engine driver")

// Open opens the configured engine and returns a Manager that owns it.
func Open(cfg config.EngineConfig) (*Manager, error) {
	switch cfg.Driver {
	case config.DriverDuckDB, config.DriverPostgres, config.DriverPgx:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	m := NewManager(db,
		WithSerializedStatements(cfg.SerializeStatements),
		WithDriverName(cfg.Driver),
	)
	m.owned = true
	return m, nil
}
