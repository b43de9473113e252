// Package config provides configuration constants and loading for duckbench.
package config

import "time"

// Engine settings.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"

	// DefaultDSN opens an in-memory DuckDB database.
	DefaultDSN = ""
)

// Pagination and fetch settings.
const (
	DefaultPageSize        = 10000
	DefaultFetchChunkSize  = 1000
	DefaultExportChunkSize = 10000
)

// Cell clamping thresholds.
const (
	DefaultMaxBinaryBytes = 10000
	DefaultMaxStringChars = 50000
)

// Server settings.
const (
	DefaultServerAddr   = ":8080"
	DefaultResultTTL    = 1 * time.Hour
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// Logging settings.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// EnvPrefix is the prefix for environment variable overrides (DUCKBENCH_QUERY_DEFAULT_PAGE_SIZE, ...).
const EnvPrefix = "DUCKBENCH"

// DefaultPageSizes returns the page sizes a session may switch between.
func DefaultPageSizes() []int {
	return []int{100, 500, 1000, 5000, 10000, 50000, 100000}
}
