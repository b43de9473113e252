// Package dataset loads local files into DuckDB tables and lists the
// resulting catalog.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/config"
	"github.com/nnnkkk7/duckbench/pkg/connection"
	"github.com/nnnkkk7/duckbench/pkg/query"
)

// Loader errors.
var (
	ErrUnsupportedDriver = errors.New("dataset loading requires the duckdb driver")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrFileNotFound      = errors.New("file not found")
	ErrTableNotFound     = errors.New("table not found")
	ErrEmptyTableName    = errors.New("table name is empty")
	ErrStatementCount    = errors.New("transform needs exactly one statement")
)

// DefaultTable is the table a file is loaded into when no name is given.
const DefaultTable = "data"

// csvSampleSize is the number of rows DuckDB samples to detect CSV types.
const csvSampleSize = 100000

// Format names.
const (
	FormatCSV     = "csv"
	FormatTSV     = "tsv"
	FormatParquet = "parquet"
	FormatJSON    = "json"
	FormatExcel   = "excel"
)

// Column describes one table column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableInfo describes a loaded table.
type TableInfo struct {
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"rowCount"`
}

// Loader creates tables from files using DuckDB's own readers.
type Loader struct {
	mgr    *connection.Manager
	logger *zap.Logger
}

// NewLoader creates a loader over mgr.
func NewLoader(mgr *connection.Manager, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{mgr: mgr, logger: logger}
}

// FormatFromPath infers the dataset format from the file extension.
func FormatFromPath(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	case ".parquet":
		return FormatParquet, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	case ".xlsx", ".xlsm":
		return FormatExcel, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ReaderSQL returns the DuckDB table function reading path in format. For
// FormatExcel, path is the CSV conversion of the workbook's first sheet,
// whose first line is always the header.
func ReaderSQL(path, format string) (string, error) {
	lit := quoteLiteral(path)
	switch format {
	case FormatCSV:
		return fmt.Sprintf("read_csv_auto(%s, sample_size=%d, ignore_errors=true)", lit, csvSampleSize), nil
	case FormatTSV:
		return fmt.Sprintf("read_csv_auto(%s, delim='\\t', sample_size=%d, ignore_errors=true)", lit, csvSampleSize), nil
	case FormatParquet:
		return fmt.Sprintf("read_parquet(%s)", lit), nil
	case FormatJSON:
		return fmt.Sprintf("read_json_auto(%s)", lit), nil
	case FormatExcel:
		return fmt.Sprintf("read_csv_auto(%s, header=true, sample_size=%d)", lit, csvSampleSize), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Load creates or replaces table from the file at path. An empty format is
// inferred from the extension; an empty table name uses DefaultTable.
func (l *Loader) Load(ctx context.Context, path, table, format string) (*TableInfo, error) {
	if err := l.checkDriver(); err != nil {
		return nil, err
	}
	if table == "" {
		table = DefaultTable
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if format == "" {
		var err error
		if format, err = FormatFromPath(path); err != nil {
			return nil, err
		}
	}
	format = strings.ToLower(format)
	if _, err := ReaderSQL(path, format); err != nil {
		return nil, err
	}

	source := path
	if format == FormatExcel {
		csvPath, err := excelToCSV(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = os.Remove(csvPath) }()
		source = csvPath
	}
	reader, err := ReaderSQL(source, format)
	if err != nil {
		return nil, err
	}

	createSQL := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s", quoteIdent(table), reader)
	if _, err := l.mgr.Exec(ctx, createSQL); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	info, err := l.Describe(ctx, table)
	if err != nil {
		return nil, err
	}
	l.logger.Info("dataset loaded",
		zap.String("path", path),
		zap.String("table", table),
		zap.Int64("rows", info.RowCount),
		zap.Int("columns", len(info.Columns)))
	return info, nil
}

// Transform saves the result of a SELECT or WITH statement as table,
// replacing it. Any other statement is executed as is. The resulting table
// is described either way; an empty table name uses DefaultTable.
func (l *Loader) Transform(ctx context.Context, table, stmt string) (*TableInfo, error) {
	if err := l.checkDriver(); err != nil {
		return nil, err
	}
	if table == "" {
		table = DefaultTable
	}
	stmts := query.SplitStatements(stmt)
	if len(stmts) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrStatementCount, len(stmts))
	}

	sql := stmts[0]
	switch query.ClassifySQL(sql).Keyword {
	case "SELECT", "WITH":
		sql = fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", quoteIdent(table), sql)
	}
	if _, err := l.mgr.Exec(ctx, sql); err != nil {
		return nil, fmt.Errorf("failed to transform %s: %w", table, err)
	}

	info, err := l.Describe(ctx, table)
	if err != nil {
		return nil, err
	}
	l.logger.Info("dataset transformed",
		zap.String("table", table),
		zap.Int64("rows", info.RowCount))
	return info, nil
}

// Tables lists the tables of the main schema.
func (l *Loader) Tables(ctx context.Context) ([]string, error) {
	if err := l.checkDriver(); err != nil {
		return nil, err
	}

	_, rows, err := l.mgr.QueryAll(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'main'
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if name, ok := row[0].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Describe returns the columns and row count of table.
func (l *Loader) Describe(ctx context.Context, table string) (*TableInfo, error) {
	if err := l.checkDriver(); err != nil {
		return nil, err
	}
	if table == "" {
		return nil, ErrEmptyTableName
	}

	_, rows, err := l.mgr.QueryAll(ctx, `
		SELECT column_name, data_type, is_nullable FROM information_schema.columns
		WHERE table_schema = 'main' AND table_name = ?
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	info := &TableInfo{Name: table, Columns: make([]Column, 0, len(rows))}
	for _, row := range rows {
		name, _ := row[0].(string)
		typ, _ := row[1].(string)
		nullable, _ := row[2].(string)
		info.Columns = append(info.Columns, Column{Name: name, Type: typ, Nullable: nullable == "YES"})
	}

	_, counts, err := l.mgr.QueryAll(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", table, err)
	}
	if len(counts) == 1 && len(counts[0]) == 1 {
		if n, ok := query.NormalizeValue(counts[0][0]).(int64); ok {
			info.RowCount = n
		}
	}
	return info, nil
}

func (l *Loader) checkDriver() error {
	if d := l.mgr.Driver(); d != "" && d != config.DriverDuckDB {
		return ErrUnsupportedDriver
	}
	return nil
}

// quoteIdent quotes a SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral quotes a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
