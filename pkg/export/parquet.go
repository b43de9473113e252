package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/nnnkkk7/duckbench/pkg/query"
)

// ParquetFormatter handles Parquet format output
type ParquetFormatter struct {
	compression string
}

// NewParquetFormatter creates a new Parquet formatter
func NewParquetFormatter() *ParquetFormatter {
	return &ParquetFormatter{
		compression: "snappy",
	}
}

// NewParquetFormatterWithCompression creates a Parquet formatter with specified compression
func NewParquetFormatterWithCompression(compression string) *ParquetFormatter {
	return &ParquetFormatter{
		compression: compression,
	}
}

// parquetColumn is one output column of a batch.
type parquetColumn struct {
	name string
	typ  query.LogicalType
}

// Format converts the batch to Parquet. Column types come from the engine
// type names; a column whose values do not all fit its type is written as
// text.
func (f *ParquetFormatter) Format(b *query.Batch) ([]byte, error) {
	var buffer bytes.Buffer

	columns := parquetColumns(b)
	schema := buildSchema(columns)

	var codec parquet.WriterOption
	switch f.compression {
	case CompressionZstd:
		codec = parquet.Compression(&parquet.Zstd)
	case CompressionGzip:
		codec = parquet.Compression(&parquet.Gzip)
	case CompressionLZ4:
		codec = parquet.Compression(&parquet.Lz4Raw)
	case CompressionNone:
		codec = parquet.Compression(&parquet.Uncompressed)
	default:
		codec = parquet.Compression(&parquet.Snappy)
	}
	writer := parquet.NewGenericWriter[map[string]any](&buffer, schema, codec)

	rows := make([]map[string]any, len(b.Rows))
	for i, row := range b.Rows {
		m := make(map[string]any, len(columns))
		for j, col := range columns {
			var v any
			if j < len(row) {
				v = row[j]
			}
			m[col.name] = parquetValue(col.typ, v)
		}
		rows[i] = m
	}

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			writer.Close()
			return nil, fmt.Errorf("failed to write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return buffer.Bytes(), nil
}

// parquetColumns resolves unique names and logical types for b's columns.
func parquetColumns(b *query.Batch) []parquetColumn {
	types := query.InferLogicalTypes(b)
	seen := make(map[string]int, len(b.Columns))
	out := make([]parquetColumn, len(b.Columns))

	for i, name := range b.Columns {
		if name == "" {
			name = "column" + strconv.Itoa(i)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = name + "_" + strconv.Itoa(n)
		} else {
			seen[name] = 1
		}

		typ := types[i]
		if !columnFits(b.Rows, i, typ) {
			typ = query.TypeText
		}
		out[i] = parquetColumn{name: name, typ: typ}
	}
	return out
}

func columnFits(rows []query.Row, col int, typ query.LogicalType) bool {
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		var ok bool
		switch typ {
		case query.TypeInteger:
			_, ok = row[col].(int64)
		case query.TypeFloat:
			switch row[col].(type) {
			case float64, int64:
				ok = true
			}
		case query.TypeBoolean:
			_, ok = row[col].(bool)
		case query.TypeBinary:
			_, ok = row[col].([]byte)
		case query.TypeTimestamp, query.TypeDate:
			_, ok = row[col].(time.Time)
		default:
			ok = true
		}
		if !ok {
			return false
		}
	}
	return true
}

// buildSchema creates a Parquet schema with one optional leaf per column.
func buildSchema(columns []parquetColumn) *parquet.Schema {
	fields := make(parquet.Group, len(columns))
	for _, col := range columns {
		var field parquet.Node
		switch col.typ {
		case query.TypeInteger:
			field = parquet.Optional(parquet.Leaf(parquet.Int64Type))
		case query.TypeFloat:
			field = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		case query.TypeBoolean:
			field = parquet.Optional(parquet.Leaf(parquet.BooleanType))
		case query.TypeBinary:
			field = parquet.Optional(parquet.Leaf(parquet.ByteArrayType))
		case query.TypeTimestamp:
			field = parquet.Optional(parquet.Timestamp(parquet.Microsecond))
		case query.TypeDate:
			field = parquet.Optional(parquet.Date())
		default:
			field = parquet.Optional(parquet.String())
		}
		fields[col.name] = field
	}
	return parquet.NewSchema("duckbench_export", fields)
}

// parquetValue converts a normalized cell to the physical value of typ.
func parquetValue(typ query.LogicalType, v any) any {
	if v == nil {
		return nil
	}
	switch typ {
	case query.TypeFloat:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	case query.TypeTimestamp:
		return v.(time.Time).UnixMicro()
	case query.TypeDate:
		t := v.(time.Time)
		days := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
		return int32(days)
	case query.TypeText:
		return formatText(v)
	}
	return v
}

// Extension returns the file extension for Parquet files
func (f *ParquetFormatter) Extension() string {
	return ".parquet"
}

// MIMEType returns the MIME type for Parquet
func (f *ParquetFormatter) MIMEType() string {
	return "application/vnd.apache.parquet"
}
