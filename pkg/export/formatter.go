package export

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nnnkkk7/duckbench/pkg/query"
)

// ErrUnsupportedFormat is returned when an unsupported output format is requested
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format names.
const (
	FormatCSV     = "csv"
	FormatJSONL   = "jsonl"
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

// Formatter defines the interface for output format handlers
type Formatter interface {
	// Format converts a batch to the target format
	Format(b *query.Batch) ([]byte, error)

	// Extension returns the file extension for this format (e.g., ".jsonl", ".csv", ".parquet")
	Extension() string

	// MIMEType returns the MIME type for this format
	MIMEType() string
}

// GetFormatter returns the formatter for format. compression is only used by
// formats that compress internally.
func GetFormatter(format, compression string) (Formatter, error) {
	switch format {
	case FormatCSV:
		return NewCSVFormatter(), nil
	case FormatJSONL:
		return NewJSONLFormatter(), nil
	case FormatJSON:
		return NewJSONFormatter(), nil
	case FormatParquet:
		return NewParquetFormatterWithCompression(compression), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// UsesInternalCompression returns true if the format handles compression internally
func UsesInternalCompression(format string) bool {
	return format == FormatParquet
}

// CSVFormatter handles CSV format output
type CSVFormatter struct{}

// NewCSVFormatter creates a new CSV formatter
func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

// Format writes a header row followed by one record per row. NULL is an
// empty field.
func (f *CSVFormatter) Format(b *query.Batch) ([]byte, error) {
	var buffer bytes.Buffer
	writer := csv.NewWriter(&buffer)

	if err := writer.Write(b.Columns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(b.Columns))
	for _, row := range b.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatText(row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buffer.Bytes(), nil
}

// Extension returns the file extension for CSV files
func (f *CSVFormatter) Extension() string {
	return ".csv"
}

// MIMEType returns the MIME type for CSV
func (f *CSVFormatter) MIMEType() string {
	return "text/csv"
}

// JSONLFormatter handles JSONL (JSON Lines) format output
type JSONLFormatter struct{}

// NewJSONLFormatter creates a new JSONL formatter
func NewJSONLFormatter() *JSONLFormatter {
	return &JSONLFormatter{}
}

// Format writes one JSON object per row, keys in column order.
func (f *JSONLFormatter) Format(b *query.Batch) ([]byte, error) {
	var buffer bytes.Buffer
	for _, row := range b.Rows {
		if err := writeObject(&buffer, b.Columns, row); err != nil {
			return nil, err
		}
		buffer.WriteByte('\n')
	}
	return buffer.Bytes(), nil
}

// Extension returns the file extension for JSONL files
func (f *JSONLFormatter) Extension() string {
	return ".jsonl"
}

// MIMEType returns the MIME type for JSONL
func (f *JSONLFormatter) MIMEType() string {
	return "application/x-ndjson"
}

// JSONFormatter writes the batch as a single JSON array of objects.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes a JSON array with one object per row.
func (f *JSONFormatter) Format(b *query.Batch) ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('[')
	for i, row := range b.Rows {
		if i > 0 {
			buffer.WriteByte(',')
		}
		if err := writeObject(&buffer, b.Columns, row); err != nil {
			return nil, err
		}
	}
	buffer.WriteString("]\n")
	return buffer.Bytes(), nil
}

// Extension returns the file extension for JSON files
func (f *JSONFormatter) Extension() string {
	return ".json"
}

// MIMEType returns the MIME type for JSON
func (f *JSONFormatter) MIMEType() string {
	return "application/json"
}

// writeObject encodes row as a JSON object keyed by columns in order.
// encoding/json maps cannot keep column order, so the object is assembled
// key by key.
func writeObject(buf *bytes.Buffer, columns []string, row query.Row) error {
	buf.WriteByte('{')
	for i, col := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return fmt.Errorf("failed to encode column name %q: %w", col, err)
		}
		buf.Write(key)
		buf.WriteByte(':')

		var v any
		if i < len(row) {
			v = row[i]
		}
		val, err := json.Marshal(v)
		if err != nil {
			// NaN and Inf have no JSON form.
			val, _ = json.Marshal(formatText(v))
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return nil
}

// formatText renders a normalized cell for text formats.
func formatText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}
