package query

import (
	"fmt"
	"math/big"
	"time"
	"unicode/utf8"

	"github.com/nnnkkk7/duckbench/pkg/config"
)

// TruncationMarker is appended to strings cut at the character limit.
const TruncationMarker = "... [truncated]"

// CellLimits bounds the size of individual cells in a page.
type CellLimits struct {
	MaxBinaryBytes int
	MaxStringChars int
}

// DefaultCellLimits returns the default clamping thresholds.
func DefaultCellLimits() CellLimits {
	return CellLimits{
		MaxBinaryBytes: config.DefaultMaxBinaryBytes,
		MaxStringChars: config.DefaultMaxStringChars,
	}
}

// Clamp normalizes v and bounds its size. Binary values over MaxBinaryBytes
// become a size summary; strings over MaxStringChars are cut to
// MaxStringChars characters followed by TruncationMarker.
func (l CellLimits) Clamp(v any) any {
	v = NormalizeValue(v)
	switch val := v.(type) {
	case []byte:
		if l.MaxBinaryBytes > 0 && len(val) > l.MaxBinaryBytes {
			return BinarySummary(len(val))
		}
	case string:
		if l.MaxStringChars > 0 && len(val) > l.MaxStringChars && utf8.RuneCountInString(val) > l.MaxStringChars {
			return truncateRunes(val, l.MaxStringChars) + TruncationMarker
		}
	}
	return v
}

// ClampRow applies Clamp to every cell of row in place.
func (l CellLimits) ClampRow(row Row) Row {
	for i, v := range row {
		row[i] = l.Clamp(v)
	}
	return row
}

// NormalizeValue converts driver values to the cell value set: integers
// widen to int64, float32 to float64, big numbers and driver-specific
// scalar types to their string form. Other values pass through.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case int64, float64, string, bool, []byte, time.Time:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val <= 1<<63-1 {
			return int64(val)
		}
		return fmt.Sprintf("%d", val)
	case float32:
		return float64(val)
	case *big.Int:
		if val == nil {
			return nil
		}
		if val.IsInt64() {
			return val.Int64()
		}
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return val
	}
}

// BinarySummary describes a binary value of n bytes, e.g.
// "<binary data: 19.5 KiB>".
func BinarySummary(n int) string {
	return fmt.Sprintf("<binary data: %s>", formatBytes(n))
}

func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := int64(n) / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
