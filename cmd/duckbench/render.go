package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/nnnkkk7/duckbench/pkg/query"
)

// renderBatch prints b as a text table.
func renderBatch(w io.Writer, b *query.Batch) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(b.Columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range b.Rows {
		cells := make([]string, len(b.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = cellString(row[i])
			}
		}
		table.Append(cells)
	}
	table.Render()
}

// cellString renders a normalized cell for the terminal.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return `\x` + hex.EncodeToString(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}
