package query

// Row is an ordered sequence of cell values: nil, int64, float64, string,
// bool, time.Time, small []byte or a clamped summary string.
type Row = []any

// Batch is one page (or one full export) of fetched rows.
type Batch struct {
	Columns     []string
	ColumnTypes []string
	Rows        []Row
	// TotalCount is the total row count of the statement, -1 when unknown.
	TotalCount int64
	HasMore    bool
	// Offset is the row offset the batch starts at.
	Offset int64
	// Statement is the cleaned statement that produced the batch.
	Statement string
}

// RowCount returns the number of rows in the batch.
func (b *Batch) RowCount() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}
