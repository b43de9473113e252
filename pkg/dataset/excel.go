package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmptyWorkbook is returned when the first sheet of a workbook has no rows.
var ErrEmptyWorkbook = errors.New("workbook sheet is empty")

// excelToCSV writes the first sheet of the workbook at path to a temporary
// CSV file and returns its path. Leading blank rows are skipped and the
// first non-blank row becomes the header. Short rows are padded so every
// record has the width of the widest row. The caller removes the file.
func excelToCSV(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyWorkbook, path)
	}
	records, err := sheetRecords(f, sheets[0])
	if err != nil {
		return "", fmt.Errorf("failed to read sheet %q of %s: %w", sheets[0], path, err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyWorkbook, path)
	}

	tmp, err := os.CreateTemp("", "duckbench-sheet-*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to convert %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to convert %s: %w", path, err)
	}
	return tmp.Name(), nil
}

// sheetRecords reads every row of sheet as formatted cell text, header first.
func sheetRecords(f *excelize.File, sheet string) ([][]string, error) {
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records [][]string
	width := 0
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		if len(records) == 0 && blankRow(cols) {
			continue
		}
		records = append(records, cols)
		width = max(width, len(cols))
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	for i, rec := range records {
		for len(rec) < width {
			rec = append(rec, "")
		}
		records[i] = rec
	}
	for i, name := range records[0] {
		if strings.TrimSpace(name) == "" {
			records[0][i] = fmt.Sprintf("column%d", i+1)
		}
	}
	return records, nil
}

func blankRow(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
