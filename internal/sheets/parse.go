package sheets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"ventas/internal/core"
)

// numericCell matches cells that the reader turns into numbers.
var numericCell = regexp.MustCompile(`^\s*-?(\d+\.?|\.\d+|\d+\.\d+)([eE][-+]?\d+)?\s*$`)

// ParseCSV reads a sheet export with a header row. Blank lines are skipped,
// short records simply miss the trailing columns and numeric cells become
// float64.
func ParseCSV(r io.Reader) ([]core.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		records = append(records, rec)
	}
	return RowsFromRecords(records), nil
}

// RowsFromRecords maps string records to rows using the first record as header.
func RowsFromRecords(records [][]string) []core.Row {
	if len(records) == 0 {
		return nil
	}
	headers := normalizeHeaders(records[0])
	rows := make([]core.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if blankRecord(rec) {
			continue
		}
		row := make(core.Row, len(headers))
		for i, h := range headers {
			if h == "" || i >= len(rec) {
				continue
			}
			row[h] = typeCell(rec[i])
		}
		rows = append(rows, row)
	}
	return rows
}

// RowsFromValues maps a Sheets API value matrix to rows.
func RowsFromValues(values [][]interface{}) []core.Row {
	records := make([][]string, 0, len(values))
	typed := make([][]any, 0, len(values))
	for _, line := range values {
		rec := make([]string, len(line))
		cells := make([]any, len(line))
		for i, v := range line {
			switch x := v.(type) {
			case float64:
				rec[i] = strconv.FormatFloat(x, 'f', -1, 64)
				cells[i] = x
			case nil:
				cells[i] = nil
			default:
				rec[i] = fmt.Sprint(x)
				cells[i] = typeCell(rec[i])
			}
		}
		records = append(records, rec)
		typed = append(typed, cells)
	}
	if len(records) == 0 {
		return nil
	}

	headers := normalizeHeaders(records[0])
	rows := make([]core.Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		if blankRecord(rec) {
			continue
		}
		cells := typed[n+1]
		row := make(core.Row, len(headers))
		for i, h := range headers {
			if h == "" || i >= len(cells) {
				continue
			}
			row[h] = cells[i]
		}
		rows = append(rows, row)
	}
	return rows
}

func normalizeHeaders(in []string) []string {
	out := make([]string, len(in))
	for i, h := range in {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = h
	}
	return out
}

func blankRecord(rec []string) bool {
	return len(rec) == 0 || (len(rec) == 1 && rec[0] == "")
}

// typeCell converts numeric text to float64, empty text to nil and leaves the
// rest untouched.
func typeCell(s string) any {
	if s == "" {
		return nil
	}
	if numericCell.MatchString(s) {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return s
}
