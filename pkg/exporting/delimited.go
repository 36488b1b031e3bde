package exporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func init() {
	register(delimited("csv", ','))
	register(delimited("tsv", '\t'))
}

func delimited(name string, comma rune) Format {
	return Format{
		Name:   name,
		Ext:    "." + name,
		Read:   func(path string) ([]Record, error) { return readDelimited(path, comma) },
		Create: func(path string) (Writer, error) { return createDelimited(path, comma) },
	}
}

// readDelimited maps each row onto the header. Empty cells are left out of
// the record.
func readDelimited(path string, comma rune) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = comma
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("missing header row")
	}

	header := rows[0]
	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(Record, len(header))
		for i, cell := range row {
			if i < len(header) && cell != "" {
				rec[header[i]] = parseCell(cell)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseCell types a cell as int64, float64, bool or string, in that order.
func parseCell(cell string) interface{} {
	if i, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	switch strings.ToLower(cell) {
	case "true":
		return true
	case "false":
		return false
	}
	return cell
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(v)
	}
}

type delimitedWriter struct {
	file   *os.File
	out    *csv.Writer
	header []string
}

func createDelimited(path string, comma rune) (Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	out := csv.NewWriter(file)
	out.Comma = comma
	return &delimitedWriter{file: file, out: out}, nil
}

func (w *delimitedWriter) Write(record Record) error {
	if w.header == nil {
		w.header = columns(record)
		if err := w.out.Write(w.header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	row := make([]string, len(w.header))
	for i, col := range w.header {
		row[i] = formatCell(record[col])
	}
	return w.out.Write(row)
}

func (w *delimitedWriter) Flush() error {
	w.out.Flush()
	return w.out.Error()
}

func (w *delimitedWriter) Close() error {
	err := w.Flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}
