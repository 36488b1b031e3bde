package exporting

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

func init() {
	register(Format{Name: "parquet", Ext: ".parquet", Read: readParquet, Create: createParquet})
}

func readParquet(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, err
	}

	fields := pf.Schema().Fields()
	records := make([]Record, 0, pf.NumRows())
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		err := readRowGroup(rows, fields, func(rec Record) { records = append(records, rec) })
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func readRowGroup(rows parquet.Rows, fields []parquet.Field, emit func(Record)) error {
	buf := make([]parquet.Row, 32)
	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			rec := make(Record, len(fields))
			for _, v := range row {
				if col := v.Column(); !v.IsNull() && col >= 0 && col < len(fields) {
					rec[fields[col].Name()] = parquetToGo(v)
				}
			}
			emit(rec)
		}
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("reading rows: %w", err)
		case n == 0:
			return nil
		}
	}
}

func parquetToGo(v parquet.Value) interface{} {
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	default:
		return string(v.ByteArray())
	}
}

// parquetWriter collects rows and writes a single row group with the footer
// on Close. A parquet file cannot be read until then, so Flush does nothing.
type parquetWriter struct {
	path   string
	header []string
	schema *parquet.Schema
	rows   []parquet.Row
}

func createParquet(path string) (Writer, error) {
	return &parquetWriter{path: path}, nil
}

func (w *parquetWriter) Write(record Record) error {
	if w.schema == nil {
		w.header = columns(record)
		group := make(parquet.Group, len(w.header))
		for _, col := range w.header {
			group[col] = parquet.Optional(leafFor(record[col]))
		}
		w.schema = parquet.NewSchema("result", group)
	}

	// Group fields are laid out in name order, matching header.
	row := make(parquet.Row, len(w.header))
	for i, col := range w.header {
		if val, ok := record[col]; ok && val != nil {
			row[i] = goToParquet(val).Level(0, 1, i)
		} else {
			row[i] = parquet.NullValue().Level(0, 0, i)
		}
	}
	w.rows = append(w.rows, row)
	return nil
}

func leafFor(val interface{}) parquet.Node {
	switch val.(type) {
	case int, int32, int64:
		return parquet.Int(64)
	case float32, float64:
		return parquet.Leaf(parquet.DoubleType)
	case bool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func goToParquet(val interface{}) parquet.Value {
	switch v := val.(type) {
	case bool:
		return parquet.BooleanValue(v)
	case int:
		return parquet.Int64Value(int64(v))
	case int32:
		return parquet.Int64Value(int64(v))
	case int64:
		return parquet.Int64Value(v)
	case float32:
		return parquet.DoubleValue(float64(v))
	case float64:
		return parquet.DoubleValue(v)
	default:
		return parquet.ByteArrayValue([]byte(fmt.Sprint(v)))
	}
}

func (w *parquetWriter) Flush() error { return nil }

func (w *parquetWriter) Close() error {
	if w.schema == nil {
		return fmt.Errorf("no records written to %s", w.path)
	}

	file, err := os.Create(w.path)
	if err != nil {
		return err
	}
	pw := parquet.NewWriter(file, w.schema, parquet.Compression(&parquet.Snappy))
	if _, err := pw.WriteRows(w.rows); err != nil {
		file.Close()
		return fmt.Errorf("writing rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		file.Close()
		return fmt.Errorf("writing footer: %w", err)
	}
	return file.Close()
}
