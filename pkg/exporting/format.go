// Package exporting reads and writes benchmark result files. The encoding
// is chosen from the file extension.
package exporting

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Record is one flat row of named values.
type Record = map[string]interface{}

// Writer appends records to a single file. The file is complete only after
// Close; Flush makes what was written so far durable where the encoding
// allows it.
type Writer interface {
	Write(record Record) error
	Flush() error
	Close() error
}

// Format is one supported file encoding.
type Format struct {
	Name   string
	Ext    string
	Read   func(path string) ([]Record, error)
	Create func(path string) (Writer, error)
}

var formats = make(map[string]Format)

func register(f Format) {
	formats[f.Ext] = f
}

// Lookup returns the format for path's extension, ignoring case.
func Lookup(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := formats[ext]; ok {
		return f, nil
	}
	return Format{}, fmt.Errorf("unsupported results file %q (supported: %s)", path, strings.Join(Extensions(), ", "))
}

// Extensions lists the supported file extensions in sorted order.
func Extensions() []string {
	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// LoadRecords reads every record in path.
func LoadRecords(path string) ([]Record, error) {
	f, err := Lookup(path)
	if err != nil {
		return nil, err
	}
	records, err := f.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

// SaveRecords writes records to path, replacing any existing file.
func SaveRecords(path string, records []Record) error {
	e, err := NewExporter(path)
	if err != nil {
		return err
	}
	for i, r := range records {
		if err := e.Write(r); err != nil {
			_ = e.Close()
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return e.Close()
}

// columns returns a record's keys in sorted order. Tabular encodings take
// their header from the first record.
func columns(record Record) []string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
