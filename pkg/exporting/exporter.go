package exporting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Exporter streams records to one results file. It is safe for concurrent
// use.
type Exporter struct {
	path   string
	format string

	mu      sync.Mutex
	w       Writer
	written int
}

// NewExporter creates path (and its directory) using the encoding implied
// by its extension.
func NewExporter(path string) (*Exporter, error) {
	f, err := Lookup(path)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	w, err := f.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &Exporter{path: path, format: f.Name, w: w}, nil
}

func (e *Exporter) Path() string   { return e.path }
func (e *Exporter) Format() string { return e.format }

// Written returns the number of records accepted so far.
func (e *Exporter) Written() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written
}

func (e *Exporter) Write(record Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.w.Write(record); err != nil {
		return err
	}
	e.written++
	return nil
}

func (e *Exporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Flush()
}

// Close finishes the file. The exporter must not be used afterwards.
func (e *Exporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Close()
}
