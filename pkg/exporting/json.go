package exporting

import (
	"encoding/json"
	"fmt"
	"os"
)

func init() {
	register(Format{Name: "json", Ext: ".json", Read: readJSON, Create: createJSON})
}

func readJSON(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding json array: %w", err)
	}
	return records, nil
}

// jsonWriter holds every record and rewrites the indented array on each
// Flush, so the file parses after every completed level.
type jsonWriter struct {
	path    string
	records []Record
}

func createJSON(path string) (Writer, error) {
	w := &jsonWriter{path: path, records: []Record{}}
	return w, w.Flush()
}

func (w *jsonWriter) Write(record Record) error {
	w.records = append(w.records, record)
	return nil
}

func (w *jsonWriter) Flush() error {
	data, err := json.MarshalIndent(w.records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(w.path, append(data, '\n'), 0o644)
}

func (w *jsonWriter) Close() error {
	return w.Flush()
}
