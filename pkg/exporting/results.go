package exporting

import (
	"fmt"

	"InferenceGovernor/pkg/benchmarking"
)

// SaveResults writes one record per concurrency level to path.
func SaveResults(path string, results []benchmarking.Result) error {
	records := make([]Record, len(results))
	for i, r := range results {
		records[i] = r.ToRecord()
	}
	return SaveRecords(path, records)
}

// LoadResults reads results written by SaveResults in any registered
// format, in file order.
func LoadResults(path string) ([]benchmarking.Result, error) {
	records, err := LoadRecords(path)
	if err != nil {
		return nil, err
	}

	results := make([]benchmarking.Result, 0, len(records))
	for i, rec := range records {
		r, err := benchmarking.FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// WriteResult appends one level's result and flushes so the file reflects
// every completed level.
func (e *Exporter) WriteResult(r benchmarking.Result) error {
	if err := e.Write(r.ToRecord()); err != nil {
		return err
	}
	return e.Flush()
}
