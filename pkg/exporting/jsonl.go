package exporting

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

const maxLineSize = 1 << 20

func init() {
	register(Format{Name: "jsonl", Ext: ".jsonl", Read: readJSONL, Create: createJSONL})
}

// readJSONL decodes one object per line. Blank lines are skipped and a
// malformed line fails the read with its line number.
func readJSONL(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var records []Record
	for line := 1; sc.Scan(); line++ {
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, sc.Err()
}

type jsonlWriter struct {
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

func createJSONL(path string) (Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(file)
	return &jsonlWriter{file: file, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (w *jsonlWriter) Write(record Record) error {
	return w.enc.Encode(record)
}

func (w *jsonlWriter) Flush() error {
	return w.buf.Flush()
}

func (w *jsonlWriter) Close() error {
	err := w.buf.Flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}
