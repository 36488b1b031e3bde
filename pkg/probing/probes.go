// Package probing reads single-value and key-value files under procfs and
// sysfs.
package probing

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// File returns the content of path.
func File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileInt reads path as a single integer, such as a thermal zone's
// millidegree temperature.
func FileInt(path string) (int64, error) {
	v, err := File(path)
	if err != nil {
		return 0, err
	}
	return ParseInt64(v)
}

// FileKV splits each line of path on the first sep. Lines without sep are
// skipped; keys and values are trimmed.
func FileKV(path, sep string) (map[string]string, error) {
	content, err := File(path)
	if err != nil {
		return nil, err
	}
	kv := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		key, val, ok := strings.Cut(line, sep)
		if !ok {
			continue
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return kv, nil
}

// ParseInt64 parses s after trimming surrounding whitespace.
func ParseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse int %q: %w", s, err)
	}
	return v, nil
}
