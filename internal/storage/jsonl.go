package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Stdout is the path that selects standard output.
const Stdout = "-"

// Sink receives batches of records.
type Sink[T any] interface {
	PutBatch(records []T) error
}

// JSONL appends records as JSON lines to a file, or to stdout for "-".
type JSONL[T any] struct {
	path   string
	stdout io.Writer
	mu     sync.Mutex
}

func NewJSONL[T any](path string) *JSONL[T] {
	if path == "" {
		path = Stdout
	}
	return &JSONL[T]{path: path, stdout: os.Stdout}
}

// PutBatch appends a batch of records as JSON lines.
func (s *JSONL[T]) PutBatch(records []T) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == Stdout {
		return writeLines(s.stdout, records)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	return writeLines(file, records)
}

func writeLines[T any](w io.Writer, records []T) error {
	writer := bufio.NewWriter(w)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
