package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// RecordTypePrefix namespaces JSONL envelope types, e.g.
// "wsfetch.download-progress.v1".
const RecordTypePrefix = "wsfetch."

// ErrWriterClosed is returned when writing to a closed JSONLWriter.
var ErrWriterClosed = errors.New("writer is closed")

// Record is the JSONL envelope written for each event.
type Record struct {
	Type string `json:"type"`
	Event
}

// RecordType returns the envelope type for a kind.
func RecordType(k Kind) string {
	return RecordTypePrefix + string(k) + ".v1"
}

// WriteError wraps a failure to marshal or write a record.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("jsonl %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// JSONLWriter writes events as newline-delimited JSON.
//
// JSONLWriter is safe for concurrent use; each record is written as one
// complete line under a mutex.
type JSONLWriter struct {
	w      io.Writer
	mu     sync.Mutex
	closed bool

	// filter, when set, decides which kinds are written.
	filter func(Kind) bool

	lastErr error
}

// NewJSONLWriter creates a writer on w. The underlying writer is never
// closed by JSONLWriter.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: w}
}

// WithKinds restricts output to the given kinds.
func (jw *JSONLWriter) WithKinds(kinds ...Kind) *JSONLWriter {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	jw.filter = func(k Kind) bool { return allowed[k] }
	return jw
}

// Write emits a single event record.
func (jw *JSONLWriter) Write(e Event) error {
	if jw.filter != nil && !jw.filter(e.Kind) {
		return nil
	}

	b, err := json.Marshal(Record{Type: RecordType(e.Kind), Event: e})
	if err != nil {
		return &WriteError{Op: "marshal", Err: err}
	}
	b = append(b, '\n')

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := writeAll(jw.w, b); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// Publish implements Publisher. Write errors are retained and reported by
// Err.
func (jw *JSONLWriter) Publish(e Event) {
	if err := jw.Write(e); err != nil {
		jw.mu.Lock()
		jw.lastErr = err
		jw.mu.Unlock()
	}
}

// Err returns the most recent error seen by Publish.
func (jw *JSONLWriter) Err() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.lastErr
}

// Close marks the writer as closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

// writeAll loops over short writes so a record is never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Publisher = (*JSONLWriter)(nil)
