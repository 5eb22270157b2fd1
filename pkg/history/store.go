// Package history persists completed downloads across restarts.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileName is the history file under the data dir.
const FileName = "history.json"

// Record describes one completed download.
type Record struct {
	ID          string    `json:"id"`
	SourceRef   string    `json:"source_ref"`
	Name        string    `json:"name"`
	InstallPath string    `json:"install_path"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store is a JSON-file backed list of records keyed by id.
//
// Every mutation rewrites the file atomically. Records keep insertion order;
// re-adding an id moves it to the end.
type Store struct {
	path string

	mu      sync.Mutex
	records []Record
}

// Open loads the history file at path. A missing file is an empty history.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	s := &Store{path: path}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// Add stores r, replacing any record with the same id.
func (s *Store) Add(r Record) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Record, 0, len(s.records)+1)
	for _, existing := range s.records {
		if existing.ID != r.ID {
			next = append(next, existing)
		}
	}
	next = append(next, r)

	if err := s.write(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

// List returns a copy of all records.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record with id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// ErrCleanup reports that a record was removed but its install directory
// could not be deleted.
var ErrCleanup = errors.New("install directory cleanup failed")

// Remove deletes the record with id and, best effort, its install directory.
// It reports whether a record was removed. When only the directory deletion
// fails, removed is true and the error matches ErrCleanup.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, r := range s.records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	victim := s.records[idx]
	next := make([]Record, 0, len(s.records)-1)
	next = append(next, s.records[:idx]...)
	next = append(next, s.records[idx+1:]...)

	if err := s.write(next); err != nil {
		return false, err
	}
	s.records = next

	if err := removeInstallDir(victim.InstallPath); err != nil {
		return true, fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	return true, nil
}

// Clear drops every record. Install directories are left alone.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write([]Record{}); err != nil {
		return err
	}
	s.records = nil
	return nil
}

func (s *Store) write(records []Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	if records == nil {
		records = []Record{}
	}

	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, FileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp history file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename history file: %w", err)
	}
	return nil
}

func removeInstallDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) || clean == filepath.Dir(clean) {
		return fmt.Errorf("refusing to delete %q", path)
	}
	if _, err := os.Stat(clean); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.RemoveAll(clean)
}
