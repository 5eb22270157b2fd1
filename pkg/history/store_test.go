package history

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func record(id, installPath string) Record {
	return Record{
		ID:          id,
		SourceRef:   "4000:" + id,
		Name:        "item " + id,
		InstallPath: installPath,
		CompletedAt: time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_AddPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatalf("expected empty history")
	}

	if err := s.Add(record("a", "/x/a")); err != nil {
		t.Fatalf("Add(a): %v", err)
	}
	if err := s.Add(record("b", "/x/b")); err != nil {
		t.Fatalf("Add(b): %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.List()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected records after reopen: %+v", got)
	}
	if !got[0].CompletedAt.Equal(record("a", "").CompletedAt) {
		t.Fatalf("completed_at not persisted: %v", got[0].CompletedAt)
	}
}

func TestStore_AddReplacesSameID(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	_ = s.Add(record("a", "/old"))
	_ = s.Add(record("b", "/b"))
	if err := s.Add(record("a", "/new")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := s.List()
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[1].ID != "a" || got[1].InstallPath != "/new" {
		t.Fatalf("re-added record should be last with new path: %+v", got)
	}
	if err := s.Add(Record{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestStore_RemoveDeletesInstallDir(t *testing.T) {
	dir := t.TempDir()
	install := filepath.Join(dir, "download", "Map Pack")
	if err := os.MkdirAll(filepath.Join(install, "maps"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(install, "maps", "a.bsp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	_ = s.Add(record("a", install))
	_ = s.Add(record("gone", filepath.Join(dir, "never-existed")))

	removed, err := s.Remove("a")
	if err != nil || !removed {
		t.Fatalf("Remove(a) = %v, %v", removed, err)
	}
	if _, err := os.Stat(install); !os.IsNotExist(err) {
		t.Fatalf("install dir should be deleted, stat err=%v", err)
	}

	// Missing directories are fine.
	removed, err = s.Remove("gone")
	if err != nil || !removed {
		t.Fatalf("Remove(gone) = %v, %v", removed, err)
	}

	removed, err = s.Remove("unknown")
	if err != nil || removed {
		t.Fatalf("Remove(unknown) = %v, %v", removed, err)
	}
	if _, ok := s.Get("a"); ok {
		t.Fatalf("record a should be gone")
	}
}

func TestStore_RemoveRefusesRelativePath(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	_ = s.Add(record("a", "relative/dir"))

	removed, err := s.Remove("a")
	if !removed {
		t.Fatalf("record should still be removed")
	}
	if !errors.Is(err, ErrCleanup) {
		t.Fatalf("expected ErrCleanup, got %v", err)
	}
}

func TestStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, _ := Open(path)
	_ = s.Add(record("a", "/a"))
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := len(reopened.List()); n != 0 {
		t.Fatalf("expected empty history after clear, got %d", n)
	}
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
