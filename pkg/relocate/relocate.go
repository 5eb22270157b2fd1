// Package relocate moves finished downloads into their final location.
package relocate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrRelocation matches every RelocationError.
var ErrRelocation = errors.New("relocation failed")

// RelocationError reports the leaf operation that failed.
type RelocationError struct {
	Op   string
	Path string
	Err  error
}

func (e *RelocationError) Error() string {
	return fmt.Sprintf("relocate %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *RelocationError) Unwrap() error { return e.Err }

func (e *RelocationError) Is(target error) bool { return target == ErrRelocation }

// rename is swapped in tests to force the copy path.
var rename = os.Rename

// MoveTree moves a file or directory tree from src to dst.
//
// A single rename is tried first so same-volume moves are atomic. When that
// fails the tree is copied file by file and the source removed afterwards. A
// failed copy removes whatever it created at dst if dst did not exist before.
func MoveTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return &RelocationError{Op: "stat", Path: src, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &RelocationError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
	}

	if err := rename(src, dst); err == nil {
		return nil
	}

	_, statErr := os.Lstat(dst)
	createdDst := errors.Is(statErr, fs.ErrNotExist)

	if err := copyTree(src, dst, info); err != nil {
		if createdDst {
			_ = os.RemoveAll(dst)
		}
		return err
	}

	if err := os.RemoveAll(src); err != nil {
		return &RelocationError{Op: "remove", Path: src, Err: err}
	}
	return nil
}

// Hoist skips a chain of wrapper directories that each hold exactly one
// subdirectory, then moves the first directory with real content to dst. It
// returns the directory that was moved.
func Hoist(src, dst string) (string, error) {
	cur := src
	for {
		entries, err := os.ReadDir(cur)
		if err != nil {
			return "", &RelocationError{Op: "readdir", Path: cur, Err: err}
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			break
		}
		cur = filepath.Join(cur, entries[0].Name())
	}

	if err := MoveTree(cur, dst); err != nil {
		return "", err
	}
	return cur, nil
}

// Exists reports whether path exists. Errors other than not-exist count as
// existing.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

func copyTree(src, dst string, info fs.FileInfo) error {
	if !info.IsDir() {
		return copyEntry(src, dst, info)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &RelocationError{Op: "walk", Path: path, Err: err}
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return &RelocationError{Op: "walk", Path: path, Err: err}
		}
		target := filepath.Join(dst, rel)

		fi, err := d.Info()
		if err != nil {
			return &RelocationError{Op: "stat", Path: path, Err: err}
		}
		return copyEntry(path, target, fi)
	})
}

func copyEntry(src, dst string, info fs.FileInfo) error {
	switch {
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
			return &RelocationError{Op: "mkdir", Path: dst, Err: err}
		}
		return nil
	case info.Mode()&fs.ModeSymlink != 0:
		link, err := os.Readlink(src)
		if err != nil {
			return &RelocationError{Op: "readlink", Path: src, Err: err}
		}
		if err := os.Symlink(link, dst); err != nil {
			return &RelocationError{Op: "symlink", Path: dst, Err: err}
		}
		return nil
	default:
		return copyFile(src, dst, info.Mode().Perm())
	}
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return &RelocationError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return &RelocationError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return &RelocationError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &RelocationError{Op: "close", Path: dst, Err: err}
	}
	return nil
}
