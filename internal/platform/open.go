// Package platform wraps OS-specific desktop integration.
package platform

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrUnsupportedOS is returned where no file manager command is known.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// OpenCommand returns the command that opens path in the file manager on
// goos.
func OpenCommand(goos, path string) (string, []string, error) {
	switch goos {
	case "windows":
		return "explorer", []string{path}, nil
	case "darwin":
		return "open", []string{path}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{path}, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
	}
}

// OpenInFileManager opens an existing path in the system file manager. It
// does not wait for the file manager to exit.
func OpenInFileManager(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return err
	}

	name, args, err := OpenCommand(runtime.GOOS, abs)
	if err != nil {
		return err
	}
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
