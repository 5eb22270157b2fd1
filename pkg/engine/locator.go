package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// ErrEngineUnavailable indicates no runnable engine executable could be found
// or extracted.
var ErrEngineUnavailable = errors.New("engine unavailable")

// EngineDirName is the directory under the data dir holding the extracted
// engine.
const EngineDirName = "engine"

// ExecutableName is the engine's file name on this platform.
func ExecutableName() string {
	if runtime.GOOS == "windows" {
		return "steamcmd.exe"
	}
	return "steamcmd"
}

// Locator finds the engine executable, extracting the embedded payload on
// first use when needed.
type Locator struct {
	// Override points at an existing engine; extraction is skipped when set.
	Override string

	// Dir receives the extracted payload.
	Dir string

	// Payload is the embedded engine executable. May be empty.
	Payload []byte

	Logger *zap.Logger

	mu sync.Mutex
}

// NewLocator returns a locator extracting into <dataDir>/engine.
func NewLocator(dataDir, override string, payload []byte, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{
		Override: override,
		Dir:      filepath.Join(dataDir, EngineDirName),
		Payload:  payload,
		Logger:   logger,
	}
}

// Path is where the engine is expected to be.
func (l *Locator) Path() string {
	if l.Override != "" {
		return l.Override
	}
	return filepath.Join(l.Dir, ExecutableName())
}

// Resolve returns the engine path, extracting the payload if the file is
// missing.
func (l *Locator) Resolve() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.Path()
	if fileExists(path) {
		return path, nil
	}
	if l.Override != "" {
		return "", fmt.Errorf("%w: %s does not exist", ErrEngineUnavailable, path)
	}

	if err := l.extract(path); err != nil {
		return "", err
	}
	if !fileExists(path) {
		return "", fmt.Errorf("%w: %s missing after extraction", ErrEngineUnavailable, path)
	}
	return path, nil
}

// Extract writes the payload to Path, replacing any existing file.
func (l *Locator) Extract() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.Override != "" {
		return "", fmt.Errorf("%w: extraction disabled when an engine path is configured", ErrEngineUnavailable)
	}
	path := l.Path()
	if err := l.extract(path); err != nil {
		return "", err
	}
	return path, nil
}

func (l *Locator) extract(path string) error {
	if len(l.Payload) == 0 {
		return fmt.Errorf("%w: no embedded engine in this build and %s does not exist", ErrEngineUnavailable, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create engine dir: %v", ErrEngineUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".engine-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(l.Payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write engine: %v", ErrEngineUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: write engine: %v", ErrEngineUnavailable, err)
	}
	if err := os.Chmod(tmpName, 0o755); err != nil {
		return fmt.Errorf("%w: chmod engine: %v", ErrEngineUnavailable, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: install engine: %v", ErrEngineUnavailable, err)
	}

	l.Logger.Info("engine extracted", zap.String("path", path), zap.Int("bytes", len(l.Payload)))
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
