// Package layout derives on-disk locations for downloads.
//
// Every download uses two directories under the download root: a temporary
// working directory keyed by content id, and a final directory named after
// the sanitized display name.
package layout

import (
	"path/filepath"
	"strings"
)

const (
	// DownloadDirName is the download root beneath the data directory.
	DownloadDirName = "download"

	// MaxNameLength bounds sanitized names, counted in runes.
	MaxNameLength = 200

	// UnnamedItem replaces names that sanitize to nothing.
	UnnamedItem = "unnamed_item"
)

// SanitizeName turns a display name into a safe single path segment.
//
// Letters, digits, '-', '_', '.' and spaces are kept; anything else becomes
// '_'. Runs of whitespace collapse to one space, the result is trimmed and
// truncated to MaxNameLength runes.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.Join(strings.Fields(b.String()), " ")
	if out == "" || out == "." || out == ".." {
		return UnnamedItem
	}

	runes := []rune(out)
	if len(runes) > MaxNameLength {
		out = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return out
}

// Layout resolves download directories beneath Root.
type Layout struct {
	Root string
}

// New returns a layout rooted at <dataDir>/download.
func New(dataDir string) Layout {
	return Layout{Root: filepath.Join(dataDir, DownloadDirName)}
}

// TempDir is the engine's install target for a content id.
func (l Layout) TempDir(contentID string) string {
	return filepath.Join(l.Root, contentID)
}

// FinalDir is where a relocated download ends up.
//
// A name made only of digits could be some content id's working directory,
// including this download's own, so "-<contentID>" is appended to it.
func (l Layout) FinalDir(displayName, contentID string) string {
	name := SanitizeName(displayName)
	if isDigits(name) {
		name += "-" + contentID
	}
	return filepath.Join(l.Root, name)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// WorkshopContentDir is where the engine leaves a workshop item inside its
// install target.
func WorkshopContentDir(tempDir, ownerAppID, contentID string) string {
	return filepath.Join(tempDir, "steamapps", "workshop", "content", ownerAppID, contentID)
}
