package mirror

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects which files are mirrored.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter builds a filter. Patterns must already be valid.
func NewFilter(include, exclude []string) *Filter {
	return &Filter{include: include, exclude: exclude}
}

// Match reports whether rel (a slash path) should be mirrored. Excludes win
// over includes.
func (f *Filter) Match(rel string) bool {
	for _, p := range f.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, p := range f.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// ObjectKey joins prefix, the item folder and rel into an object key.
func ObjectKey(prefix, folder, rel string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, folder, strings.TrimPrefix(rel, "/"))
	return path.Join(parts...)
}
