// Package metadata resolves workshop page URLs into a source reference and
// display title.
package metadata

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
)

var (
	// ErrMetadataExtraction indicates the page lacked an owner app id or title.
	ErrMetadataExtraction = errors.New("metadata extraction failed")

	// ErrInvalidURL indicates a workshop URL without a usable content id.
	ErrInvalidURL = errors.New("invalid workshop url")
)

// WorkshopHost identifies workshop page URLs.
const WorkshopHost = "steamcommunity.com"

// Metadata is what a workshop page tells us about an item.
type Metadata struct {
	OwnerAppID string `json:"owner_app_id"`
	ContentID  string `json:"content_id"`
	Title      string `json:"title"`
}

// SourceRef renders the "<owner>:<content>" reference for the item.
func (m Metadata) SourceRef() string {
	return m.OwnerAppID + ":" + m.ContentID
}

// IsWorkshopURL reports whether s should be resolved through a page fetch
// rather than used as a raw reference.
func IsWorkshopURL(s string) bool {
	return strings.Contains(s, WorkshopHost)
}

// ContentIDFromURL returns the id query parameter of a workshop URL.
func ContentIDFromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	id := strings.TrimSpace(u.Query().Get("id"))
	if id == "" {
		return "", fmt.Errorf("%w: missing id parameter in %q", ErrInvalidURL, raw)
	}
	return id, nil
}

// Parse extracts the owner app id and title from workshop page markup.
func Parse(page, contentID string) (Metadata, error) {
	owner := extractOwnerAppID(page)
	if owner == "" {
		return Metadata{}, fmt.Errorf("%w: owner app id not found", ErrMetadataExtraction)
	}
	title := extractTitle(page)
	if title == "" {
		return Metadata{}, fmt.Errorf("%w: title not found", ErrMetadataExtraction)
	}
	return Metadata{OwnerAppID: owner, ContentID: contentID, Title: title}, nil
}

// extractOwnerAppID prefers the data-appid attribute and falls back to the
// first /app/<digits> link.
func extractOwnerAppID(page string) string {
	const attr = `data-appid="`
	if _, rest, ok := strings.Cut(page, attr); ok {
		if v, _, ok := strings.Cut(rest, `"`); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}

	if _, rest, ok := strings.Cut(page, "/app/"); ok {
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		return rest[:end]
	}
	return ""
}

func extractTitle(page string) string {
	const marker = `class="workshopItemTitle"`
	idx := strings.Index(page, marker)
	if idx < 0 {
		return ""
	}
	_, content, ok := strings.Cut(page[idx:], ">")
	if !ok {
		return ""
	}
	title, _, ok := strings.Cut(content, "</div>")
	if !ok {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(title))
}
