// Package manifest loads batch download manifests.
//
// A batch manifest lists items to enqueue in one go. Each item is either a
// raw source reference ("570", "4000:123456") or a workshop page URL.
//
//	version: "1.0"
//	defaults:
//	  name_prefix: "[srv] "
//	items:
//	  - source: "570"
//	    name: Dota 2
//	  - source: https://steamcommunity.com/sharedfiles/filedetails/?id=123456
//
// Files are checked against the embedded JSON schema before they are
// decoded, so unknown fields are rejected.
package manifest

import "strings"

// Version is the only supported manifest version.
const Version = "1.0"

// Batch is a validated batch manifest.
type Batch struct {
	Schema   string   `json:"$schema,omitempty" yaml:"$schema,omitempty"`
	Version  string   `json:"version" yaml:"version"`
	Defaults Defaults `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Items    []Item   `json:"items" yaml:"items"`
}

// Defaults apply to every item.
type Defaults struct {
	// NamePrefix is prepended to explicit item names.
	NamePrefix string `json:"name_prefix,omitempty" yaml:"name_prefix,omitempty"`
}

// Item is one download request.
type Item struct {
	Source string `json:"source" yaml:"source"`

	// Name is the display name. Optional for URL sources, whose title comes
	// from the page; raw references without a name use the source itself.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ApplyDefaults trims fields and fills names.
func (b *Batch) ApplyDefaults() {
	for i := range b.Items {
		it := &b.Items[i]
		it.Source = strings.TrimSpace(it.Source)
		it.Name = strings.TrimSpace(it.Name)
		if it.Name != "" {
			it.Name = b.Defaults.NamePrefix + it.Name
		}
	}
}
