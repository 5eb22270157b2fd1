// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
package schemasassets

import _ "embed"

// BatchManifestSchema validates batch download manifests.
//
//go:embed batch-manifest.schema.json
var BatchManifestSchema []byte
