//go:build embedengine

package engineassets

import _ "embed"

//go:embed bin/steamcmd
var payload []byte
