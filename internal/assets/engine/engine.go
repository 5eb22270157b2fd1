// Package engineassets carries the optional embedded download engine.
//
// Release builds set the embedengine build tag and place the platform's
// engine executable at bin/steamcmd before compiling. Other builds carry no
// payload and rely on an engine installed at the configured path.
package engineassets

// Payload returns the embedded engine executable, or nil when the binary was
// built without one.
func Payload() []byte {
	return payload
}

// Embedded reports whether an engine payload is compiled in.
func Embedded() bool {
	return len(payload) > 0
}
