//go:build !embedengine

package engineassets

var payload []byte
