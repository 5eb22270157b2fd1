package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a manifest file. The extension picks the format (.yaml, .yml,
// .json); anything else is tried as YAML and then JSON.
func Load(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads a manifest from r. path is only used for format
// detection and messages.
func LoadFromReader(r io.Reader, path string) (*Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes validates data against the schema, then decodes it.
func LoadFromBytes(data []byte, path string) (*Batch, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var b Batch
	if err := json.Unmarshal(jsonData, &b); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	b.ApplyDefaults()
	return &b, nil
}

// toJSON normalizes YAML or JSON input to JSON for schema validation.
func toJSON(data []byte, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
		}
		return data, nil
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", err)
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	return out, nil
}
