package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a descriptor from a YAML or JSON file.
//
// The format is determined by extension: .json for JSON, anything else is
// parsed as YAML (a superset of JSON). The descriptor is not validated.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("descriptor file not found: %s: %w", path, os.ErrNotExist)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading descriptor: %s", path)
		}
		return nil, fmt.Errorf("failed to read descriptor file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses a descriptor. The path is used for format detection
// and error messages only.
func LoadFromBytes(data []byte, path string) (*Descriptor, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("descriptor file is empty")
	}

	var d Descriptor
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("invalid JSON in descriptor %s: %w", path, err)
		}
		return &d, nil
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("invalid YAML in descriptor %s: %w", path, err)
	}
	return &d, nil
}
