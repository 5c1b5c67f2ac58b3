package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a recipe from disk, dispatching on file extension (.json vs
// .yaml/.yml), validates its schema version and structural invariants, and
// returns the immutable Recipe.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe file: %w", err)
	}
	var r Recipe
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parse yaml recipe: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parse json recipe: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported recipe file extension: %s", ext)
	}
	if err := CheckSchemaCompatibility(&r); err != nil {
		return nil, err
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LoadJSON parses a recipe from an in-memory JSON document, e.g. one
// fetched from the reporting API or the CandleStore.
func LoadJSON(data []byte) (*Recipe, error) {
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse json recipe: %w", err)
	}
	if err := CheckSchemaCompatibility(&r); err != nil {
		return nil, err
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Export serializes a recipe back to JSON or YAML for persistence or API
// responses.
func Export(r *Recipe, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return yaml.Marshal(r)
	case "json", "":
		return json.MarshalIndent(r, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}
