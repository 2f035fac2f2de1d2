package serializer

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const jsonFilename = "value.json"

// JSON serializes any JSON-marshalable value as a single value.json file.
// Grounded on original_source/connectome/serializers.py:JsonSerializer.
type JSON struct{}

func (JSON) Save(value any, dir string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errorf("json: %v", err)
	}
	return os.WriteFile(filepath.Join(dir, jsonFilename), data, 0o444)
}

func (JSON) Load(dir string) (any, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errorf("json: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != jsonFilename {
		return nil, errorf("json: unexpected leaf contents in %s", dir)
	}
	data, err := os.ReadFile(filepath.Join(dir, jsonFilename))
	if err != nil {
		return nil, errorf("json: %v", err)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errorf("json: %v", err)
	}
	return value, nil
}
