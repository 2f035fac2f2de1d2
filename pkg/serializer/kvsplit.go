package serializer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const keysManifest = "dict_keys.json"

// KVSplit serializes a map[string]any by writing each value into its own
// numbered sub-folder under dir, using an inner Serializer chain, plus a
// manifest recording which sub-folder holds which key. All keys still live
// under the same dir and are saved and loaded together.
//
// Grounded on original_source/connectome/serializers.py:DictSerializer.
type KVSplit struct {
	Inner Serializer
}

func (d KVSplit) Save(value any, dir string) error {
	m, ok := value.(map[string]any)
	if !ok {
		return errorf("kvsplit: unsupported value type %T", value)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	manifest, err := json.Marshal(keys)
	if err != nil {
		return errorf("kvsplit: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, keysManifest), manifest, 0o444); err != nil {
		return errorf("kvsplit: %v", err)
	}

	for i, k := range keys {
		sub := filepath.Join(dir, fmt.Sprintf("%d", i))
		if err := os.Mkdir(sub, 0o755); err != nil {
			return errorf("kvsplit: %v", err)
		}
		if err := d.Inner.Save(m[k], sub); err != nil {
			return errorf("kvsplit: key %q: %v", k, err)
		}
	}
	return nil
}

func (d KVSplit) Load(dir string) (any, error) {
	raw, err := os.ReadFile(filepath.Join(dir, keysManifest))
	if err != nil {
		return nil, errorf("kvsplit: %v", err)
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, errorf("kvsplit: %v", err)
	}

	out := make(map[string]any, len(keys))
	for i, k := range keys {
		sub := filepath.Join(dir, fmt.Sprintf("%d", i))
		v, err := d.Inner.Load(sub)
		if err != nil {
			return nil, errorf("kvsplit: key %q: %v", k, err)
		}
		out[k] = v
	}
	return out, nil
}
