package diskindex

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configFilename = "config.yml"

// FileConfig is the on-disk, human-editable counterpart to Levels/locker
// selection, persisted at the index root as config.yml. Grounded on
// original_source/connectome/storage/config.py's DiskConfig/init_storage/
// load_config (hash algorithm + levels + locker, YAML-serialized).
type FileConfig struct {
	Levels []int  `yaml:"levels"`
	Locker string `yaml:"locker,omitempty"`
}

// LoadFileConfig reads config.yml from root, if present.
func LoadFileConfig(root string) (*FileConfig, error) {
	data, err := os.ReadFile(filepath.Join(root, configFilename))
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteFileConfig persists cfg as root's config.yml, creating root if needed.
func WriteFileConfig(root string, cfg *FileConfig) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, configFilename), data, 0o644)
}
