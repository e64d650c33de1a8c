package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

var (
	once   sync.Once
	global *Config
)

// LoadConfig reads a YAML file into a fresh Config, falling back to
// Defaults() when path is empty or the file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the process-wide Config, loading it (YAML path from
// CONFIG_FILE, then env overrides) exactly once.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(os.Getenv("CONFIG_FILE"))
		if err != nil {
			cfg = Defaults()
		}
		ApplyEnvOverrides(cfg)
		global = cfg
	})
	return global
}

// Reset clears the cached global config. Test-only.
func Reset() {
	once = sync.Once{}
	global = nil
}
