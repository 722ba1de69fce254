package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the optional YAML configuration for the impute
// command, letting a long cache/mode setup live in a file instead of a
// wall of flags. Flags passed on the command line always take
// precedence over a loaded config value. Strict (KnownFields) decoding
// matches the teacher's policy-bundle loader so a typo'd key fails
// loudly instead of being silently ignored.
type EngineConfig struct {
	Mode       string `yaml:"mode"`
	Cache      string `yaml:"cache"`
	CacheAddr  string `yaml:"cache_addr"`
	CacheRoot  string `yaml:"cache_root"`
	CacheBound int    `yaml:"cache_bound"`
	Workers    int    `yaml:"workers"`
}

// LoadEngineConfig reads and strictly parses a YAML engine configuration
// file.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading engine config: %w", err)
	}
	var cfg EngineConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing engine config: %w", err)
	}
	return &cfg, nil
}
