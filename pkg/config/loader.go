package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file, applies defaults, and
// validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// NetworkDefaults is a small, separately-loaded overlay operators can share
// unmodified across many per-deployment YAML files: the network-level
// numbers that rarely differ between deployments on the same chain.
type NetworkDefaults struct {
	ChainID                  uint64 `toml:"chain_id"`
	DefaultMaxBlockRange     uint64 `toml:"default_max_block_range"`
	MaxRPCRequestConcurrency int    `toml:"max_rpc_request_concurrency"`
}

// LoadNetworkDefaults reads a TOML network-defaults overlay file.
func LoadNetworkDefaults(path string) (*NetworkDefaults, error) {
	var defaults NetworkDefaults
	if _, err := toml.DecodeFile(path, &defaults); err != nil {
		return nil, fmt.Errorf("failed to parse network defaults file: %w", err)
	}
	return &defaults, nil
}

// ApplyNetworkDefaults fills in any zero-valued network fields from an
// overlay, without overwriting values the primary config already set.
func (c *Config) ApplyNetworkDefaults(defaults *NetworkDefaults) {
	if defaults == nil {
		return
	}
	if c.Network.ChainID == 0 {
		c.Network.ChainID = defaults.ChainID
	}
	if c.Network.DefaultMaxBlockRange == 0 {
		c.Network.DefaultMaxBlockRange = defaults.DefaultMaxBlockRange
	}
	if c.Network.MaxRPCRequestConcurrency == 0 {
		c.Network.MaxRPCRequestConcurrency = defaults.MaxRPCRequestConcurrency
	}
}

// LoadFromFileWithNetworkDefaults loads the primary YAML config, overlays an
// optional TOML network-defaults file (applied before ApplyDefaults so the
// overlay's values win over the engine's own defaults but never over values
// explicit in the primary file), and validates the result.
func LoadFromFileWithNetworkDefaults(path, networkDefaultsPath string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if networkDefaultsPath != "" {
		defaults, err := LoadNetworkDefaults(networkDefaultsPath)
		if err != nil {
			return nil, err
		}
		cfg.ApplyNetworkDefaults(defaults)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
