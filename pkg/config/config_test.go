package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Network: NetworkConfig{ChainID: 1, RPCURL: "http://localhost:8545"},
		Sources: []SourceConfig{
			{
				Name:       "pool",
				Type:       SourceTypeLogFilter,
				StartBlock: 100,
				Addresses:  []string{"0x1111111111111111111111111111111111111111"},
			},
		},
		Store: DatabaseConfig{Path: "test.db"},
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()

	assert.Equal(t, uint64(10_000), cfg.Network.DefaultMaxBlockRange)
	assert.Equal(t, 10, cfg.Network.MaxRPCRequestConcurrency)
	assert.Equal(t, 5, cfg.Network.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Network.Retry.InitialBackoff.Duration)
	assert.Equal(t, 30*time.Second, cfg.Network.Retry.MaxBackoff.Duration)
	assert.Equal(t, 2.0, cfg.Network.Retry.BackoffMultiplier)
	assert.Equal(t, "WAL", cfg.Store.JournalMode)
	assert.Equal(t, "info", cfg.Logging.DefaultLevel)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddress)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := validConfig()
		cfg.ApplyDefaults()
		require.NoError(t, cfg.Validate())
	})

	t.Run("missing rpc url", func(t *testing.T) {
		cfg := validConfig()
		cfg.Network.RPCURL = ""
		cfg.ApplyDefaults()
		assert.ErrorContains(t, cfg.Validate(), "rpc_url")
	})

	t.Run("no sources", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sources = nil
		cfg.ApplyDefaults()
		assert.ErrorContains(t, cfg.Validate(), "at least one source")
	})

	t.Run("duplicate source names", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sources = append(cfg.Sources, cfg.Sources[0])
		cfg.ApplyDefaults()
		assert.ErrorContains(t, cfg.Validate(), "duplicate source name")
	})

	t.Run("end block before start block", func(t *testing.T) {
		cfg := validConfig()
		end := uint64(50)
		cfg.Sources[0].EndBlock = &end
		cfg.ApplyDefaults()
		assert.ErrorContains(t, cfg.Validate(), "end_block")
	})

	t.Run("log filter without criteria", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sources[0].Addresses = nil
		cfg.ApplyDefaults()
		assert.ErrorContains(t, cfg.Validate(), "addresses or topics")
	})

	t.Run("factory without event selector", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sources[0].Type = SourceTypeFactory
		cfg.Sources[0].Address = "0x2222222222222222222222222222222222222222"
		cfg.ApplyDefaults()
		assert.ErrorContains(t, cfg.Validate(), "event_selector")
	})

	t.Run("unknown source type", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sources[0].Type = "block_filter"
		cfg.ApplyDefaults()
		assert.ErrorContains(t, cfg.Validate(), "type must be one of")
	})

	t.Run("unknown logging component", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.ComponentLevels = map[string]string{"nosuch": "debug"}
		cfg.ApplyDefaults()
		assert.ErrorContains(t, cfg.Validate(), "unknown component")
	})
}

func TestSourceConfig_EffectiveMaxBlockRange(t *testing.T) {
	network := NetworkConfig{DefaultMaxBlockRange: 10_000}

	src := SourceConfig{MaxBlockRange: 500}
	assert.Equal(t, uint64(500), src.EffectiveMaxBlockRange(network))

	src.MaxBlockRange = 0
	assert.Equal(t, uint64(10_000), src.EffectiveMaxBlockRange(network))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
network:
  chain_id: 137
  rpc_url: "http://localhost:8545"
  default_max_block_range: 2000
  retry:
    max_attempts: 3
    initial_backoff: 250ms
sources:
  - name: pool
    type: log_filter
    start_block: 100
    end_block: 199
    max_block_range: 50
    addresses:
      - "0x1111111111111111111111111111111111111111"
    topics:
      - ["0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"]
  - name: registry
    type: factory
    start_block: 100
    address: "0x2222222222222222222222222222222222222222"
    event_selector: "0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9"
    child_address_location: 0
store:
  path: "events.db"
logging:
  default_level: debug
  component_levels:
    scheduler: info
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(137), cfg.Network.ChainID)
	assert.Equal(t, uint64(2000), cfg.Network.DefaultMaxBlockRange)
	assert.Equal(t, 3, cfg.Network.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Network.Retry.InitialBackoff.Duration)
	// Unset retry fields still get defaults.
	assert.Equal(t, 30*time.Second, cfg.Network.Retry.MaxBackoff.Duration)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, SourceTypeLogFilter, cfg.Sources[0].Type)
	require.NotNil(t, cfg.Sources[0].EndBlock)
	assert.Equal(t, uint64(199), *cfg.Sources[0].EndBlock)
	assert.Equal(t, SourceTypeFactory, cfg.Sources[1].Type)
	assert.Nil(t, cfg.Sources[1].EndBlock)

	assert.Equal(t, "debug", cfg.Logging.GetDefaultLevel())
	assert.Equal(t, "info", cfg.Logging.GetComponentLevel("scheduler"))
	assert.Equal(t, "debug", cfg.Logging.GetComponentLevel("eventstore"))
}

func TestLoadFromFile_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
network:
  rpc_url: "http://localhost:8545"
sources: []
store:
  path: "events.db"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	_, err := LoadFromFile(path)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestLoadFromFileWithNetworkDefaults(t *testing.T) {
	dir := t.TempDir()

	configPath := filepath.Join(dir, "config.yaml")
	yaml := `
network:
  rpc_url: "http://localhost:8545"
  max_rpc_request_concurrency: 4
sources:
  - name: pool
    type: log_filter
    start_block: 100
    addresses:
      - "0x1111111111111111111111111111111111111111"
store:
  path: "events.db"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o600))

	defaultsPath := filepath.Join(dir, "mainnet.toml")
	toml := `
chain_id = 1
default_max_block_range = 5000
max_rpc_request_concurrency = 20
`
	require.NoError(t, os.WriteFile(defaultsPath, []byte(toml), 0o600))

	cfg, err := LoadFromFileWithNetworkDefaults(configPath, defaultsPath)
	require.NoError(t, err)

	// Overlay fills zero-valued fields only: the YAML's explicit concurrency
	// wins over the overlay's.
	assert.Equal(t, uint64(1), cfg.Network.ChainID)
	assert.Equal(t, uint64(5000), cfg.Network.DefaultMaxBlockRange)
	assert.Equal(t, 4, cfg.Network.MaxRPCRequestConcurrency)
}
