// Package config defines the configuration shape for one historical sync
// service instance: a single network, its event sources, and the ambient
// store/logging/metrics settings it ships with.
package config

import (
	"fmt"
	"time"

	"github.com/blockcrawl/histsync/internal/common"
	"github.com/blockcrawl/histsync/internal/logger"
)

// Config is the complete configuration for one (network, event-source-set)
// historical sync service.
type Config struct {
	Network NetworkConfig  `yaml:"network" json:"network" toml:"network"`
	Sources []SourceConfig `yaml:"sources" json:"sources" toml:"sources"`
	Store   DatabaseConfig `yaml:"store" json:"store" toml:"store"`
	Logging LoggingConfig  `yaml:"logging" json:"logging" toml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics" json:"metrics" toml:"metrics"`
}

// NetworkConfig holds the per-network settings: chain id, RPC endpoint,
// default max block range, and RPC request concurrency.
type NetworkConfig struct {
	ChainID                  uint64      `yaml:"chain_id" json:"chain_id" toml:"chain_id"`
	RPCURL                   string      `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`
	DefaultMaxBlockRange     uint64      `yaml:"default_max_block_range" json:"default_max_block_range" toml:"default_max_block_range"`
	MaxRPCRequestConcurrency int         `yaml:"max_rpc_request_concurrency" json:"max_rpc_request_concurrency" toml:"max_rpc_request_concurrency"`
	Retry                    RetryConfig `yaml:"retry" json:"retry" toml:"retry"`
}

// ApplyDefaults fills in optional network configuration fields.
func (n *NetworkConfig) ApplyDefaults() {
	if n.DefaultMaxBlockRange == 0 {
		n.DefaultMaxBlockRange = 10_000
	}
	if n.MaxRPCRequestConcurrency == 0 {
		n.MaxRPCRequestConcurrency = 10
	}
	n.Retry.ApplyDefaults()
}

// Validate checks the network configuration.
func (n *NetworkConfig) Validate() error {
	if n.RPCURL == "" {
		return fmt.Errorf("network.rpc_url is required")
	}
	if n.ChainID == 0 {
		return fmt.Errorf("network.chain_id is required")
	}
	return nil
}

// RetryConfig configures exponential backoff for transient RPC errors, one
// layer below the work queue's own unbounded retry.
type RetryConfig struct {
	MaxAttempts       int             `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`
	InitialBackoff    common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff        common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`
	BackoffMultiplier float64         `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults fills in optional retry configuration fields.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(500 * time.Millisecond)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// SourceConfig is one user-declared event source: either a plain log filter
// or a factory.
type SourceConfig struct {
	Name          string   `yaml:"name" json:"name" toml:"name"`
	Type          string   `yaml:"type" json:"type" toml:"type"` // "log_filter" | "factory"
	StartBlock    uint64   `yaml:"start_block" json:"start_block" toml:"start_block"`
	EndBlock      *uint64  `yaml:"end_block,omitempty" json:"end_block,omitempty" toml:"end_block,omitempty"`
	MaxBlockRange uint64   `yaml:"max_block_range,omitempty" json:"max_block_range,omitempty" toml:"max_block_range,omitempty"`

	// Log-filter criteria: any subset of addresses/topics may be set.
	Addresses []string   `yaml:"addresses,omitempty" json:"addresses,omitempty" toml:"addresses,omitempty"`
	Topics    [][]string `yaml:"topics,omitempty" json:"topics,omitempty" toml:"topics,omitempty"`

	// Factory-only criteria.
	Address              string `yaml:"address,omitempty" json:"address,omitempty" toml:"address,omitempty"`
	EventSelector        string `yaml:"event_selector,omitempty" json:"event_selector,omitempty" toml:"event_selector,omitempty"`
	ChildAddressLocation int    `yaml:"child_address_location,omitempty" json:"child_address_location,omitempty" toml:"child_address_location,omitempty"`
}

const (
	SourceTypeLogFilter = "log_filter"
	SourceTypeFactory   = "factory"
)

// Validate checks one source's configuration. A start block past the end
// block is rejected outright rather than treated as an empty range.
func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source: name is required")
	}
	if s.EndBlock != nil && *s.EndBlock < s.StartBlock {
		return fmt.Errorf("source %s: end_block (%d) is before start_block (%d)", s.Name, *s.EndBlock, s.StartBlock)
	}

	switch s.Type {
	case SourceTypeLogFilter:
		if len(s.Addresses) == 0 && len(s.Topics) == 0 {
			return fmt.Errorf("source %s: log_filter requires at least one of addresses or topics", s.Name)
		}
	case SourceTypeFactory:
		if s.Address == "" {
			return fmt.Errorf("source %s: factory requires address", s.Name)
		}
		if s.EventSelector == "" {
			return fmt.Errorf("source %s: factory requires event_selector", s.Name)
		}
	default:
		return fmt.Errorf("source %s: type must be one of: %s, %s", s.Name, SourceTypeLogFilter, SourceTypeFactory)
	}

	return nil
}

// DatabaseConfig configures the SQLite event store.
type DatabaseConfig struct {
	Path               string `yaml:"path" json:"path" toml:"path"`
	JournalMode        string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`
	Synchronous        string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`
	BusyTimeout        int    `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`
	CacheSize          int    `yaml:"cache_size" json:"cache_size" toml:"cache_size"`
	MaxOpenConnections int    `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
	EnableForeignKeys  bool   `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults fills in optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks the database configuration.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	validJournal := map[string]bool{"WAL": true, "DELETE": true, "TRUNCATE": true, "PERSIST": true, "MEMORY": true}
	if d.JournalMode != "" && !validJournal[d.JournalMode] {
		return fmt.Errorf("store.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	validSync := map[string]bool{"FULL": true, "NORMAL": true, "OFF": true}
	if d.Synchronous != "" && !validSync[d.Synchronous] {
		return fmt.Errorf("store.synchronous must be one of: FULL, NORMAL, OFF")
	}
	return nil
}

// LoggingConfig configures logging with per-component overrides. It
// satisfies internal/logger.LoggingConfig.
type LoggingConfig struct {
	DefaultLevel    string            `yaml:"default_level" json:"default_level" toml:"default_level"`
	Development     bool              `yaml:"development" json:"development" toml:"development"`
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"`
}

// ApplyDefaults fills in optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks the logging configuration.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, ok := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !ok {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}
	for component, level := range l.ComponentLevels {
		if _, ok := common.AllComponents[common.ToLowerWithTrim(component)]; !ok {
			return fmt.Errorf("logging.component_levels: unknown component %q", component)
		}
		if _, ok := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !ok {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}
	return nil
}

// GetComponentLevel returns the log level for a specific component, falling
// back to DefaultLevel.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment reports whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults fills in optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks the metrics configuration.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("metrics.listen_address is required when metrics are enabled")
		}
		if m.Path == "" || m.Path[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults fills in optional fields across the whole configuration.
func (c *Config) ApplyDefaults() {
	c.Network.ApplyDefaults()
	c.Store.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Metrics.ApplyDefaults()
}

// Validate checks the whole configuration, including the uniqueness
// invariant on source names.
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("source[%d]: duplicate source name %q", i, s.Name)
		}
		seen[s.Name] = true
	}

	return nil
}

// EffectiveMaxBlockRange returns the source's own max block range, or the
// network default when unset.
func (s *SourceConfig) EffectiveMaxBlockRange(network NetworkConfig) uint64 {
	if s.MaxBlockRange > 0 {
		return s.MaxBlockRange
	}
	return network.DefaultMaxBlockRange
}
