package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/oxSaturn/chainsync/internal/common"
	"github.com/oxSaturn/chainsync/internal/logger"
)

// Config is the complete configuration for the chainsync engine: one or more
// chains to follow, the filters (sources) to index across them, and the
// sync store / ambient stack settings shared by all chains.
type Config struct {
	// Networks lists every chain the coordinator follows.
	Networks []NetworkConfig `yaml:"networks" json:"networks" toml:"networks"`

	// Sources lists every filter (plus user metadata) to index.
	Sources []SourceConfig `yaml:"sources" json:"sources" toml:"sources"`

	// DB contains database configuration for the sync store.
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Retry contains RPC retry configuration with exponential backoff.
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// RetentionPolicy contains optional sync store retention policy settings.
	RetentionPolicy *RetentionPolicyConfig `yaml:"retention_policy,omitempty"`

	// Maintenance contains optional database maintenance settings.
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration.
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the optional read-only downstream HTTP surface configuration.
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`
}

// NetworkConfig describes one chain the coordinator follows.
type NetworkConfig struct {
	// Name is a unique identifier for this chain (used in log/metric labels).
	Name string `yaml:"name" json:"name" toml:"name"`

	// ChainID is the expected EVM chain id; a mismatch with the RPC's
	// reported chain id is a configuration-mismatch warning, not fatal.
	ChainID uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`

	// RPCURL is the chain's JSON-RPC endpoint.
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// FinalityDepth is the number of blocks behind head treated as irreversible.
	FinalityDepth uint64 `yaml:"finality_depth" json:"finality_depth" toml:"finality_depth"`

	// ChunkSize is the block range per eth_getLogs call.
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`
}

// ApplyDefaults sets default values for optional network configuration fields.
func (n *NetworkConfig) ApplyDefaults() {
	if n.ChunkSize == 0 {
		n.ChunkSize = 5000
	}
	if n.FinalityDepth == 0 {
		n.FinalityDepth = 64
	}
}

// SourceConfig pairs a filter declaration with the user-facing metadata the
// sync engine passes through untouched (name, network, ABI for log sources).
type SourceConfig struct {
	// Name identifies this source to the downstream indexing layer.
	Name string `yaml:"name" json:"name" toml:"name"`

	// NetworkName references a NetworkConfig.Name.
	NetworkName string `yaml:"network_name" json:"network_name" toml:"network_name"`

	// Kind is "log" or "block".
	Kind string `yaml:"kind" json:"kind" toml:"kind"`

	// FromBlock is the inclusive start block.
	FromBlock uint64 `yaml:"from_block" json:"from_block" toml:"from_block"`

	// ToBlock is the optional inclusive end block; nil means open-ended.
	ToBlock *uint64 `yaml:"to_block,omitempty" json:"to_block,omitempty" toml:"to_block,omitempty"`

	// Addresses constrains a log filter to one or more literal addresses.
	Addresses []string `yaml:"addresses,omitempty" json:"addresses,omitempty" toml:"addresses,omitempty"`

	// Topics constrains a log filter per topic position (0-3); each entry
	// may be empty (wildcard), a single topic, or a set of topics.
	Topics [4][]string `yaml:"topics,omitempty" json:"topics,omitempty" toml:"topics,omitempty"`

	// ChildAddress, if set, makes this a child-address (factory/pair) filter:
	// the address set is discovered at runtime from the logs matching
	// ChildAddress.EventSelector.
	ChildAddress *ChildAddressConfig `yaml:"child_address,omitempty" json:"child_address,omitempty" toml:"child_address,omitempty"`

	// Interval/Offset configure a block filter: blocks N where (N-Offset)%Interval==0.
	Interval uint64 `yaml:"interval,omitempty" json:"interval,omitempty" toml:"interval,omitempty"`
	Offset   uint64 `yaml:"offset,omitempty" json:"offset,omitempty" toml:"offset,omitempty"`

	// ABI is the JSON ABI used to decode matched log events, required for log sources.
	ABI string `yaml:"abi,omitempty" json:"abi,omitempty" toml:"abi,omitempty"`
}

// ChildAddressConfig describes where to find a child address inside the
// parent event's log.
type ChildAddressConfig struct {
	// EventSelector is the parent event's topic0.
	EventSelector string `yaml:"event_selector" json:"event_selector" toml:"event_selector"`

	// Topic, if > 0, reads the address from topics[Topic] (1, 2, or 3).
	Topic int `yaml:"topic,omitempty" json:"topic,omitempty" toml:"topic,omitempty"`

	// Offset, used when Topic == 0, reads the address from the 32-byte word
	// at this index within the log's data.
	Offset int `yaml:"offset,omitempty" json:"offset,omitempty" toml:"offset,omitempty"`
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	MaxAttempts       int             `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`
	InitialBackoff    common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff        common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`
	BackoffMultiplier float64         `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents database configuration for the sync store.
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

// ApplyDefaults sets default values for optional database configuration fields.
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

// RetentionPolicyConfig represents sync store retention policy settings.
type RetentionPolicyConfig struct {
	MaxDBSizeMB uint64 `yaml:"max_db_size_mb"`
	MaxBlocks   uint64 `yaml:"max_blocks"`
}

// IsEnabled returns true if retention policy should be applied.
func (r *RetentionPolicyConfig) IsEnabled() bool {
	return r != nil && (r.MaxDBSizeMB > 0 || r.MaxBlocks > 0)
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	Enabled           bool            `yaml:"enabled" json:"enabled" toml:"enabled"`
	CheckInterval     common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`
	VacuumOnStartup   bool            `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`
	WALCheckpointMode string          `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	DefaultLevel    string            `yaml:"default_level" json:"default_level" toml:"default_level"`
	Development     bool              `yaml:"development" json:"development" toml:"development"`
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}
	return nil
}

// GetComponentLevel returns the log level for a specific component.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// APIConfig configures the thin read-only downstream HTTP surface.
type APIConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	for i := range c.Networks {
		c.Networks[i].ApplyDefaults()
	}

	c.DB.ApplyDefaults()

	if c.Retry != nil {
		c.Retry.ApplyDefaults()
	}
	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.API != nil {
		c.API.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network must be configured")
	}

	networkNames := make(map[string]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.Name == "" {
			return fmt.Errorf("networks[%d]: name is required", i)
		}
		if n.RPCURL == "" {
			return fmt.Errorf("networks[%d] (%s): rpc_url is required", i, n.Name)
		}
		if networkNames[n.Name] {
			return fmt.Errorf("networks[%d]: duplicate network name '%s'", i, n.Name)
		}
		networkNames[n.Name] = true
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if !networkNames[s.NetworkName] {
			return fmt.Errorf("sources[%d] (%s): unknown network_name '%s'", i, s.Name, s.NetworkName)
		}
		switch s.Kind {
		case "log":
			if s.ABI == "" {
				return fmt.Errorf("sources[%d] (%s): abi is required for log sources", i, s.Name)
			}
		case "block":
			if s.Interval == 0 {
				return fmt.Errorf("sources[%d] (%s): interval must be > 0 for block sources", i, s.Name)
			}
			if s.Offset >= s.Interval {
				return fmt.Errorf("sources[%d] (%s): offset must be < interval", i, s.Name)
			}
		default:
			return fmt.Errorf("sources[%d] (%s): kind must be 'log' or 'block'", i, s.Name)
		}
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if c.DB.JournalMode != "" && c.DB.JournalMode != "WAL" &&
		c.DB.JournalMode != "DELETE" && c.DB.JournalMode != "TRUNCATE" &&
		c.DB.JournalMode != "PERSIST" && c.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.DB.Synchronous != "" && c.DB.Synchronous != "FULL" &&
		c.DB.Synchronous != "NORMAL" && c.DB.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
