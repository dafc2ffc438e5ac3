package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
)

// Role selects which components a node runs.
type Role string

const (
	// RoleAuthority nodes author blocks.
	RoleAuthority Role = "authority"
	// RoleFull nodes import and serve blocks but never author.
	RoleFull Role = "full"
	// RoleLight nodes keep a small block cache and no transaction pool workers.
	RoleLight Role = "light"
)

// Duration is a time.Duration that reads and writes as "6s", "10m" in YAML.
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the string representation of Duration
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// Config holds all configuration for a node
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Database  DatabaseConfig  `yaml:"database"`
	Network   NetworkConfig   `yaml:"network"`
	RPC       RPCConfig       `yaml:"rpc"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Consensus ConsensusConfig `yaml:"consensus"`
	TxPool    TxPoolConfig    `yaml:"txpool"`
	Offchain  OffchainConfig  `yaml:"offchain"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	Log       LogConfig       `yaml:"log"`

	// Criticality overrides the declared criticality of tasks. Keys are a
	// component name or "component/task"; values are critical or best-effort.
	Criticality map[string]string `yaml:"criticality,omitempty"`

	// Path is the file the configuration was loaded from, empty for defaults.
	Path string `yaml:"-"`
}

type NodeConfig struct {
	Name string `yaml:"name"`
	Role Role   `yaml:"role"`
}

type DatabaseConfig struct {
	// Path is the bbolt database file
	Path string `yaml:"path"`
	// CacheBlocks is the number of decoded blocks kept in memory
	CacheBlocks int `yaml:"cache_blocks"`
}

type NetworkConfig struct {
	Listen         []string `yaml:"listen"`
	Bootnodes      []string `yaml:"bootnodes"`
	MinPeerVersion string   `yaml:"min_peer_version"`
	MaxPeers       int      `yaml:"max_peers"`
}

type RPCConfig struct {
	Listen []string `yaml:"listen"`
}

type TelemetryConfig struct {
	// Endpoints are websocket URLs; none disables telemetry
	Endpoints []string `yaml:"endpoints"`
	Interval  Duration `yaml:"interval"`
}

type ConsensusConfig struct {
	BlockTime   Duration `yaml:"block_time"`
	MaxBlockTxs int      `yaml:"max_block_txs"`
}

type TxPoolConfig struct {
	Capacity int      `yaml:"capacity"`
	MaxAge   Duration `yaml:"max_age"`
}

type OffchainConfig struct {
	Enabled        bool `yaml:"enabled"`
	Concurrency    int  `yaml:"concurrency"`
	HeartbeatEvery int  `yaml:"heartbeat_every"`
}

// TracingConfig mirrors tracing.Config
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	TLSCAPath   string `yaml:"tls_ca_path"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

type ShutdownConfig struct {
	GracePeriod Duration `yaml:"grace_period"`
}

type LogConfig struct {
	Level    string            `yaml:"level"`
	Packages map[string]string `yaml:"packages,omitempty"`
}

// Default returns a configuration for a local full node.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Name: "lattice-node",
			Role: RoleFull,
		},
		Database: DatabaseConfig{
			Path:        "data/chain.db",
			CacheBlocks: 1024,
		},
		Network: NetworkConfig{
			Listen:         []string{"127.0.0.1:30333"},
			Bootnodes:      []string{},
			MinPeerVersion: "0.1.0",
			MaxPeers:       25,
		},
		RPC: RPCConfig{
			Listen: []string{"127.0.0.1:9933"},
		},
		Telemetry: TelemetryConfig{
			Endpoints: []string{},
			Interval:  Duration(5 * time.Second),
		},
		Consensus: ConsensusConfig{
			BlockTime:   Duration(6 * time.Second),
			MaxBlockTxs: 100,
		},
		TxPool: TxPoolConfig{
			Capacity: 4096,
			MaxAge:   Duration(10 * time.Minute),
		},
		Offchain: OffchainConfig{
			Enabled:        true,
			Concurrency:    4,
			HeartbeatEvery: 10,
		},
		Shutdown: ShutdownConfig{
			GracePeriod: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return NewConfigError("node.name must not be empty")
	}

	switch c.Node.Role {
	case RoleAuthority, RoleFull, RoleLight:
	default:
		return NewConfigError(fmt.Sprintf("node.role %q is invalid (must be authority, full or light)", c.Node.Role))
	}

	if c.Database.Path == "" {
		return NewConfigError("database.path must not be empty")
	}

	if c.Database.CacheBlocks < 1 {
		return NewConfigError("database.cache_blocks must be at least 1")
	}

	for _, addr := range c.Network.Listen {
		if err := validateHostPort("network.listen", addr); err != nil {
			return err
		}
	}

	for _, addr := range c.Network.Bootnodes {
		if err := validateHostPort("network.bootnodes", addr); err != nil {
			return err
		}
	}

	if _, err := goversion.NewVersion(c.Network.MinPeerVersion); err != nil {
		return NewConfigError(fmt.Sprintf("network.min_peer_version %q is not a valid version: %v", c.Network.MinPeerVersion, err))
	}

	if c.Network.MaxPeers < 1 {
		return NewConfigError("network.max_peers must be at least 1")
	}

	for _, addr := range c.RPC.Listen {
		if err := validateHostPort("rpc.listen", addr); err != nil {
			return err
		}
	}

	for _, endpoint := range c.Telemetry.Endpoints {
		if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
			return NewConfigError(fmt.Sprintf("telemetry endpoint %q must use ws:// or wss://", endpoint))
		}
	}

	if len(c.Telemetry.Endpoints) > 0 && c.Telemetry.Interval <= 0 {
		return NewConfigError("telemetry.interval must be positive when endpoints are set")
	}

	if c.Node.Role == RoleAuthority {
		if c.Consensus.BlockTime <= 0 {
			return NewConfigError("consensus.block_time must be positive for authority nodes")
		}
		if c.Consensus.MaxBlockTxs < 1 {
			return NewConfigError("consensus.max_block_txs must be at least 1")
		}
	}

	if c.TxPool.Capacity < 1 {
		return NewConfigError("txpool.capacity must be at least 1")
	}

	if c.TxPool.MaxAge <= 0 {
		return NewConfigError("txpool.max_age must be positive")
	}

	if c.Offchain.Enabled {
		if c.Offchain.Concurrency < 1 {
			return NewConfigError("offchain.concurrency must be at least 1")
		}
		if c.Offchain.HeartbeatEvery < 1 {
			return NewConfigError("offchain.heartbeat_every must be at least 1")
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	if c.Shutdown.GracePeriod <= 0 {
		return NewConfigError("shutdown.grace_period must be positive")
	}

	for key, value := range c.Criticality {
		switch strings.ToLower(value) {
		case "critical", "best-effort", "best_effort", "besteffort":
		default:
			return NewConfigError(fmt.Sprintf("criticality for %q must be critical or best-effort, got %q", key, value))
		}
	}

	return nil
}

func validateHostPort(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return NewConfigError(fmt.Sprintf("%s address %q is invalid: %v", field, addr, err))
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
