package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should be valid, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "empty node name",
			mutate:  func(c *Config) { c.Node.Name = "" },
			wantErr: "node.name",
		},
		{
			name:    "unknown role",
			mutate:  func(c *Config) { c.Node.Role = "validator" },
			wantErr: "node.role",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "zero cache",
			mutate:  func(c *Config) { c.Database.CacheBlocks = 0 },
			wantErr: "database.cache_blocks",
		},
		{
			name:    "listen address without port",
			mutate:  func(c *Config) { c.Network.Listen = []string{"127.0.0.1"} },
			wantErr: "network.listen",
		},
		{
			name:    "bad bootnode",
			mutate:  func(c *Config) { c.Network.Bootnodes = []string{"node-1"} },
			wantErr: "network.bootnodes",
		},
		{
			name:    "bad min peer version",
			mutate:  func(c *Config) { c.Network.MinPeerVersion = "latest" },
			wantErr: "network.min_peer_version",
		},
		{
			name:    "no peers allowed",
			mutate:  func(c *Config) { c.Network.MaxPeers = 0 },
			wantErr: "network.max_peers",
		},
		{
			name:    "bad rpc address",
			mutate:  func(c *Config) { c.RPC.Listen = []string{":x:y"} },
			wantErr: "rpc.listen",
		},
		{
			name:    "http telemetry endpoint",
			mutate:  func(c *Config) { c.Telemetry.Endpoints = []string{"http://telemetry.local/submit"} },
			wantErr: "ws://",
		},
		{
			name: "authority without block time",
			mutate: func(c *Config) {
				c.Node.Role = RoleAuthority
				c.Consensus.BlockTime = 0
			},
			wantErr: "consensus.block_time",
		},
		{
			name: "full node ignores block time",
			mutate: func(c *Config) {
				c.Consensus.BlockTime = 0
			},
		},
		{
			name:    "zero pool capacity",
			mutate:  func(c *Config) { c.TxPool.Capacity = 0 },
			wantErr: "txpool.capacity",
		},
		{
			name:    "offchain without concurrency",
			mutate:  func(c *Config) { c.Offchain.Concurrency = 0 },
			wantErr: "offchain.concurrency",
		},
		{
			name: "disabled offchain skips checks",
			mutate: func(c *Config) {
				c.Offchain.Enabled = false
				c.Offchain.Concurrency = 0
			},
		},
		{
			name:    "tracing without endpoint",
			mutate:  func(c *Config) { c.Tracing.Enabled = true },
			wantErr: "tracing.endpoint",
		},
		{
			name:    "zero grace period",
			mutate:  func(c *Config) { c.Shutdown.GracePeriod = 0 },
			wantErr: "shutdown.grace_period",
		},
		{
			name:    "bad criticality",
			mutate:  func(c *Config) { c.Criticality = map[string]string{"rpc": "sometimes"} },
			wantErr: "criticality",
		},
		{
			name:   "valid criticality",
			mutate: func(c *Config) { c.Criticality = map[string]string{"rpc": "critical", "network/dial": "best-effort"} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Errorf("expected *ConfigError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("expected 90s, got %s", d)
	}

	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	if string(text) != "1m30s" {
		t.Errorf("expected 1m30s, got %s", text)
	}

	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected error for invalid duration")
	}
}
