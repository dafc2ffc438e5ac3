package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// createTempConfigFile creates a temporary YAML config file with the given content
func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()

	tmpFile := filepath.Join(t.TempDir(), "lattice.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0600); err != nil {
		t.Fatalf("failed to create temp config file: %v", err)
	}
	return tmpFile
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := createTempConfigFile(t, `node:
  name: alice
  role: authority
network:
  listen:
    - 0.0.0.0:30334
consensus:
  block_time: 2s
criticality:
  rpc: critical
log:
  level: debug
  packages:
    network.*: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Node.Name != "alice" || cfg.Node.Role != RoleAuthority {
		t.Errorf("node section not applied: %+v", cfg.Node)
	}
	if len(cfg.Network.Listen) != 1 || cfg.Network.Listen[0] != "0.0.0.0:30334" {
		t.Errorf("expected listen list to be replaced, got %v", cfg.Network.Listen)
	}
	if cfg.Consensus.BlockTime.Duration() != 2*time.Second {
		t.Errorf("expected block_time 2s, got %s", cfg.Consensus.BlockTime)
	}
	if cfg.Criticality["rpc"] != "critical" {
		t.Errorf("expected criticality override, got %v", cfg.Criticality)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Packages["network.*"] != "warn" {
		t.Errorf("log section not applied: %+v", cfg.Log)
	}
	if cfg.Path != path {
		t.Errorf("expected Path %q, got %q", path, cfg.Path)
	}

	// Untouched keys keep their defaults
	def := Default()
	if cfg.Database.Path != def.Database.Path {
		t.Errorf("expected default database path, got %q", cfg.Database.Path)
	}
	if cfg.TxPool.MaxAge != def.TxPool.MaxAge {
		t.Errorf("expected default max_age, got %s", cfg.TxPool.MaxAge)
	}
	if cfg.Shutdown.GracePeriod.Duration() != 30*time.Second {
		t.Errorf("expected default grace period, got %s", cfg.Shutdown.GracePeriod)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			content: "node: [unterminated",
			wantErr: "failed to load config",
		},
		{
			name:    "bad duration",
			content: "consensus:\n  block_time: often\n",
			wantErr: "failed to parse config",
		},
		{
			name:    "validation failure",
			content: "node:\n  role: observer\n",
			wantErr: "node.role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(createTempConfigFile(t, tt.content))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
