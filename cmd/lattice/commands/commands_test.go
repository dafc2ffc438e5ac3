package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moolen/lattice/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevelFlags(t *testing.T) {
	tests := []struct {
		name         string
		flags        []string
		env          map[string]string
		wantDefault  string
		wantPackages map[string]string
		wantErr      bool
	}{
		{
			name:         "no flags",
			wantDefault:  "info",
			wantPackages: map[string]string{},
		},
		{
			name:         "bare level sets default",
			flags:        []string{"debug"},
			wantDefault:  "debug",
			wantPackages: map[string]string{},
		},
		{
			name:         "package levels",
			flags:        []string{"default=warn", "network.peer=debug", "lifecycle.*=error"},
			wantDefault:  "warn",
			wantPackages: map[string]string{"network.peer": "debug", "lifecycle.*": "error"},
		},
		{
			name:         "env vars are overridden by flags",
			flags:        []string{"network=info"},
			env:          map[string]string{"LOG_LEVEL_NETWORK": "debug", "LOG_LEVEL_CHAIN": "warn"},
			wantDefault:  "info",
			wantPackages: map[string]string{"network": "info", "chain": "warn"},
		},
		{
			name:         "env default",
			env:          map[string]string{"LOG_LEVEL_DEFAULT": "error"},
			wantDefault:  "error",
			wantPackages: map[string]string{},
		},
		{
			name:    "invalid default",
			flags:   []string{"loud"},
			wantErr: true,
		},
		{
			name:    "invalid package level",
			flags:   []string{"rpc=verbose"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			def, pkgs, err := parseLogLevelFlags(tt.flags)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDefault, def)
			assert.Equal(t, tt.wantPackages, pkgs)
		})
	}
}

func TestConvertEnvKeyToPackageName(t *testing.T) {
	assert.Equal(t, "network.peer", convertEnvKeyToPackageName("LOG_LEVEL_NETWORK_PEER"))
	assert.Equal(t, "txpool", convertEnvKeyToPackageName("LOG_LEVEL_TXPOOL"))
}

func newRunCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	addRunFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadNodeConfigDefaults(t *testing.T) {
	cfg, err := loadNodeConfig(newRunCommand(t))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadNodeConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  name: alice
  role: full
network:
  listen: ["127.0.0.1:40000"]
`), 0o644))

	cmd := newRunCommand(t,
		"--config", path,
		"--role", "authority",
		"--db-path", filepath.Join(dir, "chain.db"),
		"--bootnodes", "127.0.0.1:40001,127.0.0.1:40002",
		"--grace-period", "3s",
		"--criticality", "rpc=critical",
		"--criticality", "network/announce=critical",
	)

	cfg, err := loadNodeConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Node.Name, "file value kept when flag unset")
	assert.Equal(t, config.RoleAuthority, cfg.Node.Role)
	assert.Equal(t, filepath.Join(dir, "chain.db"), cfg.Database.Path)
	assert.Equal(t, []string{"127.0.0.1:40000"}, cfg.Network.Listen)
	assert.Equal(t, []string{"127.0.0.1:40001", "127.0.0.1:40002"}, cfg.Network.Bootnodes)
	assert.Equal(t, 3*time.Second, cfg.Shutdown.GracePeriod.Duration())
	assert.Equal(t, map[string]string{"rpc": "critical", "network/announce": "critical"}, cfg.Criticality)
	assert.Equal(t, path, cfg.Path)
}

func TestLoadNodeConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "invalid role", args: []string{"--role", "validator"}},
		{name: "malformed criticality", args: []string{"--criticality", "rpc"}},
		{name: "invalid listen address", args: []string{"--listen", "nope"}},
		{name: "missing config file", args: []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadNodeConfig(newRunCommand(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	forceOverwrite = false

	var out bytes.Buffer
	configInitCmd.SetOut(&out)
	configValidateCmd.SetOut(&out)
	t.Cleanup(func() {
		configInitCmd.SetOut(nil)
		configValidateCmd.SetOut(nil)
	})

	require.NoError(t, configInitCmd.RunE(configInitCmd, []string{path}))
	assert.Contains(t, out.String(), "Wrote default configuration")

	err := configInitCmd.RunE(configInitCmd, []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	forceOverwrite = true
	t.Cleanup(func() { forceOverwrite = false })
	require.NoError(t, configInitCmd.RunE(configInitCmd, []string{path}))

	out.Reset()
	require.NoError(t, configValidateCmd.RunE(configValidateCmd, []string{path}))
	assert.Contains(t, out.String(), "is valid")
	assert.Contains(t, out.String(), "role full")
}

func TestConfigValidateRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node:\n  role: validator\n"), 0o644))

	err := configValidateCmd.RunE(configValidateCmd, []string{path})
	assert.Error(t, err)
}

func TestPrintGraph(t *testing.T) {
	tests := []struct {
		name     string
		role     config.Role
		expected []string
	}{
		{
			name: "full node",
			role: config.RoleFull,
			expected: []string{
				"1. tracing",
				"2. client",
				"3. network (depends on: client)",
				"4. txpool (depends on: client)",
				"5. rpc (depends on: client, txpool, network)",
				"6. telemetry (depends on: client, network, txpool)",
				"7. offchain (depends on: client, txpool)",
			},
		},
		{
			name: "authority node",
			role: config.RoleAuthority,
			expected: []string{
				"1. tracing",
				"2. client",
				"3. network (depends on: client)",
				"4. txpool (depends on: client)",
				"5. consensus (depends on: client, txpool)",
				"6. rpc (depends on: client, txpool, network)",
				"7. telemetry (depends on: client, network, txpool)",
				"8. offchain (depends on: client, txpool)",
			},
		},
		{
			name: "light node",
			role: config.RoleLight,
			expected: []string{
				"1. tracing",
				"2. client",
				"3. network (depends on: client)",
				"4. txpool (depends on: client)",
				"5. rpc (depends on: client, txpool, network)",
				"6. telemetry (depends on: client, network, txpool)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Node.Role = tt.role

			var out bytes.Buffer
			require.NoError(t, printGraph(&out, cfg))
			assert.Equal(t, tt.expected, strings.Split(strings.TrimSpace(out.String()), "\n"))
		})
	}
}
