package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/moolen/lattice/internal/config"
	"github.com/spf13/cobra"
)

var forceOverwrite bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and check node config files",
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a config file with default settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err == nil && !forceOverwrite {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}

		if err := config.Write(path, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Check that a config file loads and is valid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s is valid (node %s, role %s)\n", args[0], cfg.Node.Name, cfg.Node.Role)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceOverwrite, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}
