package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/moolen/lattice/internal/config"
	"github.com/moolen/lattice/internal/node"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the component start order of a node",
	Long: `Print the components a node with the given configuration would start,
in start order, with their dependencies. Nothing is started.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if cmd.Flags().Changed("role") {
			cfg.Node.Role = config.Role(nodeRole)
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		return printGraph(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	graphCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the node config file (YAML)")
	graphCmd.Flags().StringVar(&nodeRole, "role", "", "Node role: authority, full or light")
}

// printGraph writes the resolved start order of the node described by cfg.
func printGraph(out io.Writer, cfg *config.Config) error {
	g, err := node.NewGraph(cfg, node.Options{})
	if err != nil {
		return err
	}
	order, err := g.Resolve()
	if err != nil {
		return err
	}

	for i, name := range order {
		d, _ := g.Descriptor(name)
		if len(d.DependsOn) == 0 {
			fmt.Fprintf(out, "%d. %s\n", i+1, name)
			continue
		}
		fmt.Fprintf(out, "%d. %s (depends on: %s)\n", i+1, name, strings.Join(d.DependsOn, ", "))
	}
	return nil
}
