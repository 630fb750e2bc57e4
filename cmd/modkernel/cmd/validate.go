package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modkernel"
	"github.com/GoCodeAlone/modkernel/module"
)

// NewValidateCommand checks a configuration file and prints the module
// install order.
func NewValidateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a kernel configuration",
		Long:  `Load a YAML or TOML kernel configuration, apply MODKERNEL_* overrides and report every problem found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := modkernel.LoadConfig(configPath)
			if err != nil {
				return err
			}
			configs := make([]module.Config, 0, len(cfg.Modules))
			for _, spec := range cfg.Modules {
				configs = append(configs, spec.Config)
			}
			order, err := module.ResolveOrder(configs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration %s is valid\n", configPath)
			if len(order) == 0 {
				fmt.Fprintln(out, "No modules declared")
				return nil
			}
			fmt.Fprintf(out, "Install order: %s\n", strings.Join(order, " -> "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "modkernel.yaml", "Path to the kernel configuration file")
	return cmd
}
