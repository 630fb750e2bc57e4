package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information, set at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root command for the modkernel binary.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modkernel",
		Short: "Modkernel - run and inspect module orchestration kernels",
		Long: `Modkernel loads a kernel configuration with its module manifest,
starts every module in dependency and priority order and supervises
their health until it receives a termination signal.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand prints build information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	}
}

// PrintVersion formats the build information.
func PrintVersion() string {
	return fmt.Sprintf("modkernel v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
