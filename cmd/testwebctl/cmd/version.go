package cmd

import (
	"github.com/spf13/cobra"

	"github.com/testweb/testweb/internal/testwebctl"
)

// Print version info and exit.
func versionCmd(a *testwebctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version.",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Version()
		},
	}
	return cmd
}
