package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/testweb/testweb/internal/common"
	"github.com/testweb/testweb/internal/common/app"
	"github.com/testweb/testweb/internal/testwebctl"
)

func serveCmd(a *testwebctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the test API over HTTP until interrupted.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := cmd.Flags().GetUint16("port")
			if err != nil {
				return err
			}
			common.ConfigureLogging()
			ctx, stop := app.ContextWithShutdown(context.Background())
			defer stop()
			return a.Serve(ctx, port)
		},
	}
	cmd.Flags().Uint16("port", 0, "Port to listen on, overrides httpPort.")
	return cmd
}
