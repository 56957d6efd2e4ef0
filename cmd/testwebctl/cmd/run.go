package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/testweb/testweb/internal/common/app"
	"github.com/testweb/testweb/internal/testweb/domain"
	"github.com/testweb/testweb/internal/testwebctl"
)

// Start tests and follow them until they finish. Ctrl-C cancels the running tests, a
// second Ctrl-C exits at once.
func runCmd(a *testwebctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <type>...",
		Short: "Run website tests and watch their progress.",
		Long: `Starts one test per given type and prints a summary line for every event.
Exits with an error if any test did not complete.

Valid types: stress, performance, security, seo, api, database, network, ux, website, compatibility.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			types := make([]domain.TestType, 0, len(args))
			for _, arg := range args {
				testType, err := domain.ParseTestType(arg)
				if err != nil {
					return err
				}
				types = append(types, testType)
			}

			configFile, err := cmd.Flags().GetString("config-file")
			if err != nil {
				return err
			}
			settings, err := cmd.Flags().GetStringArray("set")
			if err != nil {
				return err
			}
			raw, err := cmd.Flags().GetBool("raw")
			if err != nil {
				return err
			}

			testConfig, err := testwebctl.BuildTestConfig(configFile, settings)
			if err != nil {
				return err
			}
			ctx, stop := app.ContextWithShutdown(context.Background())
			defer stop()
			return a.Run(ctx, testwebctl.RunConfig{
				Types:      types,
				TestConfig: testConfig,
				Raw:        raw,
			})
		},
	}
	cmd.Flags().String("config-file", "", "JSON file holding the test configuration.")
	cmd.Flags().StringArray("set", nil, "Test configuration value as key=value; may be repeated.")
	cmd.Flags().Bool("raw", false, "Output raw events as JSON.")
	return cmd
}
