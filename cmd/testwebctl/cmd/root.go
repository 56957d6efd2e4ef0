package cmd

import (
	"github.com/spf13/cobra"

	"github.com/testweb/testweb/internal/testwebctl"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testwebctl",
		Short: "testwebctl runs website tests against a Test-Web backend.",
		Long: `testwebctl runs website tests against a Test-Web backend and keeps a local history
of finished tests.

Settings are read from the built-in defaults, then from every file passed with --config,
then from TESTWEB_* environment variables, e.g. TESTWEB_BACKEND_BASEURL.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSlice("config", nil, "Config files merged over the defaults, in order.")
	cmd.PersistentFlags().String("url", "", "Base URL of the Test-Web API, overrides backend.baseUrl.")

	cmd.AddCommand(
		runCmd(testwebctl.New()),
		statusCmd(testwebctl.New()),
		historyCmd(testwebctl.New()),
		cleanupCmd(testwebctl.New()),
		serveCmd(testwebctl.New()),
		versionCmd(testwebctl.New()),
	)

	return cmd
}

func initParams(cmd *cobra.Command, app *testwebctl.App) error {
	configFiles, err := cmd.Flags().GetStringSlice("config")
	if err != nil {
		return err
	}
	baseUrl, err := cmd.Flags().GetString("url")
	if err != nil {
		return err
	}
	app.Params.ConfigFiles = configFiles
	app.Params.BaseUrl = baseUrl
	return nil
}

func outputFormat(cmd *cobra.Command) (testwebctl.OutputFormat, error) {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return "", err
	}
	return testwebctl.ParseOutputFormat(output)
}
