package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/testweb/testweb/internal/testwebctl"
)

func statusCmd(a *testwebctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <testId>",
		Short: "Show a finished test.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			return a.Status(context.Background(), args[0], format)
		},
	}
	cmd.Flags().StringP("output", "o", string(testwebctl.TableOutput), "Output format: table, json or yaml.")
	return cmd
}

func historyCmd(a *testwebctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished tests, newest first.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			return a.History(context.Background(), limit, format)
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of tests to list; 0 lists all.")
	cmd.Flags().StringP("output", "o", string(testwebctl.TableOutput), "Output format: table, json or yaml.")
	return cmd
}

func cleanupCmd(a *testwebctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove all finished tests from the history.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Cleanup(context.Background())
		},
	}
	return cmd
}
