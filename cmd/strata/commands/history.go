package commands

import (
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		profile string
		limit   int
		output  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		Example: `  # Show the last 20 runs
  strata history --state .strata/state.db

  # Show the last 5 ste runs as JSON
  strata history --profile ste --limit 5 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, settings.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()

			var filter *string
			if profile != "" {
				filter = &profile
			}
			runs, err := store.ListRuns(ctx, filter, limit, 0)
			if err != nil {
				return err
			}

			if output != formatText {
				return writeStructured(cmd.OutOrStdout(), output, runs)
			}
			renderHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().String("state", "", "run history database (overrides state_path)")
	cmd.Flags().StringVar(&profile, "profile", "", "only list runs of this profile")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "output format (text, json, yaml)")

	return cmd
}
