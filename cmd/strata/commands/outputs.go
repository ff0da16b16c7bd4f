package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/pkg/stacks"
	"github.com/strata-dev/strata/pkg/stores"
)

func newOutputsCommand() *cobra.Command {
	var (
		secret bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "outputs <run-id>",
		Short: "Show the capabilities produced by a run",
		Long: `Show the capability outputs recorded for a run.

With --secret the integration secret document built by the secrets unit is
printed instead.`,
		Example: `  # List the outputs of a run
  strata outputs 0b6f3c1e-... --state .strata/state.db

  # Print the frontend and backend configuration document
  strata outputs 0b6f3c1e-... --secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, settings.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.GetRun(ctx, runID); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if secret {
				reg, err := stores.LoadCapabilities(ctx, store, runID)
				if err != nil {
					return err
				}
				doc, err := stacks.MaterializeSecret(reg)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, string(doc))
				return nil
			}

			outputs, err := store.ListOutputs(ctx, runID)
			if err != nil {
				return err
			}
			if output != formatText {
				return writeStructured(w, output, outputs)
			}
			renderOutputs(w, outputs)
			return nil
		},
	}

	cmd.Flags().String("state", "", "run history database (overrides state_path)")
	cmd.Flags().BoolVar(&secret, "secret", false, "print the integration secret document")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "output format (text, json, yaml)")

	return cmd
}
