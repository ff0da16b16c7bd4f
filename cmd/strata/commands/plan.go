package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var (
		topologyPath string
		output       string
		dot          bool
	)

	cmd := &cobra.Command{
		Use:   "plan <profile>",
		Short: "Resolve and print the build plan of a profile",
		Long: `Resolve the build order of a profile without building anything.

The plan lists every unit with its dependency level, the units it depends on
and the capabilities it produces. Resolution fails when a capability has two
producers, when a requirement has no producer in the profile, or when the
units form a cycle.`,
		Example: `  # Print the dev plan
  strata plan dev

  # Render the plan as a graphviz graph
  strata plan ste --dot | dot -Tsvg > plan.svg

  # Plan a topology profile as JSON
  strata plan web --topology ./topology --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			e, err := newEngine(cmd.Context(), settings, topologyPath)
			if err != nil {
				return err
			}

			plan, err := e.Plan(args[0])
			if err != nil {
				return err
			}
			log.Debug().
				Str("profile", plan.Profile).
				Strs("order", plan.Order()).
				Msg("Plan resolved")

			w := cmd.OutOrStdout()
			switch {
			case dot:
				fmt.Fprint(w, plan.ToDOT())
				return nil
			case output != formatText:
				return writeStructured(w, output, plan)
			default:
				renderPlan(w, plan)
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&topologyPath, "topology", "", "topology file or directory (default is the built-in catalog)")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "output format (text, json, yaml)")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the plan as a DOT graph")

	return cmd
}
