package commands

import (
	"github.com/spf13/cobra"
)

func newProfilesCommand() *cobra.Command {
	var (
		topologyPath string
		output       string
	)

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List profiles and their units",
		Example: `  # List the built-in profiles
  strata profiles

  # List the profiles of a topology as YAML
  strata profiles --topology ./topology --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			e, err := newEngine(cmd.Context(), settings, topologyPath)
			if err != nil {
				return err
			}

			if output != formatText {
				return writeStructured(cmd.OutOrStdout(), output, e.Profiles())
			}
			renderProfiles(cmd.OutOrStdout(), e.Profiles())
			return nil
		},
	}

	cmd.Flags().StringVar(&topologyPath, "topology", "", "topology file or directory (default is the built-in catalog)")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "output format (text, json, yaml)")

	return cmd
}
