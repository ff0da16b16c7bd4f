package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/pkg/config"
	"github.com/strata-dev/strata/pkg/engine"
	"github.com/strata-dev/strata/pkg/policy"
)

// errValidationFailed is returned when a profile does not resolve or is denied.
var errValidationFailed = errors.New("validation failed")

func newValidateCommand() *cobra.Command {
	var (
		topologyPath string
		policyDir    string
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate every profile and evaluate policies",
		Long: `Resolve every profile and evaluate the resulting plans against the
built-in policies and any policies under --policy.

With --watch the command keeps running and validates again whenever the
topology or a policy file changes.`,
		Example: `  # Validate the built-in catalog
  strata validate

  # Validate a topology with extra policies
  strata validate --topology ./topology --policy ./policies

  # Re-validate on every change
  strata validate --topology ./topology --policy ./policies --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			pe, err := newPolicyEngine(ctx, settings, policyDir)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			validate := func() error {
				e, err := newEngine(ctx, settings, topologyPath)
				if err != nil {
					fmt.Fprintln(w, errorStyle.Render(err.Error()))
					return errValidationFailed
				}
				return validateProfiles(ctx, w, e, pe)
			}

			result := validate()
			if !watch {
				return result
			}
			return watchAndValidate(ctx, w, settings, topologyPath, policyDir, pe, validate)
		},
	}

	cmd.Flags().StringVar(&topologyPath, "topology", "", "topology file or directory (default is the built-in catalog)")
	cmd.Flags().StringVar(&policyDir, "policy", "", "directory of additional policies")
	cmd.Flags().BoolVar(&watch, "watch", false, "validate again when the topology or policies change")

	return cmd
}

// validateProfiles resolves every profile and evaluates its plan.
func validateProfiles(ctx context.Context, w io.Writer, e *engine.Engine, pe *policy.Engine) error {
	failed := false
	for _, p := range e.Profiles() {
		plan, err := e.Plan(p.Name)
		if err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", errorStyle.Render("✗"), p.Name, err)
			failed = true
			continue
		}

		result, err := pe.EvaluatePlan(ctx, plan)
		if err != nil {
			return fmt.Errorf("failed to evaluate %s: %w", p.Name, err)
		}
		renderViolations(w, p.Name, result)
		if !result.Allowed {
			failed = true
		}
	}

	if failed {
		return errValidationFailed
	}
	return nil
}

// watchAndValidate blocks until ctx is done, validating again on changes.
func watchAndValidate(ctx context.Context, w io.Writer, settings *config.Settings, topologyPath, policyDir string, pe *policy.Engine, validate func() error) error {
	rerun := func(reason string) {
		fmt.Fprintln(w, mutedStyle.Render("--- "+reason))
		if err := validate(); err != nil && !errors.Is(err, errValidationFailed) {
			log.Error().Err(err).Msg("Validation error")
		}
	}

	watching := false
	if topologyPath != "" {
		err := config.WatchTopology(ctx, config.NewTopologyLoader(settings), topologyPath,
			config.WatchOptions{Logger: log.Logger},
			func(_ *config.Topology, err error) {
				if err != nil {
					fmt.Fprintln(w, errorStyle.Render(err.Error()))
					return
				}
				rerun("topology changed")
			})
		if err != nil {
			return err
		}
		watching = true
	}
	if policyDir != "" {
		err := pe.Watch(ctx, []string{policyDir}, func(err error) {
			if err != nil {
				fmt.Fprintln(w, errorStyle.Render(err.Error()))
				return
			}
			rerun("policies reloaded")
		})
		if err != nil {
			return err
		}
		watching = true
	}
	if !watching {
		return fmt.Errorf("--watch needs --topology or --policy")
	}

	log.Info().Msg("Watching for changes, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}
