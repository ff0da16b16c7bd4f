package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/pkg/config"
	"github.com/strata-dev/strata/pkg/engine"
	"github.com/strata-dev/strata/pkg/stores"
	"github.com/strata-dev/strata/pkg/telemetry"
)

// shutdownTimeout bounds telemetry flushing after a run.
const shutdownTimeout = 10 * time.Second

func newApplyCommand(version string) *cobra.Command {
	var (
		topologyPath string
		policyDir    string
	)

	cmd := &cobra.Command{
		Use:   "apply <profile>",
		Short: "Build every unit of a profile",
		Long: `Resolve a profile, check the plan against policies, and build its units
in order. The run stops at the first unit that fails; capabilities built
before the failure are kept.

When a state path is set, the run, each unit result, the produced
capabilities and lifecycle events are recorded for 'strata history' and
'strata outputs'.`,
		Example: `  # Build the dev profile
  strata apply dev

  # Record history and serve metrics while building
  strata apply ste --state .strata/state.db --metrics-addr :9090

  # Export traces to an OTLP collector
  strata apply ste --trace otlp`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			profile := args[0]

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			pe, err := newPolicyEngine(ctx, settings, policyDir)
			if err != nil {
				return err
			}

			var (
				store    *stores.SQLiteStore
				recorder *stores.Recorder
			)
			if settings.StatePath != "" {
				store, err = openStore(ctx, settings.StatePath)
				if err != nil {
					return err
				}
				defer store.Close()
				recorder = stores.NewRecorder(store, log.Logger)
			}

			tel, err := telemetry.NewTelemetry(telemetryConfig(settings, version))
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown incomplete")
				}
			}()
			if err := tel.StartMetricsServer(); err != nil {
				return err
			}

			tel.Events.Subscribe(func(ev telemetry.Event) {
				log.Warn().Str("event", ev.Type).Str("unit", ev.Unit).Msg(ev.Message)
			}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

			observers := []engine.Observer{tel.Observer()}
			if recorder != nil {
				observers = append(observers, recorder)
				tel.Events.Subscribe(recorder.HandleEvent, nil)
			}

			e, err := newEngine(tel.WithContext(ctx), settings, topologyPath,
				engine.WithObservers(observers...),
				engine.WithPlanGate(pe),
			)
			if err != nil {
				return err
			}

			run, runErr := e.Run(tel.WithContext(ctx), profile)
			if run != nil {
				renderRun(cmd.OutOrStdout(), run)
			}
			if store != nil {
				audit(ctx, store, profile, run, runErr)
			}
			if engine.IsRetryable(runErr) {
				log.Warn().Msg("The failure is retryable, applying the profile again may succeed")
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&topologyPath, "topology", "", "topology file or directory (default is the built-in catalog)")
	cmd.Flags().StringVar(&policyDir, "policy", "", "directory of additional policies")
	cmd.Flags().String("state", "", "run history database (overrides state_path)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().String("trace", "", "trace exporter (stdout, otlp, none)")

	return cmd
}

// telemetryConfig derives the telemetry configuration from settings.
func telemetryConfig(settings *config.Settings, version string) *telemetry.Config {
	cfg := telemetry.ForStage(settings.Stage)
	cfg.ServiceName = settings.Telemetry.ServiceName
	cfg.ServiceVersion = version
	cfg.Logging.Level = settings.LogLevel
	cfg.SetTraceExporter(settings.Telemetry.Exporter)
	cfg.Tracing.Endpoint = settings.Telemetry.Endpoint
	cfg.Metrics.ListenAddress = settings.Telemetry.MetricsAddress
	cfg.Attributes["project"] = settings.Project
	cfg.Attributes["region"] = settings.Region
	return cfg
}

// audit records who applied which profile and how it ended.
func audit(ctx context.Context, store stores.Store, profile string, run *engine.Run, runErr error) {
	details := map[string]any{"profile": profile, "status": "rejected"}
	var target *string
	if run != nil {
		details["status"] = string(run.Status)
		details["run_id"] = run.ID
		target = &run.ID
	}
	if runErr != nil {
		details["error"] = runErr.Error()
	}
	data, _ := json.Marshal(details)
	encoded := string(data)

	entry := &stores.AuditEntry{
		Action:    "profile.applied",
		Actor:     actor(),
		TargetID:  target,
		Details:   &encoded,
		Timestamp: time.Now().UTC(),
	}
	if err := store.CreateAuditEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("Failed to record audit entry")
	}
}

func actor() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
