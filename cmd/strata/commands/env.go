package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/strata-dev/strata/pkg/config"
	"github.com/strata-dev/strata/pkg/engine"
	"github.com/strata-dev/strata/pkg/policy"
	"github.com/strata-dev/strata/pkg/stacks"
	"github.com/strata-dev/strata/pkg/stores"
)

// loadSettings resolves settings for a command and applies the log level.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, source, err := config.LoadSettings(cmd.Context(), config.LoadOptions{
		ConfigFile: configPath,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}

	if level, err := zerolog.ParseLevel(settings.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	log.Debug().
		Str("source", source).
		Str("prefix", settings.ResourcePrefix()).
		Str("region", settings.Region).
		Msg("Settings loaded")

	return settings, nil
}

// newEngine creates an engine holding either the topology at topologyPath or
// the built-in catalog.
func newEngine(ctx context.Context, settings *config.Settings, topologyPath string, opts ...engine.Option) (*engine.Engine, error) {
	opts = append([]engine.Option{
		engine.WithLogger(log.Logger.With().Str("component", "engine").Logger()),
	}, opts...)
	e := engine.New(opts...)

	if err := registerUnits(ctx, e, settings, topologyPath); err != nil {
		return nil, err
	}
	return e, nil
}

// registerUnits binds a topology, or the built-in catalog when no topology is given.
func registerUnits(ctx context.Context, e *engine.Engine, settings *config.Settings, topologyPath string) error {
	catalog := stacks.NewCatalog(settings,
		stacks.WithLogger(log.Logger.With().Str("component", "catalog").Logger()))

	if topologyPath == "" {
		return catalog.Register(e)
	}

	topology, err := config.NewTopologyLoader(settings).Load(ctx, topologyPath)
	if err != nil {
		return err
	}

	binder := config.NewBinder(settings,
		config.WithStackResolver(catalog.Lookup),
		config.WithEvaluator(config.NewStarlarkEvaluator(config.DefaultScriptTimeout)),
		config.WithBinderLogger(log.Logger.With().Str("component", "binder").Logger()),
	)
	if err := binder.Bind(e, topology); err != nil {
		return fmt.Errorf("failed to bind topology %s: %w", topologyPath, err)
	}
	return nil
}

// newPolicyEngine creates a policy engine for the settings' environment and
// loads the policies under policyDir, if any.
func newPolicyEngine(ctx context.Context, settings *config.Settings, policyDir string) (*policy.Engine, error) {
	pe, err := policy.NewEngine(
		log.Logger.With().Str("component", "policy").Logger(),
		policy.WithEnvironment(policy.Environment{
			Project: settings.Project,
			Stage:   settings.Stage,
			Region:  settings.Region,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	if policyDir != "" {
		if err := pe.LoadPolicies(ctx, []string{policyDir}); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	return pe, nil
}

// openStore opens and migrates the run history database.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("no state path configured: set --state, state_path or STRATA_STATE_PATH")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
