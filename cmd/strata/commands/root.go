package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	project    string
	stage      string
	region     string
	domain     string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version)
	return fang.Execute(
		ctx,
		rootCmd,
		fang.WithVersion(fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate)),
		fang.WithNotifySignal(os.Interrupt),
	)
}

func newRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Strata - capability-based unit build engine",
		Long: `Strata builds infrastructure units in dependency order.

Each unit declares the capabilities it requires and produces. A profile selects
a subset of units; strata resolves the build order from the capability graph,
checks the plan against policies, and runs the units one by one.

Without --topology the built-in photo-app catalog is used.`,
		SilenceUsage: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file (default is ./strata.cue)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "project name")
	rootCmd.PersistentFlags().StringVar(&stage, "stage", "", "deployment stage")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "cloud region")
	rootCmd.PersistentFlags().StringVar(&domain, "domain", "", "root domain")

	// Add subcommands
	rootCmd.AddCommand(newProfilesCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newApplyCommand(version))
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newOutputsCommand())

	return rootCmd
}
