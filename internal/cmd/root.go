package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for kaizen
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kaizen",
		Short: "Autonomous task orchestration with recovery and learning",
		Long: `Kaizen queues work items, picks an executor for each one, recovers from
failures with ranked strategies and learns which executors succeed over time.

Task files (Markdown or YAML) are run with "kaizen run". Improvement cycles
plan, execute, check and act on a set of objectives with "kaizen cycle".

State (config.yaml, the memory store and logs) lives in .kaizen under the
nearest project directory, or in $KAIZEN_HOME.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default: <kaizen home>/config.yaml)")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flags.String("log-dir", "", "Directory for events.jsonl")
	flags.String("memory-backend", "", "Memory backend: sqlite, file, semantic")
	flags.Int("history-limit", 0, "Execution records kept for executor selection")

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewPlanCommand())
	cmd.AddCommand(NewCycleCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
