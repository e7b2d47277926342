package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/kaizen/internal/pdca"
)

// NewCycleCommand creates the cycle command
func NewCycleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a Plan-Do-Check-Act improvement cycle",
		Long: `Start an improvement cycle for a set of objectives. Metrics are derived
from the objectives; with --run the cycle plans its work, executes each plan
step through the orchestrator, checks the metrics against their targets and
proposes corrective, preventive, improvement and standardization actions.

A cycle that scores below 80 or has a critical deviation spawns a follow-up
cycle. Up to --follow-ups of them (default: pdca.max_follow_ups) are run.

Examples:
  kaizen cycle --title "Harden CI" --objective "improve test coverage"
  kaizen cycle --title "Speed up API" --objective "reduce latency" --run --follow-ups 2`,
		Args: cobra.NoArgs,
		RunE: runCycle,
	}

	cmd.Flags().String("title", "", "Cycle title (required)")
	cmd.Flags().StringArray("objective", nil, "Cycle objective (repeatable)")
	cmd.Flags().Bool("run", false, "Execute the cycle instead of only creating it")
	cmd.Flags().Int("follow-ups", -1, "Follow-up cycles to run (-1 = use config)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func runCycle(cmd *cobra.Command, _ []string) (err error) {
	title, _ := cmd.Flags().GetString("title")
	objectives, _ := cmd.Flags().GetStringArray("objective")
	execute, _ := cmd.Flags().GetBool("run")

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	followUps := a.cfg.PDCA.MaxFollowUps
	if cmd.Flags().Changed("follow-ups") {
		followUps, _ = cmd.Flags().GetInt("follow-ups")
	}

	ctx := commandContext(cmd)
	if execute {
		a.warmStart(ctx)
	}

	controller := a.newController()
	id, err := controller.StartCycle(ctx, title, objectives, execute)
	if err != nil {
		return fmt.Errorf("cycle %q: %w", title, err)
	}

	out := cmd.OutOrStdout()
	cycle, _ := controller.GetCycle(id)
	if !execute {
		printCycleMetrics(out, cycle)
		return nil
	}
	printCycleSummary(out, cycle)

	for i := 0; i < followUps && cycle.NextCycleID != ""; i++ {
		next := cycle.NextCycleID
		if err := controller.RunCycle(ctx, next); err != nil {
			return fmt.Errorf("follow-up cycle: %w", err)
		}
		cycle, _ = controller.GetCycle(next)
		printCycleSummary(out, cycle)
	}
	return nil
}

func printCycleMetrics(w io.Writer, c *pdca.Cycle) {
	fmt.Fprintf(w, "Cycle %s %q created with metrics:\n", shortID(c.ID), c.Title)
	for _, m := range pdca.DeriveMetrics(c.Objectives) {
		critical := ""
		if m.Critical {
			critical = ", critical"
		}
		fmt.Fprintf(w, "  - %s: target %.0f %s%s\n", m.Name, m.Target, m.Unit, critical)
	}
}

func printCycleSummary(w io.Writer, c *pdca.Cycle) {
	fmt.Fprintf(w, "\nCycle %s %q: %s\n", shortID(c.ID), c.Title, c.Status)
	if c.Execution != nil {
		fmt.Fprintf(w, "  Steps: %d run\n", len(c.Execution.Steps))
	}
	if c.Check != nil {
		fmt.Fprintf(w, "  Score: %.1f (efficiency %.1f, effectiveness %.1f, quality %.1f)\n",
			c.Check.OverallScore, c.Check.Efficiency, c.Check.Effectiveness, c.Check.Quality)
		fmt.Fprintf(w, "  Deviations: %d\n", len(c.Check.Deviations))
	}
	for _, action := range c.Actions {
		fmt.Fprintf(w, "  - [%s] %s\n", action.Kind, strings.TrimSpace(action.Description))
	}
	if c.NextCycleID != "" {
		fmt.Fprintf(w, "  Follow-up: %s\n", shortID(c.NextCycleID))
	}
}
