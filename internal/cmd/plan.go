package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/planner"
	"github.com/harrison/kaizen/internal/strategy"
)

// NewPlanCommand creates the plan command
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <description>",
		Short: "Decompose a description into a validated execution plan",
		Long: `Analyze a free-text task description and build candidate plans with the
planning strategies. The best plan is printed with its steps in execution
order, followed by the alternates, the rollback contingency and the risk
assessment. Nothing is executed.

Examples:
  kaizen plan "Set up the database, then build the API and write tests"
  kaizen plan --risk-tolerance 0.2 --time-budget 2h "Migrate the billing service"
  kaizen plan --json "Refactor the parser"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPlan,
	}

	cmd.Flags().Float64("risk-tolerance", -1, "Risk tolerance between 0 and 1 (-1 = use config)")
	cmd.Flags().Duration("time-budget", 0, "Time budget for the plan (0 = use config)")
	cmd.Flags().Bool("json", false, "Print the full planning result as JSON")

	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pc := planner.PlanContext{
		RiskTolerance: cfg.Planner.RiskTolerance,
		TimeBudget:    cfg.Planner.TimeBudget,
	}
	if cmd.Flags().Changed("risk-tolerance") {
		v, _ := cmd.Flags().GetFloat64("risk-tolerance")
		if v < 0 || v > 1 {
			return fmt.Errorf("risk tolerance must be between 0 and 1, got %v", v)
		}
		pc.RiskTolerance = v
	}
	if cmd.Flags().Changed("time-budget") {
		pc.TimeBudget, _ = cmd.Flags().GetDuration("time-budget")
	}

	p := planner.New(strategy.DefaultRegistry(), planner.WithCandidateLimit(cfg.Planner.CandidateLimit))
	result, err := p.CreatePlan(strings.Join(args, " "), pc)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printPlanResult(out, result)
	return nil
}

func printPlanResult(w io.Writer, r *planner.Result) {
	fmt.Fprintf(w, "Plan %s (%s), confidence %.2f\n", shortID(r.Primary.ID), r.Primary.Strategy, r.Confidence)
	printSteps(w, r.Primary.Steps)

	if len(r.Alternates) > 0 {
		fmt.Fprintln(w, "\nAlternates:")
		for _, alt := range r.Alternates {
			fmt.Fprintf(w, "  - %s: %d step(s), score %.2f, risk %.2f\n", alt.Strategy, len(alt.Steps), alt.Score, alt.RiskScore)
		}
	}
	for _, c := range r.Contingencies {
		fmt.Fprintf(w, "\nContingency (%d rollback step(s)):\n", len(c.Steps))
		printSteps(w, c.Steps)
	}

	risk := r.Risk
	fmt.Fprintf(w, "\nRisk: overall %.2f (technical %.2f, temporal %.2f, resource %.2f, dependency %.2f, cascade %.2f)\n",
		risk.Overall, risk.Technical, risk.Temporal, risk.Resource, risk.Dependency, risk.Cascade)
}

func printSteps(w io.Writer, steps []models.PlanStep) {
	for i, s := range steps {
		fmt.Fprintf(w, "  %d. %s [%s] %s (complexity %.2f, ~%s, risk %.2f)",
			i+1, s.ID, s.Kind, s.Description, s.Complexity, formatElapsed(s.EstimatedDuration), s.RiskLevel)
		if len(s.Dependencies) > 0 {
			fmt.Fprintf(w, " after %s", strings.Join(s.Dependencies, ", "))
		}
		fmt.Fprintln(w)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
