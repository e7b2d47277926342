package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [query]",
		Short: "Search the memory store",
		Long: `Search task executions, recovery sessions and improvement cycles in the
memory store. Without a query the most recent records are listed.

Examples:
  kaizen history
  kaizen history --type task_execution timeout
  kaizen history --limit 50 "database migration"`,
		RunE: runHistory,
	}

	cmd.Flags().Int("limit", 20, "Maximum number of records to show")
	cmd.Flags().String("type", "", "Only show records of this type (task_execution, recovery_session, pdca_cycle)")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) (err error) {
	cfg, home, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, home: home}
	if err := a.openStore(); err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	limit, _ := cmd.Flags().GetInt("limit")
	recordType, _ := cmd.Flags().GetString("type")
	query := strings.Join(args, " ")

	// Filter by type after searching, so fetch without a limit when filtering.
	searchLimit := limit
	if recordType != "" {
		searchLimit = 0
	}
	records, err := a.store.Search(commandContext(cmd), query, searchLimit)
	if err != nil {
		return fmt.Errorf("search memory: %w", err)
	}

	out := cmd.OutOrStdout()
	shown := 0
	for _, rec := range records {
		if recordType != "" && rec.Type != recordType {
			continue
		}
		if limit > 0 && shown >= limit {
			break
		}
		fmt.Fprintf(out, "[%s] %s/%s: %s\n", rec.Timestamp.Local().Format("2006-01-02 15:04:05"), rec.Type, rec.Category, rec.Content)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(out, "No matching records")
	}
	return nil
}
