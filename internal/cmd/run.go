package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/orchestrator"
	"github.com/harrison/kaizen/internal/parser"
)

// DefaultTaskType is used for task file entries without a type.
const DefaultTaskType = "general"

// Metadata keys set on tasks queued from a task file.
const (
	MetadataTaskKey  = "task_key"
	MetadataTitle    = "title"
	MetadataTaskFile = "task_file"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task-file-or-directory>",
		Short: "Queue and execute the tasks of a task file",
		Long: `Parse a task file (Markdown or YAML) and run every task through the
orchestrator. Tasks run one at a time in priority order; a task waits until
the tasks it depends on have completed and fails if one of them failed.

A failing task goes through recovery before it is reported as failed.
Executor success rates and every outcome are kept in the memory store.

Examples:
  kaizen run tasks.md
  kaizen run release/              # numbered files: 1-setup.md, 2-build.yaml, ...
  kaizen run --dry-run tasks.yaml  # parse and list without executing
  kaizen run --timeout 30m tasks.md`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().Bool("dry-run", false, "Parse and list the tasks without executing them")
	cmd.Flags().Duration("timeout", 0, "Maximum run time (e.g., 30m, 2h); 0 means no limit")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) (err error) {
	tf, err := parser.ParseFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to load task file: %w", err)
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		printTaskFile(cmd.OutOrStdout(), tf)
		return nil
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx := commandContext(cmd)
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	a.warmStart(ctx)
	a.log.Infof("Loaded %s: %d task(s)", tf.Name, len(tf.Tasks))

	if _, err := queueTasks(ctx, a.orch, tf); err != nil {
		return err
	}
	if err := a.orch.ProcessQueue(ctx); err != nil {
		return fmt.Errorf("process queue: %w", err)
	}

	stats := a.orch.GetStatistics()
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d task(s) failed", stats.Failed, stats.TotalTasks)
	}
	return nil
}

// taskQueue is the part of the orchestrator a task file is loaded into.
type taskQueue interface {
	AddTask(ctx context.Context, taskType, description string, priority models.Priority, metadata map[string]interface{}) (string, error)
}

var _ taskQueue = (*orchestrator.Orchestrator)(nil)

// queueTasks adds the tasks in file order and returns task IDs by key. The
// file is validated, so every dependency key maps to an ID added earlier.
func queueTasks(ctx context.Context, q taskQueue, tf *parser.TaskFile) (map[string]string, error) {
	ids := make(map[string]string, len(tf.Tasks))
	for _, spec := range tf.Tasks {
		metadata := map[string]interface{}{
			MetadataTaskKey: spec.Key,
			MetadataTitle:   spec.Title,
		}
		if tf.FilePath != "" {
			metadata[MetadataTaskFile] = tf.FilePath
		}
		if len(spec.DependsOn) > 0 {
			deps := make([]string, 0, len(spec.DependsOn))
			for _, key := range spec.DependsOn {
				id, ok := ids[key]
				if !ok {
					return nil, fmt.Errorf("task %s depends on %s: %w", spec.Key, key, parser.ErrForwardDependency)
				}
				deps = append(deps, id)
			}
			metadata[orchestrator.MetadataDependencies] = deps
		}

		taskType := spec.Type
		if taskType == "" {
			taskType = DefaultTaskType
		}
		id, err := q.AddTask(ctx, taskType, spec.Text(), spec.Priority, metadata)
		if err != nil {
			return nil, fmt.Errorf("queue task %s: %w", spec.Key, err)
		}
		ids[spec.Key] = id
	}
	return ids, nil
}

func printTaskFile(w io.Writer, tf *parser.TaskFile) {
	fmt.Fprintf(w, "%s: %d task(s)\n", tf.Name, len(tf.Tasks))
	for _, t := range tf.Tasks {
		fmt.Fprintf(w, "  %s [%s] %s", t.Key, t.Priority, t.Title)
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(w, " (after %s)", strings.Join(t.DependsOn, ", "))
		}
		fmt.Fprintln(w)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// formatElapsed rounds durations for summaries.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
