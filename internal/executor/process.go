package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/harrison/kaizen/internal/models"
)

// TaskPlaceholder in an argument is replaced by the task description.
const TaskPlaceholder = "{{task}}"

// waitDelay bounds how long Execute waits for output pipes after the process is killed.
const waitDelay = 2 * time.Second

// ProcessExecutor runs an external command per task.
type ProcessExecutor struct {
	ID      string
	Command string
	Args    []string
	Env     []string // Extra KEY=VALUE pairs added to the current environment
	Dir     string
	Timeout time.Duration
}

// NewProcessExecutor creates an executor for command with args.
func NewProcessExecutor(id, command string, args ...string) *ProcessExecutor {
	return &ProcessExecutor{ID: id, Command: command, Args: args}
}

// BuildCommandArgs substitutes the description into the arguments. Without a
// placeholder the description is appended as the last argument.
func (p *ProcessExecutor) BuildCommandArgs(description string) []string {
	args := make([]string, 0, len(p.Args)+1)
	substituted := false
	for _, a := range p.Args {
		if strings.Contains(a, TaskPlaceholder) {
			a = strings.ReplaceAll(a, TaskPlaceholder, description)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, description)
	}
	return args
}

// Execute runs the command and returns its combined output. A non-zero exit or a
// start failure is reported as *models.ExecutionError.
func (p *ProcessExecutor) Execute(ctx context.Context, description string) (Result, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, p.Command, p.BuildCommandArgs(description)...)
	cmd.Dir = p.Dir
	cmd.WaitDelay = waitDelay
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}

	output, err := cmd.CombinedOutput()
	result := Result{Output: string(output), Duration: time.Since(start)}
	if err == nil {
		return result, nil
	}

	execErr := models.NewExecutionError("", p.ID, err)
	execErr.Output = result.Output
	if ctxErr := ctx.Err(); ctxErr != nil {
		execErr.Err = fmt.Errorf("%s: %w", p.Command, ctxErr)
		return result, execErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		execErr.ExitCode = exitErr.ExitCode()
		execErr.Err = fmt.Errorf("%s: %s", p.Command, lastLine(result.Output, exitErr.Error()))
	}
	return result, execErr
}

func lastLine(output, fallback string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	return fallback
}
