package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harrison/kaizen/internal/parser"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <task-file-or-directory>...",
		Short: "Validate task files and the configuration",
		Long: `Parse and validate task files, checking for:
  - Task keys and titles
  - Duplicate keys
  - Valid priorities
  - Dependencies that name a task defined earlier

The configuration is loaded and validated as well.

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var configErr error
			if _, _, err := loadConfig(cmd); err != nil {
				configErr = err
			}
			return validateTaskFiles(args, configErr, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	return cmd
}

// validateTaskFiles reports on each path and fails if any path or the
// configuration is invalid.
func validateTaskFiles(paths []string, configErr error, output io.Writer) error {
	var errors []string

	if configErr != nil {
		errors = append(errors, configErr.Error())
		fmt.Fprintf(output, "✗ Configuration: %v\n", configErr)
	} else {
		fmt.Fprintf(output, "✓ Configuration valid\n")
	}

	total := 0
	for _, path := range paths {
		tf, err := parser.ParseFile(path)
		if err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", path, err))
			fmt.Fprintf(output, "✗ %s\n  Error: %v\n", path, err)
			continue
		}
		total += len(tf.Tasks)
		fmt.Fprintf(output, "✓ %s: %d task(s) from %s\n", tf.Name, len(tf.Tasks), path)
	}

	if len(errors) == 0 {
		fmt.Fprintf(output, "\n✓ %d task(s) valid!\n", total)
		return nil
	}

	fmt.Fprintf(output, "\nFound %d validation error(s)!\n", len(errors))
	return fmt.Errorf("validation failed with %d error(s)", len(errors))
}
