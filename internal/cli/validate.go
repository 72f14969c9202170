package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/canopy/internal/harness"
)

// ValidationError is one problem found in a scenario file.
type ValidationError struct {
	File    string `json:"file"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario>...",
		Short: "Validate scenario files without running them",
		Long: `Check scenario files against the scenario schema, then check the
references the schema cannot see (unknown peers, duplicate peers).

Exit codes:
  0 - All files valid
  1 - One or more files invalid
  2 - Command error (file not found)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	result := ValidationResult{Files: len(files)}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read scenario", err)
		}
		formatter.VerboseLog("Validating %s", file)
		result.Errors = append(result.Errors, validateFile(file, data)...)
	}
	result.Valid = len(result.Errors) == 0

	if formatter.JSON() {
		var failure *CLIError
		if !result.Valid {
			failure = &CLIError{
				Code:    ErrCodeInvalid,
				Message: fmt.Sprintf("%d validation error(s)", len(result.Errors)),
			}
		}
		return formatter.Report(result, failure)
	}

	w := cmd.OutOrStdout()
	if result.Valid {
		fmt.Fprintf(w, "✓ %d scenario(s) valid\n", result.Files)
		return nil
	}
	for _, e := range result.Errors {
		if e.Path != "" {
			fmt.Fprintf(w, "%s: %s: %s\n", e.File, e.Path, e.Message)
		} else {
			fmt.Fprintf(w, "%s: %s\n", e.File, e.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
}

// validateFile runs the schema check and, only if that passes, the
// semantic checks in harness.ParseScenario.
func validateFile(file string, data []byte) []ValidationError {
	var errs []ValidationError
	for _, se := range harness.CheckSchema(data) {
		errs = append(errs, ValidationError{File: file, Path: se.Path, Message: se.Message})
	}
	if len(errs) > 0 {
		return errs
	}
	if _, err := harness.ParseScenario(data); err != nil {
		return []ValidationError{{File: file, Message: err.Error()}}
	}
	return nil
}
