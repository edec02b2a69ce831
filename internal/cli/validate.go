package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleychat/parley/internal/harness"
)

// ValidationResult holds per-file validation outcomes.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError names one invalid scenario file.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Validate scenario files without running them",
		Long: `Validate conversation scenario files against the scenario schema.

Checks YAML structure, field types, step shape, and cross-references
(viewers, labels) without executing anything.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result := ValidationResult{Valid: true, Files: len(paths)}
	for _, path := range paths {
		formatter.VerboseLog("validating %s", path)
		if _, err := harness.LoadScenario(path); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{
				Path:    path,
				Message: err.Error(),
			})
		}
	}

	if !result.Valid {
		if opts.Format == "json" {
			if err := formatter.Error("E_SCENARIO", "scenario validation failed", result); err != nil {
				return err
			}
		} else {
			for _, ve := range result.Errors {
				fmt.Fprintf(formatter.Writer, "%s: %s\n", ve.Path, ve.Message)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario file(s) invalid", len(result.Errors), result.Files))
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(fmt.Sprintf("%d scenario file(s) valid", result.Files))
}
