package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/mudbridge/internal/compiler"
	"github.com/roach88/mudbridge/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Namespace string                     `json:"namespace,omitempty"`
	Tables    int                        `json:"tables,omitempty"`
	Actions   int                        `json:"actions,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <world-dir>",
		Short: "Validate a world config",
		Long: `Compile the CUE world config in a directory and check it.

Checks table and field names against on-chain resource id limits, field
types, and that every action increments an integer field of a singleton
table. Nothing is written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, worldDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := compiler.LoadWorld(worldDir)
	if err != nil {
		return outputValidateError(formatter, loadErrorCode(err), err.Error(), nil)
	}

	formatter.VerboseLog("Compiled world %q: %d table(s), %d action(s)",
		cfg.Namespace, len(cfg.Tables), len(cfg.Actions))

	if errs := compiler.ValidateWorld(cfg); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	return outputValidateSuccess(formatter, cfg)
}

// loadErrorCode maps a LoadWorld failure to a CLI error code.
func loadErrorCode(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound
	case errors.Is(err, compiler.ErrNoCUEFiles):
		return ErrCodeNoFiles
	default:
		return ErrCodeLoadFailed
	}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, cfg *ir.WorldConfig) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:     true,
			Namespace: cfg.Namespace,
			Tables:    len(cfg.Tables),
			Actions:   len(cfg.Actions),
		})
	}

	fmt.Fprintf(formatter.Writer, "✓ World valid (%s: %d table(s), %d action(s))\n",
		cfg.Namespace, len(cfg.Tables), len(cfg.Actions))
	return nil
}

// outputValidateError outputs a single load error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
