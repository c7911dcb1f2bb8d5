package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/marty/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <cue-path>",
		Short: "Validate apps without emitting IR",
		Long: `Validate the apps declared in a CUE file or directory.

Runs the compiler, the schema checks (unique names, known ops, declared
stores in view bindings, int-only values) and a static dispatch cycle
analysis. Cycles are reported as warnings and do not fail validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadApps(path, LoadModeCollectAll)

	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	result := validateLoaded(loadResult, loadErrors, formatter)
	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	return outputValidateSuccess(formatter, result)
}

// validateLoaded runs schema validation and cycle analysis over every
// compiled app. Load errors are folded in as validation errors.
func validateLoaded(loadResult *LoadResult, loadErrors []error, formatter *OutputFormatter) ValidationResult {
	var result ValidationResult

	for _, err := range loadErrors {
		code, message := parseCompileError(err)
		verr := compiler.ValidationError{Field: "load", Message: message, Code: code}
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			verr.Line = loadErr.Pos.Line()
		}
		result.Errors = append(result.Errors, verr)
	}

	for i := range loadResult.Apps {
		app := &loadResult.Apps[i]
		formatter.VerboseLog("Validating app: %s", app.Name)
		result.Errors = append(result.Errors, compiler.Validate(app)...)
		result.Warnings = append(result.Warnings, compiler.AnalyzeCycles(app)...)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ All apps valid")
	printCycleWarnings(formatter.Writer, result.Warnings)
	return nil
}

func printCycleWarnings(w io.Writer, warnings []compiler.CycleWarning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, warn := range warnings {
		fmt.Fprintf(w, "⚠ %s\n", warn.Message)
	}
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Validation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
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

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	printCycleWarnings(formatter.Writer, result.Warnings)

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

// ValidatePath validates every app in a CUE file or directory.
// This is a helper function for external callers.
func ValidatePath(path string) (ValidationResult, error) {
	loadResult, loadErrors := LoadApps(path, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		return ValidationResult{}, loadErrors[0]
	}

	silentFormatter := &OutputFormatter{Format: "text", Writer: io.Discard}
	return validateLoaded(loadResult, loadErrors, silentFormatter), nil
}
