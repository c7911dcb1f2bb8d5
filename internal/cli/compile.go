package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/marty/internal/compiler"
	"github.com/roach88/marty/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled apps.
type CompilationResult struct {
	Apps []ir.AppSpec `json:"apps"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	AppCount     int
	StoreCount   int
	HandlerCount int
	CreatorCount int
	ViewCount    int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <cue-path>",
		Short: "Compile CUE apps to canonical IR",
		Long: `Compile the apps declared under "app" in a CUE file or directory.

Each app declares stores (initial state and handlers made of ops),
action creators and views. The output is the app IR as JSON.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadApps(path, LoadModeCollectAll)

	// Handle load errors (path not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)
	for _, app := range loadResult.Apps {
		formatter.VerboseLog("Compiled app: %s", app.Name)
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	result := &CompilationResult{Apps: loadResult.Apps}
	stats := calculateStats(result)

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

// calculateStats computes summary statistics from compilation result.
func calculateStats(result *CompilationResult) CompilationStats {
	stats := CompilationStats{AppCount: len(result.Apps)}
	for _, app := range result.Apps {
		stats.StoreCount += len(app.Stores)
		stats.CreatorCount += len(app.Creators)
		stats.ViewCount += len(app.Views)
		for _, s := range app.Stores {
			stats.HandlerCount += len(s.Handlers)
		}
	}
	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d app(s)\n\n", stats.AppCount)

	for _, app := range result.Apps {
		handlers := 0
		for _, s := range app.Stores {
			handlers += len(s.Handlers)
		}
		fmt.Fprintf(formatter.Writer, "%s: %d store(s), %d handler(s), %d creator(s), %d view(s)\n",
			app.Name, len(app.Stores), handlers, len(app.Creators), len(app.Views))
		for _, s := range app.Stores {
			for _, h := range s.Handlers {
				fmt.Fprintf(formatter.Writer, "  %s.%s ← %v\n", s.Name, h.Name, h.Types)
			}
		}
		for _, c := range app.Creators {
			for _, m := range c.Methods {
				fmt.Fprintf(formatter.Writer, "  %s.%s → %s (%s)\n", c.Name, m.Name, m.Action, m.Source)
			}
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote IR to %s\n", outputFile)
	}

	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{
				Code:    code,
				Message: message,
			}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeIRToFile writes the compilation result to a file as indented JSON.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
