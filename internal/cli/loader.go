package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/marty/internal/compiler"
	"github.com/roach88/marty/internal/ir"
)

// LoadMode controls how errors are handled during app loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the apps compiled from a CUE file or directory.
type LoadResult struct {
	Apps      []ir.AppSpec
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// App returns the app labelled name, or the only app when name is empty.
func (r *LoadResult) App(name string) (*ir.AppSpec, error) {
	if name == "" {
		if len(r.Apps) != 1 {
			return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("%d apps loaded, select one with --app", len(r.Apps))}
		}
		return &r.Apps[0], nil
	}
	for i := range r.Apps {
		if r.Apps[i].Name == name {
			return &r.Apps[i], nil
		}
	}
	return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("app %q not found", name)}
}

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadApps loads a CUE file or directory and compiles every app declared
// under the top-level "app" struct.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadApps(path string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", path, err)}}
	}

	fileCount := 1
	if info.IsDir() {
		cueFiles, err := compiler.CUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(cueFiles) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
		fileCount = len(cueFiles)
	} else if filepath.Ext(path) != ".cue" {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("not a CUE file: %s", path)}}
	}

	value, err := compiler.LoadInstance(path)
	if err != nil {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: compileErr.Message, Pos: compileErr.Pos}}
		}
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: fileCount,
	}

	apps, err := compiler.AppValues(value)
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating apps: %v", err)}}
	}

	for _, appVal := range apps {
		label := appLabel(appVal)
		spec, compileErr := compiler.CompileApp(appVal)
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "app."+label))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Apps = append(result.Apps, *spec)
	}

	if len(apps) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no apps found under \"app\""})
	}

	return result, errs
}

func appLabel(v cue.Value) string {
	sel := v.Path().Selectors()
	if len(sel) == 0 {
		return ""
	}
	return sel[len(sel)-1].String()
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
// E1xx codes match compiler.Validate codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDatabase    = "E008" // Trace log error
)

// MapFieldToErrorCode maps a compiler error field to an error code.
// Fields look like "stores.S.handlers.h.ops[0].op".
func MapFieldToErrorCode(field string) string {
	switch {
	case strings.HasSuffix(field, ".on"):
		return compiler.ErrHandlerNoTypes
	case strings.HasSuffix(field, ".op"), strings.HasSuffix(field, ".arg"):
		return compiler.ErrInvalidOp
	case strings.HasSuffix(field, ".by"), strings.HasSuffix(field, ".value"), strings.HasSuffix(field, ".initial"):
		return compiler.ErrFloatForbidden
	case strings.HasSuffix(field, ".source"):
		return compiler.ErrInvalidSource
	case strings.HasPrefix(field, "creators."):
		return compiler.ErrMethodNoAction
	case strings.HasPrefix(field, "views."):
		return compiler.ErrEmptyBindingKey
	default:
		return ErrCodeGeneric
	}
}
