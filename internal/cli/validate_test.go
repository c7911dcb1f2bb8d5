package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marty/internal/compiler"
)

func TestValidateDemoApp(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{todosApp})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ All apps valid")
	assert.NotContains(t, buf.String(), "⚠")
}

func TestValidateDemoDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Dir(todosApp)})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ All apps valid")
}

func TestValidateDemoAppJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{todosApp})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateSchemaErrors(t *testing.T) {
	dir := writeApp(t, `
package test

app: bad: {
	stores: S: {}
	views: {
		Empty: {}
		Broken: {s: "Missing"}
	}
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")

	output := buf.String()
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, "E113")
	assert.Contains(t, output, `view "Empty" has no bindings`)
	assert.Contains(t, output, "E110")
	assert.Contains(t, output, `undeclared store "Missing"`)
}

func TestValidateSchemaErrorsJSON(t *testing.T) {
	dir := writeApp(t, `
package test

app: bad: {
	stores: S: {}
	views: Broken: {s: "Missing"}
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrUnknownStore, resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "views[0].bindings[0].store", resp.Data.Errors[0].Field)
}

func TestValidateCompileErrorsAreReported(t *testing.T) {
	dir := writeApp(t, `
package test

app: bad: stores: S: handlers: h: {
	on: "X"
	ops: [{op: "dispatch", action: "Y", source: "CLIENT"}]
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "E104")
	assert.Contains(t, buf.String(), `source must be VIEW or SERVER, got "CLIENT"`)
}

func TestValidateCycleWarnings(t *testing.T) {
	dir := writeApp(t, `
package test

app: pingpong: stores: {
	A: handlers: ping: {
		on: "PING"
		ops: [{op: "dispatch", action: "PONG"}]
	}
	B: handlers: pong: {
		on: "PONG"
		ops: [{op: "dispatch", action: "PING"}]
	}
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute(), "cycles are warnings")
	output := buf.String()
	assert.Contains(t, output, "✓ All apps valid")
	assert.Contains(t, output, "⚠ Potential cycle detected: A.ping → B.pong → A.ping")
}

func TestValidateNonExistentPath(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/path"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E005]")
}

func TestValidatePath(t *testing.T) {
	result, err := ValidatePath(todosApp)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	_, err = ValidatePath("/nonexistent/path")
	require.Error(t, err)
}
