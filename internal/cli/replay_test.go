package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marty/internal/tracelog"
)

// quietTodosApp is the demo app with addTodo no longer dispatching
// TODO_ADDED.
const quietTodosApp = `
package test

app: todos: {
	stores: {
		TodoStore: {
			initial: {items: [], count: 0}
			handlers: addTodo: {
				on: "ADD_TODO"
				ops: [
					{op: "push", path: "items", arg: 0},
					{op: "increment", path: "count"},
				]
				notify: true
			}
		}
		AuditStore: {
			initial: {last: null}
			handlers: audit: {
				on: "TODO_ADDED"
				ops: [{op: "set", path: "last", arg: 0}]
				notify: true
			}
		}
	}
	creators: TodoActions: add: "ADD_TODO"
	views: {
		TodoList: {todos: "TodoStore"}
		Dashboard: {todos: "TodoStore", audit: "AuditStore"}
	}
}
`

func runReplayCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestReplayDeterministic(t *testing.T) {
	dbPath := recordScenario(t, "todo_add")

	output, err := runReplayCmd(t, "text", todosApp, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, output, "Replay Summary: 2 replayed, 2 matched, 0 diverged")
	assert.Contains(t, output, "✓ Replay is deterministic")
}

func TestReplayCapturedHandlerErrors(t *testing.T) {
	dbPath := recordScenario(t, "todo_handler_error")

	output, err := runReplayCmd(t, "text", todosApp, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Replay is deterministic")
}

func TestReplayDeterministicJSON(t *testing.T) {
	dbPath := recordScenario(t, "todo_add")

	output, err := runReplayCmd(t, "json", todosApp, "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string                `json:"status"`
		Data   tracelog.ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Replayed)
	assert.Equal(t, 2, resp.Data.Matched)
	assert.Empty(t, resp.Data.Diverged)
	assert.True(t, resp.Data.Completed)
}

func TestReplayDiverged(t *testing.T) {
	dbPath := recordScenario(t, "todo_add")
	dir := writeApp(t, quietTodosApp)

	output, err := runReplayCmd(t, "text", dir, "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 action(s) diverged")

	assert.Contains(t, output, "✗ [1] ADD_TODO: record count: stored 2, replayed 1")
	assert.Contains(t, output, "Replay Summary: 2 replayed, 0 matched, 2 diverged")
	assert.NotContains(t, output, "deterministic")
}

func TestReplayDivergedJSON(t *testing.T) {
	dbPath := recordScenario(t, "todo_add")
	dir := writeApp(t, quietTodosApp)

	output, err := runReplayCmd(t, "json", dir, "--db", dbPath)
	require.Error(t, err)

	var resp struct {
		Status string                `json:"status"`
		Data   tracelog.ReplayResult `json:"data"`
		Error  *CLIError             `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_REPLAY_DIVERGED", resp.Error.Code)
	require.Len(t, resp.Data.Diverged, 2)
	assert.Equal(t, "trace-1", resp.Data.Diverged[0].ID)
	assert.Equal(t, "ADD_TODO", resp.Data.Diverged[0].Type)
}

func TestReplayEmptyLog(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	output, err := runReplayCmd(t, "text", todosApp, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, output, "No actions found in trace log.")
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := runReplayCmd(t, "text", todosApp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayBadAppPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	_, err := runReplayCmd(t, "text", "/nonexistent/app.cue", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load app")
}

func TestReplayInvalidNestedPolicy(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	_, err := runReplayCmd(t, "text", todosApp, "--db", dbPath, "--nested", "sideways")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --nested")
}
