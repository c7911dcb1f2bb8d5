package tracelog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marty/internal/ir"
)

func TestWriteAndRead(t *testing.T) {
	l := createTestLog(t)
	ctx := context.Background()

	want := sampleTrace("trace-1", 1, "RECEIVE_FOO")
	inserted, err := l.Write(ctx, want)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := l.Read(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, "trace-1", got.ID)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, ir.MustTraceDigest(want), ir.MustTraceDigest(got))
	assert.Equal(t, want.ToJSON(), got.ToJSON())
}

func TestWriteIdempotent(t *testing.T) {
	l := createTestLog(t)
	ctx := context.Background()

	inserted, err := l.Write(ctx, sampleTrace("dup", 1, "A"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = l.Write(ctx, sampleTrace("dup", 2, "B"))
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := l.Read(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Type)

	var handlers int
	require.NoError(t, l.DB().QueryRow("SELECT COUNT(*) FROM handlers WHERE action_id = 'dup'").Scan(&handlers))
	assert.Equal(t, 1, handlers)
}

func TestWriteRequiresID(t *testing.T) {
	l := createTestLog(t)

	_, err := l.Write(context.Background(), &ir.ActionTrace{Type: "A"})
	assert.Error(t, err)
	_, err = l.Write(context.Background(), nil)
	assert.Error(t, err)
}

func TestWriteStoresRowsAndErrors(t *testing.T) {
	l := createTestLog(t)
	ctx := context.Background()

	tr := sampleTrace("e", 1, "RECEIVE_FOO")
	tr.Handlers[0].Error = &ir.TraceError{Name: "HandlerExecutionError", Message: "boom"}
	_, err := l.Write(ctx, tr)
	require.NoError(t, err)

	var (
		hasErrors int
		errJSON   string
		before    string
	)
	require.NoError(t, l.DB().QueryRow("SELECT has_errors FROM actions WHERE id = 'e'").Scan(&hasErrors))
	assert.Equal(t, 1, hasErrors)

	require.NoError(t, l.DB().QueryRow(
		"SELECT error, state_before FROM handlers WHERE action_id = 'e' AND position = 0",
	).Scan(&errJSON, &before))
	assert.Equal(t, `{"message":"boom","name":"HandlerExecutionError"}`, errJSON)
	assert.Equal(t, `[]`, before)

	var viewName, viewAfter string
	require.NoError(t, l.DB().QueryRow(
		"SELECT name, state_after FROM views WHERE action_id = 'e'",
	).Scan(&viewName, &viewAfter))
	assert.Equal(t, "Foos", viewName)
	assert.Equal(t, `{"foos":[{"bar":"baz"}]}`, viewAfter)

	got, err := l.Read(ctx, "e")
	require.NoError(t, err)
	require.NotNil(t, got.Handlers[0].Error)
	assert.Equal(t, "boom", got.Handlers[0].Error.Message)
}

func TestRecordLogsFailures(t *testing.T) {
	l := createTestLog(t)

	// No ID: the sink must not panic or return anything.
	l.Record(&ir.ActionTrace{Type: "A"})
	l.Record(nil)
	l.Record(sampleTrace("ok", 1, "A"))

	n, err := l.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
