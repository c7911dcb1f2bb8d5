package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() *ActionTrace {
	foo := Object{"bar": String("baz")}
	return &ActionTrace{
		ID:        "0192aaaa-0000-7000-8000-000000000001",
		Seq:       1,
		Type:      "RECEIVE_FOO",
		Source:    SourceView,
		Arguments: Array{foo},
		Creator: Creator{
			Name:      "TestActionCreators",
			Action:    "addFoo",
			Arguments: Array{foo},
		},
		Handlers: []HandlerTrace{{
			Store: "FooStore",
			Name:  "receiveFoo",
			State: StateChange{
				Before: Object{"foos": Array{}},
				After:  Object{"foos": Array{foo}},
			},
			Views: []ViewTrace{{
				Name: "Foos",
				State: StateChange{
					Before: Object{"foos": Object{"foos": Array{}}},
					After:  Object{"foos": Object{"foos": Array{foo}}},
				},
			}},
		}},
	}
}

func TestActionTraceToJSON(t *testing.T) {
	data, err := MarshalCanonical(sampleTrace().ToJSON())
	require.NoError(t, err)

	expected := `{
		"type": "RECEIVE_FOO",
		"source": "VIEW",
		"arguments": [{"bar": "baz"}],
		"creator": {
			"name": "TestActionCreators",
			"type": "ActionCreator",
			"action": "addFoo",
			"arguments": [{"bar": "baz"}]
		},
		"handlers": [{
			"store": "FooStore",
			"type": "Store",
			"name": "receiveFoo",
			"error": null,
			"state": {"before": {"foos": []}, "after": {"foos": [{"bar": "baz"}]}},
			"views": [{
				"name": "Foos",
				"error": null,
				"state": {
					"before": {"foos": {"foos": []}},
					"after": {"foos": {"foos": [{"bar": "baz"}]}}
				}
			}]
		}]
	}`
	assert.JSONEq(t, expected, string(data))
}

func TestActionTraceMarshalJSONMatchesToJSON(t *testing.T) {
	tr := sampleTrace()
	viaMarshal, err := json.Marshal(tr)
	require.NoError(t, err)
	canonical, err := MarshalCanonical(tr.ToJSON())
	require.NoError(t, err)
	assert.JSONEq(t, string(canonical), string(viaMarshal))
}

func TestActionTraceToJSONIsDetached(t *testing.T) {
	tr := sampleTrace()
	out := tr.ToJSON()
	out["arguments"].(Array)[0].(Object)["bar"] = String("changed")

	assert.Equal(t, String("baz"), tr.Arguments[0].(Object)["bar"])
}

func TestActionTraceErrorSerialization(t *testing.T) {
	tr := sampleTrace()
	tr.Handlers[0].Error = &TraceError{Name: "HandlerExecutionError", Message: "boom"}

	h := tr.ToJSON()["handlers"].(Array)[0].(Object)
	assert.Equal(t, Object{"name": String("HandlerExecutionError"), "message": String("boom")}, h["error"])
	assert.True(t, tr.HasErrors())
	assert.False(t, sampleTrace().HasErrors())
}

func TestActionTraceWithoutCreator(t *testing.T) {
	tr := &ActionTrace{Type: "PING", Source: SourceServer}
	out := tr.ToJSON()
	assert.Equal(t, Null{}, out["creator"])
	assert.Equal(t, Array{}, out["arguments"])
	assert.Equal(t, Array{}, out["handlers"])
}

func TestParseActionTraceRoundTrip(t *testing.T) {
	tr := sampleTrace()
	tr.Handlers[0].Views[0].Error = &TraceError{Name: "ViewRecomputeError", Message: "bad"}

	parsed, err := ParseActionTrace(tr.ToJSON())
	require.NoError(t, err)
	assert.Equal(t, MustTraceDigest(tr), MustTraceDigest(parsed))
	assert.Equal(t, tr.Action(), parsed.Action())
}

func TestParseActionTraceRejectsMalformed(t *testing.T) {
	_, err := ParseActionTrace(Object{"type": Int(1)})
	require.Error(t, err)

	_, err = ParseActionTrace(Object{
		"type":     String("X"),
		"source":   String("VIEW"),
		"handlers": Array{String("nope")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handlers[0]")
}

func TestTraceDigestIgnoresBookkeeping(t *testing.T) {
	a := sampleTrace()
	b := sampleTrace()
	b.ID = "other"
	b.Seq = 42
	assert.Equal(t, MustTraceDigest(a), MustTraceDigest(b))

	b.Handlers[0].Name = "other"
	assert.NotEqual(t, MustTraceDigest(a), MustTraceDigest(b))
}

func TestActionValidate(t *testing.T) {
	assert.NoError(t, NewAction("X", SourceServer).Validate())
	assert.True(t, IsConfigurationError(NewAction("", SourceView).Validate()))
	assert.True(t, IsConfigurationError(Action{Type: "X", Source: "CLIENT"}.Validate()))

	src, err := ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, SourceView, src)
	_, err = ParseSource("CLIENT")
	assert.Error(t, err)
}

func TestNewActionClonesArguments(t *testing.T) {
	arg := Object{"bar": String("baz")}
	a := NewAction("RECEIVE_FOO", SourceView, arg)
	arg["bar"] = String("changed")
	assert.Equal(t, String("baz"), a.Arguments[0].(Object)["bar"])
}
