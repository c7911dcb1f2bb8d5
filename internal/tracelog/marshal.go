package tracelog

import (
	"database/sql"
	"fmt"

	"github.com/roach88/marty/internal/ir"
)

// marshalValue converts a Value to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalValue(v ir.Value) (string, error) {
	if v == nil {
		v = ir.Null{}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// marshalTraceError stores a captured error as {name, message}, or NULL.
func marshalTraceError(te *ir.TraceError) (sql.NullString, error) {
	if te == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalValue(te.Value())
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal error: %w", err)
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// unmarshalRecord parses a stored record back into an ActionTrace.
// Uses ir.UnmarshalValue which keeps large integers exact via json.Number.
func unmarshalRecord(data string) (*ir.ActionTrace, error) {
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal record: expected object, got %s", ir.KindOf(v))
	}
	t, err := ir.ParseActionTrace(obj)
	if err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return t, nil
}
