package tracelog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/marty/internal/diagnostics"
	"github.com/roach88/marty/internal/ir"
)

var _ diagnostics.Sink = (*Log)(nil)

// Write inserts a trace record with its handler and view rows in one
// transaction. Returns inserted=false when a record with the same ID is
// already stored (ON CONFLICT(id) DO NOTHING).
//
// States, arguments and errors are serialized to canonical JSON per
// RFC 8785 for deterministic replay.
func (l *Log) Write(ctx context.Context, t *ir.ActionTrace) (inserted bool, err error) {
	if t == nil || t.ID == "" {
		return false, fmt.Errorf("write trace: record has no id")
	}

	record, err := marshalValue(t.ToJSON())
	if err != nil {
		return false, fmt.Errorf("write trace %s: %w", t.ID, err)
	}
	digest, err := ir.TraceDigest(t)
	if err != nil {
		return false, fmt.Errorf("write trace %s: %w", t.ID, err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write trace %s: begin tx: %w", t.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO actions
		(id, seq, parent_id, parent_handler, type, source, has_errors, digest, record, trace_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		t.ID,
		t.Seq,
		t.ParentID,
		t.ParentHandler,
		t.Type,
		string(t.Source),
		t.HasErrors(),
		digest,
		record,
		ir.TraceVersion,
	)
	if err != nil {
		return false, fmt.Errorf("write trace %s: %w", t.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write trace %s: rows affected: %w", t.ID, err)
	}
	if rows == 0 {
		return false, nil
	}

	for i, h := range t.Handlers {
		if err := writeHandler(ctx, tx, t.ID, i, h); err != nil {
			return false, fmt.Errorf("write trace %s: handler %d: %w", t.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write trace %s: commit: %w", t.ID, err)
	}
	return true, nil
}

func writeHandler(ctx context.Context, tx *sql.Tx, actionID string, pos int, h ir.HandlerTrace) error {
	errJSON, err := marshalTraceError(h.Error)
	if err != nil {
		return err
	}
	before, err := marshalValue(h.State.Before)
	if err != nil {
		return err
	}
	after, err := marshalValue(h.State.After)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO handlers
		(action_id, position, store, name, error, state_before, state_after)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, actionID, pos, h.Store, h.Name, errJSON, before, after); err != nil {
		return err
	}

	for j, v := range h.Views {
		errJSON, err := marshalTraceError(v.Error)
		if err != nil {
			return err
		}
		before, err := marshalValue(v.State.Before)
		if err != nil {
			return err
		}
		after, err := marshalValue(v.State.After)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO views
			(action_id, handler_position, position, name, error, state_before, state_after)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, actionID, pos, j, v.Name, errJSON, before, after); err != nil {
			return fmt.Errorf("view %d: %w", j, err)
		}
	}
	return nil
}

// Record implements diagnostics.Sink. Write failures are logged, never
// returned to the tracer.
func (l *Log) Record(t *ir.ActionTrace) {
	if _, err := l.Write(context.Background(), t); err != nil {
		var id, action string
		if t != nil {
			id, action = t.ID, t.Type
		}
		l.logger.Error("trace log write failed", "id", id, "action", action, "error", err)
	}
}
