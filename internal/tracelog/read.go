package tracelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/marty/internal/ir"
)

// ErrNotFound is returned by Read when no record has the given ID.
var ErrNotFound = errors.New("trace not found")

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Type       string // action type
	Store      string // a handler of this store ran
	View       string // this view recomputed
	ErrorsOnly bool   // some handler or view captured an error
	TopLevel   bool   // not dispatched from inside a handler
	Limit      int
}

const selectActions = `
	SELECT a.id, a.seq, a.parent_id, a.parent_handler, a.digest, a.record
	FROM actions a`

// Read retrieves a single record by ID.
// Returns ErrNotFound if missing.
func (l *Log) Read(ctx context.Context, id string) (*ir.ActionTrace, error) {
	row := l.db.QueryRowContext(ctx, selectActions+` WHERE a.id = ?`, id)
	t, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read trace %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", id, err)
	}
	return t, nil
}

// List returns records matching f.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if nothing matches.
func (l *Log) List(ctx context.Context, f Filter) ([]*ir.ActionTrace, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "a.type = ?")
		args = append(args, f.Type)
	}
	if f.Store != "" {
		where = append(where, "EXISTS (SELECT 1 FROM handlers h WHERE h.action_id = a.id AND h.store = ?)")
		args = append(args, f.Store)
	}
	if f.View != "" {
		where = append(where, "EXISTS (SELECT 1 FROM views v WHERE v.action_id = a.id AND v.name = ?)")
		args = append(args, f.View)
	}
	if f.ErrorsOnly {
		where = append(where, "a.has_errors = 1")
	}
	if f.TopLevel {
		where = append(where, "a.parent_id = ''")
	}

	query := selectActions
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.seq ASC, a.id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	traces := []*ir.ActionTrace{}
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("list traces: %w", err)
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return traces, nil
}

// Children returns the records dispatched from inside handlers of the
// record with the given ID, in seq order.
func (l *Log) Children(ctx context.Context, parentID string) ([]*ir.ActionTrace, error) {
	rows, err := l.db.QueryContext(ctx, selectActions+`
		WHERE a.parent_id = ?
		ORDER BY a.seq ASC, a.id COLLATE BINARY ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query children of %s: %w", parentID, err)
	}
	defer rows.Close()

	traces := []*ir.ActionTrace{}
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return traces, nil
}

// HandlerStat aggregates handler steps for one store handler.
type HandlerStat struct {
	Store  string
	Name   string
	Runs   int
	Errors int
}

// HandlerStats returns per-handler run and error counts ordered by store
// and handler name.
func (l *Log) HandlerStats(ctx context.Context) ([]HandlerStat, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT store, name, COUNT(*), COUNT(error)
		FROM handlers
		GROUP BY store, name
		ORDER BY store COLLATE BINARY ASC, name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query handler stats: %w", err)
	}
	defer rows.Close()

	stats := []HandlerStat{}
	for rows.Next() {
		var s HandlerStat
		if err := rows.Scan(&s.Store, &s.Name, &s.Runs, &s.Errors); err != nil {
			return nil, fmt.Errorf("scan handler stat: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handler stats: %w", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanTrace rebuilds a record and checks it against its stored digest.
func scanTrace(row scanner) (*ir.ActionTrace, error) {
	var (
		id, parentID, parentHandler, digest, record string
		seq                                         int64
	)
	if err := row.Scan(&id, &seq, &parentID, &parentHandler, &digest, &record); err != nil {
		return nil, err
	}

	t, err := unmarshalRecord(record)
	if err != nil {
		return nil, fmt.Errorf("trace %s: %w", id, err)
	}
	t.ID = id
	t.Seq = seq
	t.ParentID = parentID
	t.ParentHandler = parentHandler

	got, err := ir.TraceDigest(t)
	if err != nil {
		return nil, fmt.Errorf("trace %s: %w", id, err)
	}
	if got != digest {
		return nil, fmt.Errorf("trace %s: digest mismatch: stored %s, computed %s", id, digest, got)
	}
	return t, nil
}
