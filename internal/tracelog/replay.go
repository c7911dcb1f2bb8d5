package tracelog

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/marty/internal/ir"
)

// Dispatcher dispatches a replayed action with its original creator
// attribution.
type Dispatcher interface {
	Dispatch(action ir.Action, creator ir.Creator) error
}

// Observer exposes the records produced while replaying one action.
// diagnostics.Recorder satisfies it.
type Observer interface {
	All() []*ir.ActionTrace
	Reset()
}

// Divergence describes a replayed action whose records differ from the
// stored ones.
type Divergence struct {
	ID     string `json:"id"`
	Seq    int64  `json:"seq"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ReplayResult summarizes a replay run.
type ReplayResult struct {
	Replayed  int          `json:"replayed"`
	Matched   int          `json:"matched"`
	Diverged  []Divergence `json:"diverged"`
	Completed bool         `json:"completed"`
}

// Replay re-dispatches every stored top-level action in seq order and
// compares the records the observer captures against the stored record
// and its nested descendants, by trace digest.
//
// The target app should start from the same initial state the log was
// recorded from. Nested actions are not dispatched directly; the handlers
// that issued them are expected to issue them again.
func (l *Log) Replay(ctx context.Context, d Dispatcher, obs Observer) (ReplayResult, error) {
	result := ReplayResult{Diverged: []Divergence{}}

	roots, err := l.List(ctx, Filter{TopLevel: true})
	if err != nil {
		return result, fmt.Errorf("replay: %w", err)
	}

	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("replay: %w", err)
		}

		want, err := l.descendants(ctx, root)
		if err != nil {
			return result, fmt.Errorf("replay: %w", err)
		}

		obs.Reset()
		dispatchErr := d.Dispatch(root.Action(), root.Creator)
		got := obs.All()
		result.Replayed++

		if reason := compare(want, got, dispatchErr); reason != "" {
			result.Diverged = append(result.Diverged, Divergence{
				ID:     root.ID,
				Seq:    root.Seq,
				Type:   root.Type,
				Reason: reason,
			})
			l.logger.Warn("replay diverged", "id", root.ID, "action", root.Type, "reason", reason)
			continue
		}
		result.Matched++
	}

	result.Completed = true
	return result, nil
}

// descendants returns root followed by every record nested under it,
// in seq order.
func (l *Log) descendants(ctx context.Context, root *ir.ActionTrace) ([]*ir.ActionTrace, error) {
	out := []*ir.ActionTrace{root}
	queue := []string{root.ID}
	for len(queue) > 0 {
		children, err := l.Children(ctx, queue[0])
		if err != nil {
			return nil, err
		}
		queue = queue[1:]
		for _, c := range children {
			out = append(out, c)
			queue = append(queue, c.ID)
		}
	}
	slices.SortStableFunc(out, func(a, b *ir.ActionTrace) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out, nil
}

func compare(want, got []*ir.ActionTrace, dispatchErr error) string {
	if dispatchErr != nil {
		return fmt.Sprintf("dispatch failed: %v", dispatchErr)
	}
	if len(want) != len(got) {
		return fmt.Sprintf("record count: stored %d, replayed %d", len(want), len(got))
	}
	for i := range want {
		w, err := ir.TraceDigest(want[i])
		if err != nil {
			return err.Error()
		}
		g, err := ir.TraceDigest(got[i])
		if err != nil {
			return err.Error()
		}
		if w != g {
			return fmt.Sprintf("record %d (%s): digest %s, replayed %s", i, want[i].Type, short(w), short(g))
		}
	}
	return ""
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
