package dispatcher

import "github.com/roach88/marty/internal/ir"

// DefaultMaxDepth is the default maximum nesting of re-entrant dispatches.
const DefaultMaxDepth = 100

// depthGuard tracks the nesting of the running dispatch chain and
// enforces the maximum depth.
//
// Catches handlers that dispatch an action which (directly or through
// other stores) reaches themselves again: A -> B -> A -> ...
type depthGuard struct {
	maxDepth int
	current  int
}

func newDepthGuard(maxDepth int) *depthGuard {
	return &depthGuard{maxDepth: maxDepth}
}

// enter increments the depth and validates it against the limit.
// A failed enter leaves the depth unchanged.
func (g *depthGuard) enter(actionType string) (int, error) {
	if g.current+1 > g.maxDepth {
		return g.current, ir.Errorf(ir.KindDispatchDepthExceeded, actionType,
			"dispatch depth %d exceeds limit %d", g.current+1, g.maxDepth)
	}
	g.current++
	return g.current, nil
}

func (g *depthGuard) leave() {
	if g.current > 0 {
		g.current--
	}
}

// Depth returns the current nesting depth. Zero when idle.
func (g *depthGuard) Depth() int {
	return g.current
}
