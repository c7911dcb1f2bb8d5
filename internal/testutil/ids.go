package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDGenerator yields "<prefix>-1", "<prefix>-2", ... so golden
// traces do not depend on UUIDv7 timestamps.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDGenerator creates a generator. Empty prefix means "trace".
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "trace"
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *SequentialIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
