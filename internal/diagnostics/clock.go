package diagnostics

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Sequencer stamps trace records with a strictly increasing seq.
// Implemented by Clock (production) and testutil.DeterministicClock.
type Sequencer interface {
	Next() int64
}

// Clock is a monotonic logical clock. Records are ordered by seq, never by
// wall-clock time.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start.
// Used to continue numbering after records loaded from a trace log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// IDGenerator generates trace record IDs.
// Implemented by UUIDv7Generator (production) and testutil generators.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 record IDs.
//
// Format: "0192d1f0-7b8a-7c3e-9f00-1a2b3c4d5e6f" (36 characters)
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
