package diagnostics

import (
	"slices"
	"sync"

	"github.com/roach88/marty/internal/ir"
)

// Sink receives finalized trace records.
//
// Record must be inert: it must not panic and has no error return. The
// tracer guards itself with SafeRecord anyway.
type Sink interface {
	Record(trace *ir.ActionTrace)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(trace *ir.ActionTrace)

func (f SinkFunc) Record(trace *ir.ActionTrace) { f(trace) }

// NopSink discards all records.
type NopSink struct{}

func (NopSink) Record(*ir.ActionTrace) {}

// SafeRecord delivers a record and swallows sink panics.
func SafeRecord(s Sink, trace *ir.ActionTrace) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(trace)
}

// Recorder is the in-memory action store: it keeps every record it
// receives and answers First/Latest/All queries.
//
// All, First and ByType order by Seq, the dispatch order. A nested action
// completes (and arrives) before the action that dispatched it but carries
// a higher Seq. Latest orders by arrival, the completion order.
type Recorder struct {
	mu          sync.Mutex
	records     []*ir.ActionTrace
	unsubscribe func()
}

// NewRecorder returns a detached recorder. Attach it with Tracer.Subscribe
// or use Tracer.NewRecorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Record implements Sink.
func (r *Recorder) Record(trace *ir.ActionTrace) {
	if r == nil || trace == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, trace)
}

// All returns the records ordered by Seq.
func (r *Recorder) All() []*ir.ActionTrace {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.records)
	slices.SortStableFunc(out, func(a, b *ir.ActionTrace) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// First returns the earliest record, or nil.
func (r *Recorder) First() *ir.ActionTrace {
	all := r.All()
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// Latest returns the most recently completed record, or nil. After a
// top-level action that dispatched nested ones, that is the top-level
// record.
func (r *Recorder) Latest() *ir.ActionTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

// Len returns the number of records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ByType returns the records of one action type, ordered by Seq.
func (r *Recorder) ByType(actionType string) []*ir.ActionTrace {
	var out []*ir.ActionTrace
	for _, t := range r.All() {
		if t.Type == actionType {
			out = append(out, t)
		}
	}
	return out
}

// Reset drops all records but stays subscribed.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}

// Dispose unsubscribes the recorder and drops its records. Idempotent.
func (r *Recorder) Dispose() {
	r.mu.Lock()
	unsub := r.unsubscribe
	r.unsubscribe = nil
	r.records = nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
