// Package metrics builds the per-request stage-timing bag a PQL response's
// "metrics" field reports: how long compiling, executing the
// results query and executing the count query each took, plus row/CTE
// counts. A collaborator can swap the no-op default emitter for a real
// backend via RegisterEmitter; nothing in this package depends on one being
// present.
package metrics

import (
	"context"
	"sync"
	"time"
)

// Stage names one phase of a single query's lifecycle.
type Stage string

const (
	StagePreprocess Stage = "preprocess"
	StageCompile    Stage = "compile"
	StageResults    Stage = "results_query"
	StageCount      Stage = "count_query"
)

// Bag accumulates one request's stage timings and row/CTE counts. A fresh
// Bag is created per incoming request; nothing about it is shared across
// requests, so it needs no synchronization beyond what a single handler
// goroutine already provides - the mutex exists only so a handler may safely
// hand the same Bag to a background emitter goroutine.
type Bag struct {
	mu       sync.Mutex
	Stages   map[Stage]time.Duration
	RowCount int
	CteCount int
}

// NewBag starts an empty stage-timing bag.
func NewBag() *Bag {
	return &Bag{Stages: make(map[Stage]time.Duration)}
}

// Record stores how long stage took. Calling Record twice for the same
// stage overwrites the prior value; the compiler never runs a stage twice
// per request, so this is a last-write-wins convenience, not a sum.
func (b *Bag) Record(stage Stage, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Stages[stage] = d
}

// Time runs fn, records its elapsed wall time under stage, and returns
// whatever fn returned.
func Time[T any](b *Bag, stage Stage, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	b.Record(stage, time.Since(start))
	return result, err
}

// Snapshot renders the bag as the JSON-ready map a PQL response embeds under
// "metrics": stage names to elapsed milliseconds, plus row_count/cte_count.
func (b *Bag) Snapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.Stages)+2)
	for stage, d := range b.Stages {
		out[string(stage)+"_ms"] = float64(d.Microseconds()) / 1000.0
	}
	out["row_count"] = b.RowCount
	out["cte_count"] = b.CteCount
	return out
}

// Emitter is the hook signature a collaborator registers to forward a
// completed Bag to a real metrics backend (Prometheus, StatsD, ...).
// Registering nil restores the no-op default.
type Emitter func(ctx context.Context, namespace string, bag *Bag)

var (
	mu   sync.Mutex
	impl Emitter = func(context.Context, string, *Bag) {}
)

// RegisterEmitter installs fn as the process-wide metrics emitter.
func RegisterEmitter(fn Emitter) {
	mu.Lock()
	defer mu.Unlock()
	if fn == nil {
		impl = func(context.Context, string, *Bag) {}
		return
	}
	impl = fn
}

// Emit forwards bag to the currently registered emitter.
func Emit(ctx context.Context, namespace string, bag *Bag) {
	mu.Lock()
	fn := impl
	mu.Unlock()
	fn(ctx, namespace, bag)
}
