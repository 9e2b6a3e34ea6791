// Package progress carries throttled progress events from the executor to
// whatever is rendering them. Events are emitted at a bounded cadence, not
// per I/O call, and cumulative byte counts never decrease.
package progress

import (
	"sync"
	"time"
)

// Event is one progress report for a plan.
type Event struct {
	PlanID     string
	StepIndex  int
	StepLabel  string
	BytesDone  int64
	BytesTotal int64
	Done       bool
}

// Consumer receives events. It is called from the plan's worker goroutine
// and should return quickly.
type Consumer func(Event)

// DefaultInterval is the minimum gap between throttled emissions.
const DefaultInterval = 100 * time.Millisecond

// Emitter rate-limits events toward a single consumer. Step boundaries and
// the final event always go through; intermediate byte updates are dropped
// when they arrive faster than the interval.
type Emitter struct {
	consumer Consumer
	interval time.Duration

	mu        sync.Mutex
	last      time.Time
	lastBytes int64
}

// NewEmitter creates an Emitter. A nil consumer yields a no-op emitter; a
// non-positive interval disables throttling.
func NewEmitter(consumer Consumer, interval time.Duration) *Emitter {
	return &Emitter{consumer: consumer, interval: interval}
}

// Emit forwards ev if enough time has passed since the last emission.
func (e *Emitter) Emit(ev Event) {
	e.send(ev, false)
}

// Force forwards ev unconditionally. Used at step boundaries and terminal
// events so consumers always see the final state.
func (e *Emitter) Force(ev Event) {
	e.send(ev, true)
}

func (e *Emitter) send(ev Event, force bool) {
	if e == nil || e.consumer == nil {
		return
	}

	e.mu.Lock()
	now := time.Now()
	if !force && e.interval > 0 && now.Sub(e.last) < e.interval {
		e.mu.Unlock()
		return
	}
	// Keep the reported byte count monotonic even if steps report
	// out of order around a boundary.
	if ev.BytesDone < e.lastBytes {
		ev.BytesDone = e.lastBytes
	}
	e.last = now
	e.lastBytes = ev.BytesDone
	e.mu.Unlock()

	e.consumer(ev)
}
