// ABOUTME: Run is one live pipeline execution: it fans events out to the durable log
// ABOUTME: and to every attached watcher, with history replay for late joiners.
package runner

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/vakwetu/rca-mcp/core"
)

// watcherBuffer is the live-event headroom of a watcher channel beyond the
// replayed history. A watcher that falls further behind starts losing live
// events; it can always rejoin via the durable log.
const watcherBuffer = 64

// Sink receives every event a run produces, before any watcher does.
// The store's append is the canonical Sink.
type Sink interface {
	Append(build string, ev core.Event) error
}

// Run is the handle for one in-flight analysis. It owns the run's event
// history and the set of attached watcher channels.
type Run struct {
	Build string
	ID    string

	sink Sink

	mu       sync.Mutex
	history  []core.Event
	watchers map[string]chan core.Event
	closed   bool
	detached bool
}

// newRun creates a handle for a build. Events are appended through sink
// until the run is detached or finished.
func newRun(build, id string, sink Sink) *Run {
	return &Run{
		Build:    build,
		ID:       id,
		sink:     sink,
		watchers: make(map[string]chan core.Event),
	}
}

// Emit records an event and delivers it to the sink and all watchers.
// Delivery to a watcher is best-effort: a full channel drops the event
// rather than blocking the pipeline or other watchers.
func (r *Run) Emit(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.history = append(r.history, ev)
	if !r.detached {
		if err := r.sink.Append(r.Build, ev); err != nil {
			log.Printf("run %s: append %s event: %v", r.ID, ev.EventKind(), err)
		}
	}

	for id, ch := range r.watchers {
		select {
		case ch <- ev:
		default:
			log.Printf("run %s: watcher %s lagging, dropped %s event", r.ID, id, ev.EventKind())
		}
	}
}

// Watch attaches a new watcher. The returned channel first yields a replay
// of every event the run has produced so far, in order and without gaps,
// then live events until the run finishes and the channel is closed.
// The cancel function detaches the watcher early.
func (r *Run) Watch() (<-chan core.Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Size the buffer for the full replay plus live headroom so the replay
	// can be queued without blocking while still holding the lock. Holding
	// the lock across the replay is what makes the replay/live boundary
	// gap-free and duplicate-free.
	ch := make(chan core.Event, len(r.history)+watcherBuffer)
	for _, ev := range r.history {
		ch <- ev
	}

	if r.closed {
		close(ch)
		return ch, func() {}
	}

	id := uuid.NewString()
	r.watchers[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if w, ok := r.watchers[id]; ok {
			delete(r.watchers, id)
			close(w)
		}
	}
	return ch, cancel
}

// History returns a snapshot of the events produced so far.
func (r *Run) History() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Event, len(r.history))
	copy(out, r.history)
	return out
}

// detach stops the run from appending further events to the sink. Watchers
// keep receiving live events; the pipeline finishes undisturbed.
func (r *Run) detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = true
}

// Detached reports whether the run was detached by a cache clear.
func (r *Run) Detached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detached
}

// finish closes all watcher channels. The terminal status event must have
// been emitted before calling finish, so every watcher observes it first.
func (r *Run) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.watchers {
		delete(r.watchers, id)
		close(ch)
	}
}
