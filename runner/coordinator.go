// ABOUTME: Coordinator guarantees at most one live analysis per build and lets
// ABOUTME: clients attach as watchers instead of starting duplicate runs.
package runner

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vakwetu/rca-mcp/core"
	"github.com/vakwetu/rca-mcp/store"
)

// PipelineFunc executes one full analysis for a build, emitting events
// through the run handle. It must emit the terminal status event itself
// and return a non-nil error only when the run failed.
type PipelineFunc func(ctx context.Context, build string, run *Run) error

// Coordinator is the single entry point for starting and observing analyses.
// The runs table is the authority on what is in flight; the store is the
// authority on what already finished.
type Coordinator struct {
	store    *store.Store
	pipeline PipelineFunc

	mu   sync.Mutex
	runs map[string]*Run
	wg   sync.WaitGroup
}

// NewCoordinator creates a coordinator executing pipeline for each new build.
func NewCoordinator(st *store.Store, pipeline PipelineFunc) *Coordinator {
	return &Coordinator{
		store:    st,
		pipeline: pipeline,
		runs:     make(map[string]*Run),
	}
}

// Submit ensures an analysis exists for the build. It returns the build's
// status: a terminal status when a finished report is already available,
// or PENDING when a run is in flight (pre-existing or started here).
// The check-and-set on the runs table is atomic: concurrent submissions for
// the same build can never start two pipelines.
func (c *Coordinator) Submit(ctx context.Context, build string) (core.BuildStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, running := c.runs[build]; running {
		return core.StatusPending, nil
	}

	rec, err := c.store.GetOrCreate(build)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", build, err)
	}
	if rec.Status.Terminal() {
		return rec.Status, nil
	}

	// A PENDING record with no live run is a leftover from an interrupted
	// process. Start fresh; the partial log must not leak into the new
	// run's replay.
	if err := c.store.ClearEvents(build); err != nil {
		return "", fmt.Errorf("submit %s: %w", build, err)
	}

	run := newRun(build, newRunID(), c.store)
	c.runs[build] = run

	// The run outlives the submitting request: detach its cancellation while
	// keeping the caller's context values.
	c.wg.Add(1)
	go c.execute(context.WithoutCancel(ctx), run)

	return core.StatusPending, nil
}

// Watch attaches an observer to the build's live run. It reports false when
// no run is in flight; the caller should then read the durable log instead.
func (c *Coordinator) Watch(build string) (<-chan core.Event, func(), bool) {
	c.mu.Lock()
	run, ok := c.runs[build]
	c.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	ch, cancel := run.Watch()
	return ch, cancel, true
}

// Running reports whether a live run exists for the build.
func (c *Coordinator) Running(build string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.runs[build]
	return ok
}

// Clear removes the build's registry record and event log. An in-flight run
// is detached, not cancelled: it finishes on its own, its remaining events
// are discarded, and no status transition is recorded for it.
func (c *Coordinator) Clear(build string) error {
	c.mu.Lock()
	if run, ok := c.runs[build]; ok {
		run.detach()
		delete(c.runs, build)
	}
	c.mu.Unlock()

	return c.store.Clear(build)
}

// Wait blocks until every in-flight run has terminated. Used at shutdown
// and by tests; new submissions during Wait are not accounted for.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// execute drives one pipeline run to its terminal state and releases the
// handle. The pipeline emits the terminal status event; the registry
// transition happens here, after it, unless the run was detached.
func (c *Coordinator) execute(ctx context.Context, run *Run) {
	defer c.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("run %s: panic: %v", run.ID, rec)
			run.Emit(core.ErrorText(fmt.Sprintf("internal error: %v", rec)))
			run.Emit(core.Status(fmt.Sprintf("Analysis failed: internal error: %v", rec)))
			c.settle(run, core.StatusFailed)
		}
	}()

	run.Emit(core.RunID(run.ID))
	err := c.pipeline(ctx, run.Build, run)

	status := core.StatusDone
	if err != nil {
		log.Printf("run %s: build %s failed: %v", run.ID, run.Build, err)
		status = core.StatusFailed
	}
	c.settle(run, status)
}

// settle records the terminal registry status, removes the run from the
// live table, and closes all watcher channels.
func (c *Coordinator) settle(run *Run, status core.BuildStatus) {
	if !run.Detached() {
		if err := c.store.SetStatus(run.Build, status); err != nil {
			log.Printf("run %s: record status %s: %v", run.ID, status, err)
		}
	}

	c.mu.Lock()
	// The table entry may already be gone (or replaced) after a Clear.
	if current, ok := c.runs[run.Build]; ok && current == run {
		delete(c.runs, run.Build)
	}
	c.mu.Unlock()

	run.finish()
}

var runEntropy = rand.New(rand.NewSource(time.Now().UnixNano()))
var runEntropyMu sync.Mutex

// newRunID returns a lexicographically sortable run identifier.
func newRunID() string {
	runEntropyMu.Lock()
	defer runEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), runEntropy).String()
}
