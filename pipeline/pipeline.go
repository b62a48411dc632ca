// ABOUTME: The analysis state machine: fetch logs, extract errors, summarize with
// ABOUTME: the LLM, enrich concurrently, assemble the final report.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vakwetu/rca-mcp/core"
)

// Emitter receives events as the pipeline produces them. A run handle is the
// canonical Emitter; tests substitute an in-memory collector.
type Emitter interface {
	Emit(ev core.Event)
}

// LogSource retrieves and decodes the error analysis for a build's logs.
// Fetch covers the slow part (report creation and polling) and may emit
// progress and logjuicer_url events along the way; Extract is pure decoding.
type LogSource interface {
	Fetch(ctx context.Context, build string, emit Emitter) (json.RawMessage, error)
	Extract(raw json.RawMessage) (*core.ErrorsReport, error)
}

// Analyzer turns an errors report into a root-cause summary. Incremental
// output is emitted as chunk events, in order; the returned report carries
// the assembled result and the token usage of the call.
type Analyzer interface {
	Summarize(ctx context.Context, errors *core.ErrorsReport, emit Emitter) (core.Report, core.Usage, error)
}

// Amend applies an enrichment result to the report during assembly.
// A nil Amend means the enricher contributed only events.
type Amend func(*core.Report)

// Enricher adds one best-effort section to the analysis. Failures degrade
// the report instead of failing the run.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, build string, errors *core.ErrorsReport, report core.Report, emit Emitter) (Amend, error)
}

// Timeouts bound each collaborator call. A timeout counts as that stage's
// failure, except for enrichment which degrades.
type Timeouts struct {
	Fetch     time.Duration
	Summarize time.Duration
	Enrich    time.Duration
}

// DefaultTimeouts suit a LogJuicer instance that may have to ingest a large
// build from scratch and an LLM call streaming a long summary.
var DefaultTimeouts = Timeouts{
	Fetch:     15 * time.Minute,
	Summarize: 10 * time.Minute,
	Enrich:    3 * time.Minute,
}

// Pipeline wires the collaborators for one kind of analysis. It is stateless
// across runs; any number of builds can run through it in parallel.
type Pipeline struct {
	Logs      LogSource
	Analyzer  Analyzer
	Enrichers []Enricher
	Timeouts  Timeouts
}

func New(logs LogSource, analyzer Analyzer, enrichers ...Enricher) *Pipeline {
	return &Pipeline{
		Logs:      logs,
		Analyzer:  analyzer,
		Enrichers: enrichers,
		Timeouts:  DefaultTimeouts,
	}
}

// Run drives one build through the full state machine. Stage failures are
// converted to an error event plus a terminal status event before returning;
// on success the terminal "completed" status is the last event emitted.
func (p *Pipeline) Run(ctx context.Context, build string, emit Emitter) error {
	emit.Emit(core.Progress("Fetching build errors..."))
	fetchCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Fetch)
	raw, err := p.Logs.Fetch(fetchCtx, build, emit)
	cancel()
	if err != nil {
		return fail(emit, "fetching logs", err)
	}

	errors, err := p.Logs.Extract(raw)
	if err != nil {
		return fail(emit, "extracting errors", err)
	}
	if errors.LogURL != "" {
		emit.Emit(core.LogURL(errors.LogURL))
	}
	emit.Emit(core.Progress(fmt.Sprintf(
		"Found %d errors in %d log files", errors.ErrorCount(), len(errors.LogFiles))))

	emit.Emit(core.Progress(fmt.Sprintf("Summarizing failure of %s...", errors.Target)))
	sumCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Summarize)
	report, usage, err := p.Analyzer.Summarize(sumCtx, errors, emit)
	cancel()
	if err != nil {
		return fail(emit, "summarizing", err)
	}
	emit.Emit(usage)

	amends := p.enrich(ctx, build, errors, report, emit)

	for _, amend := range amends {
		amend(&report)
	}
	emit.Emit(report)
	emit.Emit(core.StatusCompleted)
	return nil
}

// enrich fans the enrichers out concurrently and collects their report
// amendments. A failed or timed-out enricher degrades: its section is
// omitted and the failure is reported as an error event, not a run failure.
func (p *Pipeline) enrich(ctx context.Context, build string, errors *core.ErrorsReport, report core.Report, emit Emitter) []Amend {
	if len(p.Enrichers) == 0 {
		return nil
	}

	amends := make([]Amend, len(p.Enrichers))
	var group errgroup.Group
	for i, enricher := range p.Enrichers {
		group.Go(func() error {
			enrichCtx, cancel := context.WithTimeout(ctx, p.Timeouts.Enrich)
			defer cancel()

			amend, err := enricher.Enrich(enrichCtx, build, errors, report, emit)
			if err != nil {
				log.Printf("build %s: %s enrichment skipped: %v", build, enricher.Name(), err)
				emit.Emit(core.ErrorText(fmt.Sprintf("%s enrichment skipped: %v", enricher.Name(), err)))
				return nil
			}
			amends[i] = amend
			return nil
		})
	}
	_ = group.Wait()

	kept := make([]Amend, 0, len(amends))
	for _, amend := range amends {
		if amend != nil {
			kept = append(kept, amend)
		}
	}
	return kept
}

// fail records a stage failure as events and returns the wrapped error.
// The status event is terminal: nothing may be emitted after it.
func fail(emit Emitter, stage string, err error) error {
	emit.Emit(core.ErrorText(fmt.Sprintf("%s: %v", stage, err)))
	emit.Emit(core.Status(fmt.Sprintf("Analysis failed: %v", err)))
	return fmt.Errorf("%s: %w", stage, err)
}
