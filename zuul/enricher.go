// ABOUTME: Job metadata enrichment: describes the failed Zuul job from the weeder
// ABOUTME: export and links its definition files.
package zuul

import (
	"context"
	"fmt"
	"strings"

	"github.com/vakwetu/rca-mcp/core"
	"github.com/vakwetu/rca-mcp/pipeline"
)

// Enricher adds the job, playbooks and source_map sections to an analysis,
// resolved from the weeder export for the errors report's target job.
type Enricher struct {
	Client *Client
}

func NewEnricher(client *Client) *Enricher {
	return &Enricher{Client: client}
}

func (e *Enricher) Name() string { return "zuul" }

// Enrich looks the target job up and emits its description, the chain of
// definition files, and their browsable URLs. An unknown job degrades with
// an error event; nothing is added to the final report object itself.
func (e *Enricher) Enrich(ctx context.Context, _ string, errors *core.ErrorsReport, _ core.Report, emit pipeline.Emitter) (pipeline.Amend, error) {
	emit.Emit(core.Progress(fmt.Sprintf("Describing job %s...", errors.Target)))

	info, err := e.Client.Info(ctx)
	if err != nil {
		return nil, err
	}

	lineage := info.Lineage(errors.Target)
	if len(lineage) == 0 {
		emit.Emit(core.ErrorText(fmt.Sprintf("Couldn't find job %s", errors.Target)))
		return nil, nil
	}

	emit.Emit(describeJob(lineage))

	paths := make(core.Playbooks, 0, len(lineage))
	sources := make(core.SourceMap, len(lineage))
	for _, job := range lineage {
		paths = append(paths, job.Path)
		if url := info.JobURL(job.Name, ""); url != "" {
			sources[job.Path] = url
		}
	}
	emit.Emit(paths)
	if len(sources) > 0 {
		emit.Emit(sources)
	}
	return nil, nil
}

// describeJob summarizes a job's definition chain, nearest job first.
func describeJob(lineage []JobInfo) core.Job {
	job := lineage[0]
	var desc strings.Builder
	fmt.Fprintf(&desc, "Zuul job %s from project %s, defined in %s.", job.Name, job.Project, job.Path)
	if len(lineage) > 1 {
		parents := make([]string, 0, len(lineage)-1)
		for _, parent := range lineage[1:] {
			parents = append(parents, parent.Name)
		}
		fmt.Fprintf(&desc, " Inherits from %s.", strings.Join(parents, " -> "))
	}

	actions := make([]string, 0, len(lineage))
	for _, j := range lineage {
		actions = append(actions, fmt.Sprintf("%s (%s)", j.Path, j.Project))
	}
	return core.Job{Description: desc.String(), Actions: actions}
}
