// ABOUTME: Tests for weeder export decoding, provider URL mapping, and the job
// ABOUTME: metadata enricher.
package zuul

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vakwetu/rca-mcp/core"
)

const sampleExport = `{
	"jobs": {
		"tox-py311": [
			[
				{
					"branch": "main",
					"path": "zuul.d/jobs.yaml",
					"project": {"project": "sf-operator", "provider": "gitlab.com"},
					"url": {"contents": "https://gitlab.com/", "tag": "GitlabUrl"}
				},
				{"parent": "tox-base"}
			]
		],
		"tox-base": [
			[
				{
					"branch": "master",
					"path": "playbooks/base.yaml",
					"project": {"project": "zuul/zuul-jobs", "provider": "opendev.org"},
					"url": {"contents": "https://opendev.org", "tag": "GitUrl"}
				},
				{}
			]
		],
		"feature-branch-only": [
			[
				{
					"branch": "feature",
					"path": "zuul.d/other.yaml",
					"project": {"project": "x", "provider": "gitlab.com"},
					"url": {"contents": "https://gitlab.com/", "tag": "GitlabUrl"}
				},
				{}
			]
		]
	}
}`

func TestDecodeExport(t *testing.T) {
	info, err := DecodeExport(json.RawMessage(sampleExport))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	job, ok := info.Jobs["tox-py311"]
	if !ok {
		t.Fatal("expected tox-py311 in export")
	}
	if job.Parent != "tox-base" || job.Path != "zuul.d/jobs.yaml" || job.Project != "sf-operator" {
		t.Errorf("unexpected job: %#v", job)
	}

	if _, ok := info.Jobs["feature-branch-only"]; ok {
		t.Error("jobs without a main/master variant must be skipped")
	}

	provider := info.Providers["gitlab.com"]
	if provider.Kind != "GitlabUrl" || provider.URL != "https://gitlab.com" {
		t.Errorf("unexpected provider: %#v", provider)
	}
}

func TestProviderHTTPURL(t *testing.T) {
	cases := []struct {
		provider ProviderInfo
		want     string
	}{
		{
			ProviderInfo{Kind: "GitlabUrl", URL: "https://gitlab.com"},
			"https://gitlab.com/p/-/blob/main/zuul.d/jobs.yaml",
		},
		{
			ProviderInfo{Kind: "GithubUrl", URL: "https://github.com"},
			"https://github.com/p/blob/main/zuul.d/jobs.yaml",
		},
		{
			ProviderInfo{Kind: "GerritUrl", URL: "https://review.opendev.org"},
			"https://opendev.org/p/src/branch/main/zuul.d/jobs.yaml",
		},
		{
			ProviderInfo{Kind: "GerritUrl", URL: "https://softwarefactory-project.io/r"},
			"https://softwarefactory-project.io/cgit/p/tree/zuul.d/jobs.yaml?h=main",
		},
		{
			ProviderInfo{Kind: "GitUrl", URL: "https://opendev.org"},
			"https://opendev.org/p/src/branch/main/zuul.d/jobs.yaml",
		},
		{
			ProviderInfo{Kind: "GitUrl", URL: "https://example.com"},
			"",
		},
		{
			ProviderInfo{Kind: "SvnUrl", URL: "https://example.com"},
			"",
		},
	}
	for _, c := range cases {
		got := c.provider.HTTPURL("p", "main", "zuul.d/jobs.yaml")
		if got != c.want {
			t.Errorf("%s %s: got %q, want %q", c.provider.Kind, c.provider.URL, got, c.want)
		}
	}
}

func TestJobURLAndLineage(t *testing.T) {
	info, err := DecodeExport(json.RawMessage(sampleExport))
	if err != nil {
		t.Fatal(err)
	}

	if got := info.JobURL("tox-py311", ""); got != "https://gitlab.com/sf-operator/-/blob/main/zuul.d/jobs.yaml" {
		t.Errorf("unexpected job url: %q", got)
	}
	if got := info.JobURL("no-such-job", ""); got != "" {
		t.Errorf("expected empty url for unknown job, got %q", got)
	}

	lineage := info.Lineage("tox-py311")
	if len(lineage) != 2 || lineage[0].Name != "tox-py311" || lineage[1].Name != "tox-base" {
		t.Errorf("unexpected lineage: %#v", lineage)
	}
}

type collector struct {
	mu     sync.Mutex
	events []core.Event
}

func (c *collector) Emit(ev core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) all() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Event, len(c.events))
	copy(out, c.events)
	return out
}

func newWeederStub(t *testing.T) (*Client, *int) {
	t.Helper()
	var fetches int
	mux := http.NewServeMux()
	mux.HandleFunc("/weeder/export", func(w http.ResponseWriter, _ *http.Request) {
		fetches++
		fmt.Fprint(w, sampleExport)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewClient(server.URL), &fetches
}

func TestEnricherEmitsJobSections(t *testing.T) {
	client, fetches := newWeederStub(t)
	enricher := NewEnricher(client)

	out := &collector{}
	errors := &core.ErrorsReport{Target: "tox-py311"}
	amend, err := enricher.Enrich(context.Background(), "b", errors, core.Report{}, out)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if amend != nil {
		t.Error("job enrichment must not amend the report object")
	}

	var job *core.Job
	var playbooks core.Playbooks
	var sources core.SourceMap
	for _, ev := range out.all() {
		switch v := ev.(type) {
		case core.Job:
			job = &v
		case core.Playbooks:
			playbooks = v
		case core.SourceMap:
			sources = v
		}
	}
	if job == nil {
		t.Fatalf("expected a job event, got %#v", out.all())
	}
	if len(playbooks) != 2 || playbooks[0] != "zuul.d/jobs.yaml" || playbooks[1] != "playbooks/base.yaml" {
		t.Errorf("unexpected playbooks: %#v", playbooks)
	}
	if sources["zuul.d/jobs.yaml"] != "https://gitlab.com/sf-operator/-/blob/main/zuul.d/jobs.yaml" {
		t.Errorf("unexpected source map: %#v", sources)
	}

	// The export is cached across enrichments.
	if _, err := enricher.Enrich(context.Background(), "b2", errors, core.Report{}, &collector{}); err != nil {
		t.Fatal(err)
	}
	if *fetches != 1 {
		t.Errorf("expected one weeder fetch, got %d", *fetches)
	}
}

func TestEnricherUnknownJobDegrades(t *testing.T) {
	client, _ := newWeederStub(t)
	enricher := NewEnricher(client)

	out := &collector{}
	errors := &core.ErrorsReport{Target: "no-such-job"}
	amend, err := enricher.Enrich(context.Background(), "b", errors, core.Report{}, out)
	if err != nil || amend != nil {
		t.Fatalf("unknown job must degrade quietly: amend=%v err=%v", amend, err)
	}

	var sawMissing bool
	for _, ev := range out.all() {
		if txt, ok := ev.(core.ErrorText); ok && txt == "Couldn't find job no-such-job" {
			sawMissing = true
		}
		if ev.EventKind() == core.KindJob {
			t.Errorf("no job event expected for an unknown job: %#v", ev)
		}
	}
	if !sawMissing {
		t.Errorf("expected a missing-job notice, got %#v", out.all())
	}
}

func TestClientServesStaleCopyOnRefreshFailure(t *testing.T) {
	var healthy = true
	mux := http.NewServeMux()
	mux.HandleFunc("/weeder/export", func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, sampleExport)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	client.TTL = time.Nanosecond

	if _, err := client.Info(context.Background()); err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	healthy = false
	info, err := client.Info(context.Background())
	if err != nil {
		t.Fatalf("expected stale copy, got error: %v", err)
	}
	if _, ok := info.Jobs["tox-py311"]; !ok {
		t.Error("stale copy lost its contents")
	}
}
