// ABOUTME: Tests for the LogJuicer client: create/poll/download flow, report
// ABOUTME: decoding, and prompt rendering.
package logjuicer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/vakwetu/rca-mcp/core"
)

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

const sampleReport = `{
	"target": {"Zuul": {"job_name": "tox", "log_url": "https://logs.example.com/build/123/"}},
	"log_reports": [
		{
			"source": {"RawFile": {"Remote": [12, "example.com/zuul/overcloud.log"]}},
			"anomalies": [
				{"before": [], "anomaly": {"line": "oops", "pos": 42}, "after": []}
			]
		},
		{
			"source": {"TarFile": [{"Remote": [12, "example.com/logs.tar.gz"]}, 0, "inner/service.log"]},
			"anomalies": [
				{"before": ["ctx1"], "anomaly": {"line": "panic", "pos": 7}, "after": ["ctx2"]}
			]
		}
	]
}`

func newLogJuicerStub(t *testing.T, pendingPolls int) (*Client, *int) {
	t.Helper()
	var creations int
	mux := http.NewServeMux()
	mux.HandleFunc("/logjuicer/api/report/new", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.URL.Query().Get("errors") != "true" {
			t.Errorf("expected errors=true, got %q", r.URL.RawQuery)
		}
		creations++
		status := "Completed"
		if creations <= pendingPolls {
			status = "Pending"
		}
		fmt.Fprintf(w, `[1, %q]`, status)
	})
	mux.HandleFunc("/logjuicer/api/report/1/json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sampleReport)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewClient(server.URL)
	client.Poll = 5 * time.Millisecond
	return client, &creations
}

func TestFetchPollsUntilCompleted(t *testing.T) {
	client, creations := newLogJuicerStub(t, 2)
	out := &collector{}

	raw, err := client.Fetch(context.Background(), "https://zuul.example.com/build/abc", out)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if *creations != 3 {
		t.Errorf("expected 3 creation calls (2 pending + 1 completed), got %d", *creations)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("raw body is not the report JSON: %v", err)
	}

	events := out.all()
	if len(events) == 0 {
		t.Fatal("expected a logjuicer_url event")
	}
	url, ok := events[0].(core.LogJuicerURL)
	if !ok || string(url) != client.BaseURL+"/logjuicer/report/1" {
		t.Errorf("unexpected first event: %#v", events[0])
	}
	// The URL is announced once, not once per poll.
	for _, ev := range events[1:] {
		if ev.EventKind() == core.KindLogJuicerURL {
			t.Errorf("logjuicer_url emitted more than once: %#v", events)
		}
	}
}

func TestFetchReportCreationFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/logjuicer/api/report/new", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[1, "Error: no logs found"]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.Fetch(context.Background(), "b", &collector{}); err == nil {
		t.Fatal("expected error for failed report creation")
	}
}

func TestFetchHonorsContextWhilePending(t *testing.T) {
	client, _ := newLogJuicerStub(t, 1000)
	client.Poll = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.Fetch(ctx, "b", &collector{}); err == nil {
		t.Fatal("expected context error while pending")
	}
}

func TestDecodeReport(t *testing.T) {
	report, err := Decode(json.RawMessage(sampleReport))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if report.Target != "tox" {
		t.Errorf("expected target tox, got %q", report.Target)
	}
	if report.LogURL != "https://logs.example.com/build/123/" {
		t.Errorf("unexpected log url %q", report.LogURL)
	}
	if len(report.LogFiles) != 2 {
		t.Fatalf("expected 2 log files, got %d", len(report.LogFiles))
	}

	raw := report.LogFiles[0]
	wantSource := core.LogSourceRef{LogName: "zuul/overcloud.log", LogURL: "example.com/zuul/overcloud.log"}
	if raw.Source != wantSource {
		t.Errorf("raw file source: got %#v, want %#v", raw.Source, wantSource)
	}
	wantErrors := []core.LogError{{Before: []string{}, Line: "oops", Pos: 42, After: []string{}}}
	if !reflect.DeepEqual(raw.Errors, wantErrors) {
		t.Errorf("raw file errors: got %#v, want %#v", raw.Errors, wantErrors)
	}

	tar := report.LogFiles[1]
	if tar.Source.LogName != "inner/service.log" || !tar.Source.Archive {
		t.Errorf("tar file source: got %#v", tar.Source)
	}
	if report.ErrorCount() != 2 {
		t.Errorf("expected 2 errors total, got %d", report.ErrorCount())
	}
}

func TestDecodeUnknownShapesDegrade(t *testing.T) {
	report, err := Decode(json.RawMessage(`{
		"target": {"Prow": {"job": "x"}},
		"log_reports": [{"source": {"Stdin": null}, "anomalies": []}]
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Target == "" || report.LogURL != "" {
		t.Errorf("expected placeholder target, got %#v", report)
	}
	if len(report.LogFiles) != 1 || report.LogFiles[0].Source.LogName == "" {
		t.Errorf("expected placeholder source, got %#v", report.LogFiles)
	}
}

func TestRenderPrompt(t *testing.T) {
	report := &core.ErrorsReport{
		Target: "tox",
		LogFiles: []core.LogFile{
			{
				Source: core.LogSourceRef{LogName: "zuul/overcloud.log"},
				Errors: []core.LogError{{Before: []string{"b"}, Line: "oops", After: []string{"a"}}},
			},
			{
				Source: core.LogSourceRef{LogName: "job-output.txt"},
				Errors: []core.LogError{{Before: []string{"TASK [deploy]"}, Line: "fatal: unreachable", After: []string{"PLAY RECAP"}}},
			},
		},
	}

	got := RenderPrompt(report)
	want := "\n## zuul/overcloud.log\noops\n" +
		"\n## job-output.txt\nTASK [deploy]\nfatal: unreachable\nPLAY RECAP"
	if got != want {
		t.Errorf("prompt mismatch:\ngot  %q\nwant %q", got, want)
	}
}
