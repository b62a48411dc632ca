// ABOUTME: Tests for the LLM analyzer: chunk streaming order, usage accounting,
// ABOUTME: evidence assembly, and prompt content.
package analyzer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

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

func testErrorsReport() *core.ErrorsReport {
	return &core.ErrorsReport{
		Target: "tox-py311",
		LogURL: "https://logs.example.com/build/123/",
		LogFiles: []core.LogFile{
			{
				Source: core.LogSourceRef{LogName: "controller/dns.log"},
				Errors: []core.LogError{{Line: "Temporary failure in name resolution", Pos: 3}},
			},
			{
				Source: core.LogSourceRef{LogName: "job-output.txt"},
				Errors: []core.LogError{
					{Line: "fatal: image pull failed", Pos: 42},
					{Line: "PLAY RECAP: failed=1", Pos: 43},
				},
			},
			{
				Source: core.LogSourceRef{LogName: "empty.log"},
			},
		},
	}
}

// sseCompletion writes a Chat Completions streaming response with the given
// content deltas and a final usage frame.
func sseCompletion(w http.ResponseWriter, deltas []string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, delta := range deltas {
		fmt.Fprintf(w,
			"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n",
			delta)
	}
	fmt.Fprint(w,
		"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[],\"usage\":{\"prompt_tokens\":1200,\"completion_tokens\":340}}\n\n")
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func newStubAnalyzer(t *testing.T, handler http.HandlerFunc) *Analyzer {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", handler)
	mux.HandleFunc("/v1/chat/completions", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return New("test-key", "test-model", server.URL)
}

func TestSummarizeStreamsChunksInOrder(t *testing.T) {
	deltas := []string{"DNS resolution ", "failed during ", "image pull."}
	var gotBody string
	analyzer := newStubAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		sseCompletion(w, deltas)
	})

	out := &collector{}
	report, usage, err := analyzer.Summarize(context.Background(), testErrorsReport(), out)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	var text strings.Builder
	for _, ev := range out.all() {
		chunk, ok := ev.(core.Chunk)
		if !ok {
			t.Fatalf("analyzer must emit only chunk events, got %#v", ev)
		}
		text.WriteString(string(chunk))
	}
	if text.String() != "DNS resolution failed during image pull." {
		t.Errorf("chunk order broken: %q", text.String())
	}
	if report.Description != text.String() {
		t.Errorf("description must equal the concatenated chunks, got %q", report.Description)
	}

	if usage.Input != 1200 || usage.Output != 340 {
		t.Errorf("unexpected usage: %#v", usage)
	}

	// The request carries the job name and the extracted error lines.
	for _, needle := range []string{"tox-py311", "Temporary failure in name resolution", "job-output.txt"} {
		if !strings.Contains(gotBody, needle) {
			t.Errorf("request body missing %q", needle)
		}
	}
}

func TestSummarizeProviderError(t *testing.T) {
	analyzer := newStubAnalyzer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "model overloaded"}}`, http.StatusServiceUnavailable)
	})

	if _, _, err := analyzer.Summarize(context.Background(), testErrorsReport(), &collector{}); err == nil {
		t.Fatal("expected provider error to fail the summarization")
	}
}

func TestSummarizeEmptyResponse(t *testing.T) {
	analyzer := newStubAnalyzer(t, func(w http.ResponseWriter, _ *http.Request) {
		sseCompletion(w, nil)
	})

	if _, _, err := analyzer.Summarize(context.Background(), testErrorsReport(), &collector{}); err == nil {
		t.Fatal("expected error for an empty completion")
	}
}

func TestEvidences(t *testing.T) {
	evidences := Evidences(testErrorsReport())
	want := []core.Evidence{
		{Error: "Temporary failure in name resolution", Source: "controller/dns.log"},
		{Error: "fatal: image pull failed", Source: "job-output.txt"},
	}
	if len(evidences) != len(want) {
		t.Fatalf("got %#v, want %#v", evidences, want)
	}
	for i := range want {
		if evidences[i] != want[i] {
			t.Errorf("evidence %d: got %#v, want %#v", i, evidences[i], want[i])
		}
	}
}

func TestUserPromptKeepsContextForConsoleLogs(t *testing.T) {
	report := &core.ErrorsReport{
		Target: "tox",
		LogFiles: []core.LogFile{
			{
				Source: core.LogSourceRef{LogName: "job-output.txt"},
				Errors: []core.LogError{{Before: []string{"TASK [deploy]"}, Line: "fatal: unreachable"}},
			},
			{
				Source: core.LogSourceRef{LogName: "controller/dns.log"},
				Errors: []core.LogError{{Before: []string{"noise"}, Line: "oops"}},
			},
		},
	}

	prompt := userPrompt(report)
	if !strings.Contains(prompt, "TASK [deploy]") {
		t.Error("console log context must be kept")
	}
	if strings.Contains(prompt, "noise") {
		t.Error("context of other logs must be dropped")
	}
}
