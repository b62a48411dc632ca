// ABOUTME: HTTP transport for build analyses: submit, SSE watch with replay,
// ABOUTME: report retrieval (JSON and HTML), and maintenance clear.
package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"

	"github.com/vakwetu/rca-mcp/core"
	"github.com/vakwetu/rca-mcp/runner"
	"github.com/vakwetu/rca-mcp/store"
)

// Server exposes the coordinator and the durable event log over HTTP.
type Server struct {
	store  *store.Store
	coord  *runner.Coordinator
	router chi.Router
	md     goldmark.Markdown
	addr   string
}

func NewServer(addr string, st *store.Store, coord *runner.Coordinator) *Server {
	s := &Server{
		store: st,
		coord: coord,
		md:    goldmark.New(),
		addr:  addr,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe() error {
	log.Printf("listening on http://%s", s.addr)
	return http.ListenAndServe(s.addr, s.router)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/build", func(r chi.Router) {
		r.Put("/", s.handleSubmit)
		r.Delete("/", s.handleClear)
		r.Get("/watch", s.handleWatch)
		r.Get("/report", s.handleReport)
		r.Get("/report/html", s.handleReportHTML)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit triggers an analysis. A terminal build answers COMPLETED (the
// report, successful or failed, is ready to fetch); anything else answers
// PENDING and the caller should watch.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	build, ok := buildParam(w, r)
	if !ok {
		return
	}
	status, err := s.coord.Submit(r.Context(), build)
	if err != nil {
		log.Printf("submit %s: %v", build, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "submit failed"})
		return
	}
	answer := "PENDING"
	if status.Terminal() {
		answer = "COMPLETED"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": answer})
}

// handleWatch streams a build's events as SSE frames, one [kind, payload]
// pair per frame. A live run replays its history then streams until the
// terminal status; a finished build replays the durable log and closes.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	build, ok := buildParam(w, r)
	if !ok {
		return
	}

	events, cancel, live := s.coord.Watch(build)
	if live {
		defer cancel()
	} else {
		if _, known, err := s.store.Get(build); err != nil || !known {
			http.Error(w, "build not found", http.StatusNotFound)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	if !live {
		stored, err := s.store.ReadAll(build)
		if err != nil {
			log.Printf("watch %s: read log: %v", build, err)
			return
		}
		for _, ev := range stored {
			writeFrame(w, ev)
		}
		flush()
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Terminal status delivered; the run is over.
				return
			}
			writeFrame(w, ev)
			flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleReport serves the full event log of a finished build as a JSON array
// of [kind, payload] pairs. Unknown or still-pending builds are not found.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	build, ok := buildParam(w, r)
	if !ok {
		return
	}
	events, ok := s.finishedLog(w, build)
	if !ok {
		return
	}
	data, err := core.MarshalLog(events)
	if err != nil {
		log.Printf("report %s: %v", build, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encode failed"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

var reportPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Analysis of {{.Build}}</title></head>
<body>
<h1>Root cause analysis</h1>
<p><code>{{.Build}}</code></p>
{{.Description}}
{{if .Evidences}}<h2>Evidence</h2>
<ul>{{range .Evidences}}<li><code>{{.Error}}</code> &mdash; {{.Source}}</li>{{end}}</ul>{{end}}
{{if .Tickets}}<h2>Related tickets</h2>
<ul>{{range .Tickets}}<li><a href="{{.URL}}">{{.Key}}</a>: {{.Summary}}</li>{{end}}</ul>{{end}}
</body>
</html>
`))

// handleReportHTML renders the final report of a finished build, with the
// markdown description converted to HTML.
func (s *Server) handleReportHTML(w http.ResponseWriter, r *http.Request) {
	build, ok := buildParam(w, r)
	if !ok {
		return
	}
	events, ok := s.finishedLog(w, build)
	if !ok {
		return
	}

	var report *core.Report
	for _, ev := range events {
		if rep, isReport := ev.(core.Report); isReport {
			report = &rep
		}
	}
	if report == nil {
		http.Error(w, "no report produced for this build", http.StatusNotFound)
		return
	}

	var description bytes.Buffer
	if err := s.md.Convert([]byte(report.Description), &description); err != nil {
		log.Printf("report html %s: %v", build, err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := reportPage.Execute(w, struct {
		Build       string
		Description template.HTML
		Evidences   []core.Evidence
		Tickets     []core.JiraTicket
	}{
		Build:       build,
		Description: template.HTML(description.String()),
		Evidences:   report.Evidences,
		Tickets:     report.JiraTickets,
	})
	if err != nil {
		log.Printf("report html %s: %v", build, err)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	build, ok := buildParam(w, r)
	if !ok {
		return
	}
	if err := s.coord.Clear(build); err != nil {
		log.Printf("clear %s: %v", build, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "clear failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// finishedLog loads the event log of a terminal build, answering 404 for
// unknown or still-pending builds.
func (s *Server) finishedLog(w http.ResponseWriter, build string) ([]core.Event, bool) {
	rec, known, err := s.store.Get(build)
	if err != nil {
		log.Printf("report %s: %v", build, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return nil, false
	}
	if !known || !rec.Status.Terminal() {
		http.Error(w, "build not found", http.StatusNotFound)
		return nil, false
	}
	events, err := s.store.ReadAll(build)
	if err != nil {
		log.Printf("report %s: read log: %v", build, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "read failed"})
		return nil, false
	}
	return events, true
}

func buildParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	build := r.URL.Query().Get("url")
	if build == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url parameter"})
		return "", false
	}
	return build, true
}

func writeFrame(w http.ResponseWriter, ev core.Event) {
	data, err := core.MarshalEvent(ev)
	if err != nil {
		log.Printf("encode %s event: %v", ev.EventKind(), err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json response: %v", err)
	}
}
