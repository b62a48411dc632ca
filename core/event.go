// ABOUTME: Event is the tagged union of everything a build analysis can report.
// ABOUTME: Wire format is a two-element JSON array [kind, payload], matching the client protocol.
package core

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the type of an analysis event.
type Kind string

const (
	KindProgress     Kind = "progress"
	KindChunk        Kind = "chunk"
	KindReport       Kind = "report"
	KindUsage        Kind = "usage"
	KindJob          Kind = "job"
	KindPlaybooks    Kind = "playbooks"
	KindLogJuicerURL Kind = "logjuicer_url"
	KindLogURL       Kind = "log_url"
	KindSourceMap    Kind = "source_map"
	KindError        Kind = "error"
	KindStatus       Kind = "status"
	KindRunID        Kind = "run_id"
)

// Event is a single immutable entry in a build's analysis log. Events are
// totally ordered within a build: append order is causal order, and replaying
// a stored log reconstructs the exact state a live watcher observed.
type Event interface {
	EventKind() Kind
	eventSeal()
}

// Progress is human-readable status text describing what the pipeline is doing.
type Progress string

func (Progress) EventKind() Kind { return KindProgress }
func (Progress) eventSeal()      {}

// Chunk is an incremental fragment of LLM-generated summary text.
type Chunk string

func (Chunk) EventKind() Kind { return KindChunk }
func (Chunk) eventSeal()      {}

// Status is the terminal event of a run: StatusCompleted on success, or a
// human-readable failure description. It is always the last event of a run.
type Status string

func (Status) EventKind() Kind { return KindStatus }
func (Status) eventSeal()      {}

// StatusCompleted is the Status payload of a successful run.
const StatusCompleted Status = "completed"

// ErrorText reports a stage or enrichment failure description.
type ErrorText string

func (ErrorText) EventKind() Kind { return KindError }
func (ErrorText) eventSeal()      {}

// LogJuicerURL points at the log-pattern report created for the build.
type LogJuicerURL string

func (LogJuicerURL) EventKind() Kind { return KindLogJuicerURL }
func (LogJuicerURL) eventSeal()      {}

// LogURL points at the raw build logs.
type LogURL string

func (LogURL) EventKind() Kind { return KindLogURL }
func (LogURL) eventSeal()      {}

// RunID identifies one pipeline execution for a build.
type RunID string

func (RunID) EventKind() Kind { return KindRunID }
func (RunID) eventSeal()      {}

// Playbooks lists the playbook paths that define the failed job.
type Playbooks []string

func (Playbooks) EventKind() Kind { return KindPlaybooks }
func (Playbooks) eventSeal()      {}

// SourceMap maps log file names to browsable source URLs.
type SourceMap map[string]string

func (SourceMap) EventKind() Kind { return KindSourceMap }
func (SourceMap) eventSeal()      {}

// Job describes the CI job that produced the build under analysis.
type Job struct {
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

func (Job) EventKind() Kind { return KindJob }
func (Job) eventSeal()      {}

// Usage reports LLM token accounting for the summarization call.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

func (Usage) EventKind() Kind { return KindUsage }
func (Usage) eventSeal()      {}

// Evidence ties an error line to the log file it came from.
type Evidence struct {
	Error  string `json:"error"`
	Source string `json:"source"`
}

// JiraTicket is a tracker issue related to the failure.
type JiraTicket struct {
	Key     string `json:"key"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// Report is the final structured root cause analysis.
type Report struct {
	Description string       `json:"description"`
	Evidences   []Evidence   `json:"evidences"`
	JiraTickets []JiraTicket `json:"jira_tickets,omitempty"`
}

func (Report) EventKind() Kind { return KindReport }
func (Report) eventSeal()      {}

// MarshalEvent serializes an event as a [kind, payload] pair.
func MarshalEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("cannot marshal nil event")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.EventKind(), err)
	}
	pair := [2]json.RawMessage{}
	kind, err := json.Marshal(ev.EventKind())
	if err != nil {
		return nil, err
	}
	pair[0] = kind
	pair[1] = payload
	return json.Marshal(pair)
}

// UnmarshalEvent deserializes a [kind, payload] pair into its typed event.
// Unknown kinds are an error: the set of kinds is closed.
func UnmarshalEvent(data []byte) (Event, error) {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("unmarshal event pair: %w", err)
	}
	var kind Kind
	if err := json.Unmarshal(pair[0], &kind); err != nil {
		return nil, fmt.Errorf("unmarshal event kind: %w", err)
	}

	switch kind {
	case KindProgress:
		var p Progress
		return p, json.Unmarshal(pair[1], &p)
	case KindChunk:
		var p Chunk
		return p, json.Unmarshal(pair[1], &p)
	case KindStatus:
		var p Status
		return p, json.Unmarshal(pair[1], &p)
	case KindError:
		var p ErrorText
		return p, json.Unmarshal(pair[1], &p)
	case KindLogJuicerURL:
		var p LogJuicerURL
		return p, json.Unmarshal(pair[1], &p)
	case KindLogURL:
		var p LogURL
		return p, json.Unmarshal(pair[1], &p)
	case KindRunID:
		var p RunID
		return p, json.Unmarshal(pair[1], &p)
	case KindPlaybooks:
		var p Playbooks
		return p, json.Unmarshal(pair[1], &p)
	case KindSourceMap:
		var p SourceMap
		return p, json.Unmarshal(pair[1], &p)
	case KindJob:
		var p Job
		return p, json.Unmarshal(pair[1], &p)
	case KindUsage:
		var p Usage
		return p, json.Unmarshal(pair[1], &p)
	case KindReport:
		var p Report
		return p, json.Unmarshal(pair[1], &p)
	default:
		return nil, fmt.Errorf("unknown event kind: %q", kind)
	}
}

// MarshalLog serializes an ordered event sequence as a JSON array of pairs.
func MarshalLog(events []Event) ([]byte, error) {
	pairs := make([]json.RawMessage, len(events))
	for i, ev := range events {
		data, err := MarshalEvent(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal event %d: %w", i, err)
		}
		pairs[i] = data
	}
	return json.Marshal(pairs)
}

// UnmarshalLog deserializes a JSON array of pairs back into typed events.
func UnmarshalLog(data []byte) ([]Event, error) {
	var pairs []json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("unmarshal event log: %w", err)
	}
	events := make([]Event, len(pairs))
	for i, raw := range pairs {
		ev, err := UnmarshalEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal event %d: %w", i, err)
		}
		events[i] = ev
	}
	return events, nil
}
