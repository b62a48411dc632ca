// ABOUTME: Decoding of the raw LogJuicer report JSON into the typed errors report:
// ABOUTME: Zuul targets, RawFile/TarFile sources, per-file anomalies.
package logjuicer

import (
	"encoding/json"
	"fmt"

	"github.com/vakwetu/rca-mcp/core"
)

type rawReport struct {
	Target     json.RawMessage `json:"target"`
	LogReports []rawLogReport  `json:"log_reports"`
}

type rawLogReport struct {
	Source    json.RawMessage `json:"source"`
	Anomalies []rawAnomaly    `json:"anomalies"`
}

type rawAnomaly struct {
	Before  []string `json:"before"`
	After   []string `json:"after"`
	Anomaly struct {
		Line string `json:"line"`
		Pos  int    `json:"pos"`
	} `json:"anomaly"`
}

// Extract decodes a raw LogJuicer report body into the typed errors report.
func (c *Client) Extract(raw json.RawMessage) (*core.ErrorsReport, error) {
	return Decode(raw)
}

// Decode turns the raw report JSON into an ErrorsReport. Unknown target or
// source shapes degrade to descriptive placeholders instead of failing, so a
// LogJuicer schema addition does not break existing analyses.
func Decode(raw json.RawMessage) (*core.ErrorsReport, error) {
	var report rawReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode logjuicer report: %w", err)
	}

	target, logURL := readTarget(report.Target)
	files := make([]core.LogFile, 0, len(report.LogReports))
	for _, lr := range report.LogReports {
		file := core.LogFile{Source: readSource(lr.Source)}
		for _, anomaly := range lr.Anomalies {
			file.Errors = append(file.Errors, core.LogError{
				Before: anomaly.Before,
				Line:   anomaly.Anomaly.Line,
				Pos:    anomaly.Anomaly.Pos,
				After:  anomaly.After,
			})
		}
		files = append(files, file)
	}

	return &core.ErrorsReport{Target: target, LogURL: logURL, LogFiles: files}, nil
}

// readTarget extracts the job name and log URL from a target description
// such as {"Zuul": {"job_name": "tox", "log_url": "..."}}.
func readTarget(raw json.RawMessage) (string, string) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		if zuul, ok := wrapper["Zuul"]; ok {
			var build struct {
				JobName string `json:"job_name"`
				LogURL  string `json:"log_url"`
			}
			if err := json.Unmarshal(zuul, &build); err == nil {
				return build.JobName, build.LogURL
			}
		}
	}
	return fmt.Sprintf("Unknown target: %s", raw), ""
}

// readSource converts an absolute source location into a relative log name.
// A RawFile carries {"Remote": [prefix_len, url]}; a TarFile is a three
// element array of the archive location, a span, and the member name.
func readSource(raw json.RawMessage) core.LogSourceRef {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		if rawFile, ok := wrapper["RawFile"]; ok {
			if pos, url, ok := readRemote(rawFile); ok && pos <= len(url) {
				return core.LogSourceRef{LogName: url[pos:], LogURL: url}
			}
		}
		if tarFile, ok := wrapper["TarFile"]; ok {
			var parts []json.RawMessage
			if err := json.Unmarshal(tarFile, &parts); err == nil && len(parts) == 3 {
				var name string
				_, url, ok := readRemote(parts[0])
				if err := json.Unmarshal(parts[2], &name); err == nil && ok {
					return core.LogSourceRef{LogName: name, LogURL: url, Archive: true}
				}
			}
		}
	}
	return core.LogSourceRef{LogName: fmt.Sprintf("Unknown source: %s", raw)}
}

// readRemote decodes a {"Remote": [prefix_len, url]} location.
func readRemote(raw json.RawMessage) (int, string, bool) {
	var loc struct {
		Remote []json.RawMessage `json:"Remote"`
	}
	if err := json.Unmarshal(raw, &loc); err != nil || len(loc.Remote) != 2 {
		return 0, "", false
	}
	var pos int
	var url string
	if err := json.Unmarshal(loc.Remote[0], &pos); err != nil {
		return 0, "", false
	}
	if err := json.Unmarshal(loc.Remote[1], &url); err != nil {
		return 0, "", false
	}
	return pos, url, true
}
