// ABOUTME: Typed model of a LogJuicer errors report: the extracted anomalies of a failed build.
package core

// LogSourceRef identifies where an analyzed log file came from.
type LogSourceRef struct {
	LogName string `json:"log_name"`
	LogURL  string `json:"log_url"`
	Archive bool   `json:"archive"`
}

// LogError is one anomalous line with its surrounding context.
type LogError struct {
	Before []string `json:"before"`
	Line   string   `json:"line"`
	Pos    int      `json:"pos"`
	After  []string `json:"after"`
}

// LogFile groups the errors found in a single log source.
type LogFile struct {
	Source LogSourceRef `json:"source"`
	Errors []LogError   `json:"errors"`
}

// ErrorsReport is the full extraction result for one build: the job name it
// targeted, the raw log location, and the per-file anomalies.
type ErrorsReport struct {
	Target   string    `json:"target"`
	LogURL   string    `json:"log_url,omitempty"`
	LogFiles []LogFile `json:"logfiles"`
}

// ErrorCount returns the total number of extracted errors across all files.
func (r *ErrorsReport) ErrorCount() int {
	n := 0
	for _, lf := range r.LogFiles {
		n += len(lf.Errors)
	}
	return n
}
