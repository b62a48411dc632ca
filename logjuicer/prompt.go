// ABOUTME: Rendering of an errors report into the text block handed to the LLM.
package logjuicer

import (
	"strings"

	"github.com/vakwetu/rca-mcp/core"
)

// keepContext decides whether the before/after lines of an error are worth
// including. Console output and ansible task logs need the surrounding lines
// to make sense; for other files the anomalous lines alone suffice.
func keepContext(logName string) bool {
	return logName == "job-output" ||
		strings.HasPrefix(logName, "job-output.") ||
		strings.Contains(logName, "ansible")
}

// RenderPrompt converts an errors report into an LLM prompt, one markdown
// section per log file, preserving the extraction order.
func RenderPrompt(report *core.ErrorsReport) string {
	var lines []string
	for _, logfile := range report.LogFiles {
		lines = append(lines, "\n## "+logfile.Source.LogName)
		context := keepContext(logfile.Source.LogName)
		for _, err := range logfile.Errors {
			if context {
				lines = append(lines, err.Before...)
			}
			lines = append(lines, err.Line)
			if context {
				lines = append(lines, err.After...)
			}
		}
	}
	return strings.Join(lines, "\n")
}
