// ABOUTME: Ticket search enrichment: looks the report's evidence up in JIRA and
// ABOUTME: merges matching tickets into the final report.
package jira

import (
	"context"
	"fmt"
	"strings"

	"github.com/vakwetu/rca-mcp/core"
	"github.com/vakwetu/rca-mcp/pipeline"
)

// maxQueries bounds how many evidence lines are searched per analysis.
const maxQueries = 3

// maxPhrase keeps JQL phrases short enough to match; log lines routinely
// carry timestamps and IDs that would defeat an exact long-phrase search.
const maxPhrase = 120

// Enricher searches JIRA for tickets matching the report's evidence lines
// and amends the report with what it finds.
type Enricher struct {
	Client *Client
}

func NewEnricher(client *Client) *Enricher {
	return &Enricher{Client: client}
}

func (e *Enricher) Name() string { return "jira" }

func (e *Enricher) Enrich(ctx context.Context, _ string, _ *core.ErrorsReport, report core.Report, emit pipeline.Emitter) (pipeline.Amend, error) {
	seen := make(map[string]bool)
	var tickets []core.JiraTicket

	queries := 0
	for _, evidence := range report.Evidences {
		if queries >= maxQueries {
			break
		}
		phrase := searchPhrase(evidence.Error)
		if phrase == "" {
			continue
		}
		queries++

		query := fmt.Sprintf("text ~ %q", phrase)
		emit.Emit(core.Progress(fmt.Sprintf("Searching issues with query: %s", query)))
		found, err := e.Client.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, ticket := range found {
			if !seen[ticket.Key] {
				seen[ticket.Key] = true
				tickets = append(tickets, ticket)
			}
		}
	}

	if len(tickets) == 0 {
		return nil, nil
	}
	return func(r *core.Report) { r.JiraTickets = tickets }, nil
}

// searchPhrase turns an evidence line into a JQL-safe phrase.
func searchPhrase(line string) string {
	phrase := strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' {
			return ' '
		}
		return r
	}, line)
	phrase = strings.Join(strings.Fields(phrase), " ")
	if len(phrase) > maxPhrase {
		phrase = phrase[:maxPhrase]
		if cut := strings.LastIndexByte(phrase, ' '); cut > 0 {
			phrase = phrase[:cut]
		}
	}
	return phrase
}
