// ABOUTME: MCP surface over stdio: exposes build submission and report retrieval
// ABOUTME: as tools, backed by the same coordinator as the HTTP transport.
package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vakwetu/rca-mcp/core"
	"github.com/vakwetu/rca-mcp/runner"
	"github.com/vakwetu/rca-mcp/store"
)

// Server wraps the MCP SDK server around the analysis coordinator.
type Server struct {
	MCPServer *sdkmcp.Server
	store     *store.Store
	coord     *runner.Coordinator
}

// NewServer creates an MCP server exposing the analysis tools.
func NewServer(st *store.Store, coord *runner.Coordinator) *Server {
	s := &Server{store: st, coord: coord}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "rca-mcp", Version: "dev"},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "submit_build",
		Description: "Submit a CI build URL for root cause analysis. Returns PENDING when a run is started or in flight, COMPLETED when the report is ready to fetch.",
	}, s.handleSubmitBuild)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_report",
		Description: "Get the finished analysis of a build: the root cause summary, supporting evidence, and related tickets. Fails while the analysis is still running.",
	}, s.handleGetReport)
}

type submitBuildInput struct {
	URL string `json:"url" jsonschema:"the CI build URL to analyze"`
}

type submitBuildOutput struct {
	Status string `json:"status"`
}

func (s *Server) handleSubmitBuild(ctx context.Context, _ *sdkmcp.CallToolRequest, input submitBuildInput) (*sdkmcp.CallToolResult, submitBuildOutput, error) {
	if input.URL == "" {
		return nil, submitBuildOutput{}, errMissingURL
	}
	status, err := s.coord.Submit(ctx, input.URL)
	if err != nil {
		return nil, submitBuildOutput{}, err
	}
	answer := "PENDING"
	if status.Terminal() {
		answer = "COMPLETED"
	}
	return nil, submitBuildOutput{Status: answer}, nil
}

type getReportInput struct {
	URL string `json:"url" jsonschema:"the CI build URL to fetch the analysis for"`
}

type getReportOutput struct {
	Status      string            `json:"status"`
	Description string            `json:"description,omitempty"`
	Evidences   []core.Evidence   `json:"evidences,omitempty"`
	JiraTickets []core.JiraTicket `json:"jira_tickets,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (s *Server) handleGetReport(_ context.Context, _ *sdkmcp.CallToolRequest, input getReportInput) (*sdkmcp.CallToolResult, getReportOutput, error) {
	if input.URL == "" {
		return nil, getReportOutput{}, errMissingURL
	}

	rec, known, err := s.store.Get(input.URL)
	if err != nil {
		return nil, getReportOutput{}, err
	}
	if !known {
		return nil, getReportOutput{}, errUnknownBuild
	}
	if !rec.Status.Terminal() {
		return nil, getReportOutput{Status: string(rec.Status)}, nil
	}

	events, err := s.store.ReadAll(input.URL)
	if err != nil {
		return nil, getReportOutput{}, err
	}

	out := getReportOutput{Status: string(rec.Status)}
	for _, ev := range events {
		switch v := ev.(type) {
		case core.Report:
			out.Description = v.Description
			out.Evidences = v.Evidences
			out.JiraTickets = v.JiraTickets
		case core.ErrorText:
			out.Error = string(v)
		}
	}
	return nil, out, nil
}
