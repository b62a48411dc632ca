// ABOUTME: LLM summarization over an OpenAI-compatible Chat Completions endpoint:
// ABOUTME: streams the root-cause summary as chunk events and accounts token usage.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vakwetu/rca-mcp/core"
	"github.com/vakwetu/rca-mcp/logjuicer"
	"github.com/vakwetu/rca-mcp/pipeline"
)

const systemPrompt = `You are a CI engineer, your goal is to find the root cause of this build failure.

You are given a description of the job and the errors found in the logs.

Your investigation strategy should be as follows:
1. Recognize symptoms: the errors in job-output.txt are often just symptoms. The actual root cause likely occurred earlier.
2. Trace back to the root cause: use the log file list to examine logs that came before job-output.txt. These earlier logs are critical for finding the initial point of failure.
3. Analyze all evidence: it is crucial that you analyze all the provided errors before drawing a conclusion. Do not stop at the first error you find.
4. Identify the root cause: after a full analysis, identify the definitive root cause.

Provide a concise summary of the root cause analysis in markdown. The summary
should include the stage at which the root cause occurred and cite the log
lines that support it.`

// maxEvidences caps the evidence section assembled from the errors report.
const maxEvidences = 10

// Analyzer summarizes an errors report with a chat model. The zero value is
// not usable; construct with New.
type Analyzer struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// New creates an analyzer for an OpenAI-compatible provider. An empty
// baseURL targets api.openai.com.
func New(apiKey, model, baseURL string) *Analyzer {
	if model == "" {
		model = "gpt-4o"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Analyzer{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: 8192,
	}
}

// Summarize streams the model's summary, emitting each increment as a chunk
// event in arrival order, and returns the assembled report with the call's
// token usage.
func (a *Analyzer) Summarize(ctx context.Context, errors *core.ErrorsReport, emit pipeline.Emitter) (core.Report, core.Usage, error) {
	params := openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(errors)),
		},
		MaxCompletionTokens: openai.Int(a.maxTokens),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	var acc openai.ChatCompletionAccumulator
	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			delta := chunk.Choices[0].Delta.Content
			text.WriteString(delta)
			emit.Emit(core.Chunk(delta))
		}
	}
	if err := stream.Err(); err != nil {
		return core.Report{}, core.Usage{}, fmt.Errorf("chat completion: %w", err)
	}
	if text.Len() == 0 {
		return core.Report{}, core.Usage{}, fmt.Errorf("chat completion: empty response")
	}

	usage := core.Usage{
		Input:  int(acc.Usage.PromptTokens),
		Output: int(acc.Usage.CompletionTokens),
	}
	report := core.Report{
		Description: text.String(),
		Evidences:   Evidences(errors),
	}
	return report, usage, nil
}

// userPrompt renders the errors report into the user message: the job being
// analyzed, the raw log location, and the extracted errors per file.
func userPrompt(errors *core.ErrorsReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Failure of Zuul job %s\n", errors.Target)
	if errors.LogURL != "" {
		fmt.Fprintf(&b, "\nBuild Log URL: %s\n", errors.LogURL)
	}
	b.WriteString("\n# Extracted errors\n")
	b.WriteString(logjuicer.RenderPrompt(errors))
	return b.String()
}

// Evidences selects the leading error of each log file as the report's
// supporting evidence, extraction order preserved.
func Evidences(errors *core.ErrorsReport) []core.Evidence {
	evidences := make([]core.Evidence, 0, len(errors.LogFiles))
	for _, logfile := range errors.LogFiles {
		if len(evidences) == maxEvidences {
			break
		}
		if len(logfile.Errors) == 0 {
			continue
		}
		evidences = append(evidences, core.Evidence{
			Error:  logfile.Errors[0].Line,
			Source: logfile.Source.LogName,
		})
	}
	return evidences
}
