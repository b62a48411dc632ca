// ABOUTME: CLI entrypoint for the build analysis service with serve, mcp, and
// ABOUTME: one-shot modes. Wires the store, coordinator, and pipeline together.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vakwetu/rca-mcp/analyzer"
	"github.com/vakwetu/rca-mcp/config"
	"github.com/vakwetu/rca-mcp/core"
	"github.com/vakwetu/rca-mcp/jira"
	"github.com/vakwetu/rca-mcp/logjuicer"
	"github.com/vakwetu/rca-mcp/mcp"
	"github.com/vakwetu/rca-mcp/pipeline"
	"github.com/vakwetu/rca-mcp/runner"
	"github.com/vakwetu/rca-mcp/store"
	"github.com/vakwetu/rca-mcp/web"
	"github.com/vakwetu/rca-mcp/zuul"
)

var version = "dev"

type cliFlags struct {
	mcpMode     bool
	showVersion bool
	buildURL    string
}

func main() {
	loadDotEnv(".env")

	cli := parseFlags()
	if cli.showVersion {
		fmt.Printf("rca-mcp %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cli))
}

func parseFlags() cliFlags {
	var cli cliFlags

	fs := flag.NewFlagSet("rca-mcp", flag.ContinueOnError)
	fs.BoolVar(&cli.mcpMode, "mcp", false, "Serve MCP tools over stdio instead of HTTP")
	fs.BoolVar(&cli.showVersion, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rca-mcp [flags] [build-url]\n\n")
		fmt.Fprintf(os.Stderr, "Without a build URL the HTTP API is served; with one the build\n")
		fmt.Fprintf(os.Stderr, "is analyzed once and the event stream printed to stdout.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if fs.NArg() > 0 {
		cli.buildURL = fs.Arg(0)
	}
	return cli
}

func run(cli cliFlags) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: create database directory: %v\n", err)
		return 1
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open %s: %v\n", cfg.Database, err)
		return 1
	}
	defer st.Close()

	coord := runner.NewCoordinator(st, buildPipeline(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case cli.buildURL != "":
		return runOnce(ctx, st, coord, cli.buildURL)
	case cli.mcpMode:
		return runMCP(ctx, st, coord)
	default:
		return runHTTP(ctx, cfg.Bind, st, coord)
	}
}

// buildPipeline assembles the analysis stages from the configuration.
func buildPipeline(cfg *config.Config) runner.PipelineFunc {
	enrichers := []pipeline.Enricher{
		zuul.NewEnricher(zuul.NewClient(cfg.SFURL)),
	}
	if cfg.JiraEnabled() {
		enrichers = append(enrichers,
			jira.NewEnricher(jira.NewClient(cfg.Jira.URL, cfg.Jira.APIKey, cfg.Jira.Projects)))
	}

	pipe := pipeline.New(
		logjuicer.NewClient(cfg.SFURL),
		analyzer.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL),
		enrichers...,
	)
	return func(ctx context.Context, build string, run *runner.Run) error {
		return pipe.Run(ctx, build, run)
	}
}

func runHTTP(ctx context.Context, bind string, st *store.Store, coord *runner.Coordinator) int {
	srv := &http.Server{
		Addr:    bind,
		Handler: web.NewServer(bind, st, coord),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Fprintf(os.Stderr, "rca-mcp %s listening on http://%s\n", version, bind)

	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: shutdown: %v\n", err)
		return 1
	}
	coord.Wait()
	return 0
}

func runMCP(ctx context.Context, st *store.Store, coord *runner.Coordinator) int {
	srv := mcp.NewServer(st, coord)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	coord.Wait()
	return 0
}

// runOnce analyzes a single build and prints its event stream, one
// wire-encoded event per line.
func runOnce(ctx context.Context, st *store.Store, coord *runner.Coordinator, build string) int {
	status, err := coord.Submit(ctx, build)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if !status.Terminal() {
		events, cancel, live := coord.Watch(build)
		if live {
			defer cancel()
			for ev := range events {
				printEvent(ev)
			}
		}
	} else {
		replay, err := st.ReadAll(build)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		for _, ev := range replay {
			printEvent(ev)
		}
	}

	rec, known, err := st.Get(build)
	if err != nil || !known {
		fmt.Fprintf(os.Stderr, "error: build record lost\n")
		return 1
	}
	if rec.Status != core.StatusDone {
		return 1
	}
	return 0
}

func printEvent(ev core.Event) {
	data, err := core.MarshalEvent(ev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: encode event: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
