// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/schemagraph"
	"github.com/poiesic/schemagraph/ai"
	"github.com/poiesic/schemagraph/connector"
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/ingestion"
	"github.com/poiesic/schemagraph/metrics"
	"github.com/poiesic/schemagraph/schema"
	"github.com/poiesic/schemagraph/storage/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "schemagraph",
		Usage: "Schema-driven knowledge graph ingestion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Validate a schema definition without registering it",
				ArgsUsage: "<schema.yaml>",
				Action:    validateCommand,
			},
			{
				Name:      "register",
				Usage:     "Register or replace a knowledge base schema",
				ArgsUsage: "<schema.yaml>",
				Action:    registerCommand,
				Flags:     storeFlags(),
			},
			{
				Name:   "ingest",
				Usage:  "Ingest documents from a mapped source",
				Action: ingestCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:     "kb",
						Usage:    "Knowledge base id",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "source",
						Usage: "Source id to ingest (repeatable, defaults to every mapped source)",
					},
					&cli.IntFlag{
						Name:  "pool-size",
						Usage: "Number of documents processed concurrently",
						Value: 8,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Maximum documents per page for file sources",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-pages",
						Usage: "Maximum pages pulled per run",
						Value: 1000,
					},
					&cli.DurationFlag{
						Name:  "run-timeout",
						Usage: "Maximum duration of one run",
						Value: time.Hour,
					},
					&cli.DurationFlag{
						Name:  "pull-timeout",
						Usage: "Timeout of a single connector request",
						Value: 30 * time.Second,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts for a failing connector request",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 500 * time.Millisecond,
					},
					&cli.Float64Flag{
						Name:  "failure-threshold",
						Usage: "Fraction of documents with write failures above which a run fails",
						Value: ingestion.DefaultFailureThreshold,
					},
					&cli.DurationFlag{
						Name:  "write-timeout",
						Usage: "Timeout of a single graph write",
						Value: 10 * time.Second,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 100,
					},
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL",
						Value: ai.DefaultHost,
					},
					&cli.StringFlag{
						Name:    "embedding-token",
						Usage:   "Embedding service API token",
						EnvVars: []string{"EMBEDDING_TOKEN"},
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve Prometheus metrics on this address while ingesting (e.g. :9090)",
					},
				),
			},
			{
				Name:   "status",
				Usage:  "Show graph counts and sync state of a knowledge base",
				Action: statusCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:     "kb",
						Usage:    "Knowledge base id",
						Required: true,
					},
				),
			},
			{
				Name:   "runs",
				Usage:  "List ingestion runs",
				Action: runsCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:  "kb",
						Usage: "Knowledge base id (defaults to every knowledge base)",
					},
				),
			},
			{
				Name:   "find",
				Usage:  "Find nodes by label and property values",
				Action: findCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:     "kb",
						Usage:    "Knowledge base id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "label",
						Usage: "Node label (defaults to every label)",
					},
					&cli.StringSliceFlag{
						Name:  "prop",
						Usage: "Property filter as name=value; value is parsed as JSON when possible",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum nodes returned",
						Value: 25,
					},
				),
			},
			{
				Name:      "query",
				Usage:     "Run read-only Cypher against a Neo4j graph, with $kb_id bound",
				ArgsUsage: "<cypher>",
				Action:    queryCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:     "kb",
						Usage:    "Knowledge base id",
						Required: true,
					},
				),
			},
		},
	}
}

// storeFlags are shared by every command that opens the engine.
func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB database directory",
			Required: true,
			EnvVars:  []string{"SCHEMAGRAPH_DB"},
		},
		&cli.StringFlag{
			Name:    "neo4j-uri",
			Usage:   "Neo4j URI; when set the graph is stored on Neo4j",
			EnvVars: []string{"NEO4J_URI"},
		},
		&cli.StringFlag{
			Name:    "neo4j-user",
			Usage:   "Neo4j user",
			Value:   "neo4j",
			EnvVars: []string{"NEO4J_USER"},
		},
		&cli.StringFlag{
			Name:    "neo4j-password",
			Usage:   "Neo4j password",
			EnvVars: []string{"NEO4J_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "neo4j-database",
			Usage:   "Neo4j database name",
			EnvVars: []string{"NEO4J_DATABASE"},
		},
	}
}

func openEngine(c *cli.Context, opts ...schemagraph.Option) (*schemagraph.Engine, error) {
	if uri := c.String("neo4j-uri"); uri != "" {
		cfg := neo4j.DefaultConfig()
		cfg.URI = uri
		cfg.User = c.String("neo4j-user")
		cfg.Password = c.String("neo4j-password")
		cfg.Database = c.String("neo4j-database")
		opts = append(opts, schemagraph.WithNeo4j(cfg))
	}
	return schemagraph.Open(c.Context, c.String("db"), opts...)
}

func readSchemaArg(c *cli.Context) ([]byte, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one schema file argument")
	}
	return os.ReadFile(c.Args().First())
}

// printValidation prints schema validation problems and returns a short error.
func printValidation(w io.Writer, err error) error {
	var verrs schema.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fmt.Fprintf(w, "schema is invalid (%d problems):\n", len(verrs))
	for _, v := range verrs {
		fmt.Fprintf(w, "  - %s\n", v)
	}
	return schema.ErrSchemaValidation
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func validateCommand(c *cli.Context) error {
	raw, err := readSchemaArg(c)
	if err != nil {
		return err
	}
	summary, err := schema.NewRegistry().Register(c.Context, raw)
	if err != nil {
		return printValidation(c.App.ErrWriter, err)
	}
	fmt.Fprintln(c.App.Writer, "schema is valid")
	return printJSON(c.App.Writer, summary)
}

func registerCommand(c *cli.Context) error {
	raw, err := readSchemaArg(c)
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer engine.Close()

	summary, err := engine.RegisterSchema(c.Context, raw)
	if err != nil {
		return printValidation(c.App.ErrWriter, err)
	}
	return printJSON(c.App.Writer, summary)
}

func ingestCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting ingestion",
		"kb", c.String("kb"),
		"pool_size", c.Int("pool-size"),
		"batch_size", c.Int("batch-size"),
		"max_retries", c.Int("max-retries"))

	monitor := ingestion.Monitor(ingestion.NewProgressMonitor(c.App.Writer, c.Int("report-interval")))
	if addr := c.String("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		collector, err := metrics.New(reg)
		if err != nil {
			return err
		}
		monitor = ingestion.Monitors(monitor, collector)
		shutdown := serveMetrics(addr, reg)
		defer shutdown()
	}

	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithToken(c.String("embedding-token")),
	)
	engine, err := openEngine(c,
		schemagraph.WithEmbeddingConfig(aiConfig),
		schemagraph.WithWriteTimeout(c.Duration("write-timeout")),
		schemagraph.WithPipelineOptions(
			ingestion.WithPoolSize(c.Int("pool-size")),
			ingestion.WithMaxPages(c.Int("max-pages")),
			ingestion.WithRunTimeout(c.Duration("run-timeout")),
			ingestion.WithFailureThreshold(c.Float64("failure-threshold")),
			ingestion.WithMonitor(monitor),
			ingestion.WithConnectorOptions(
				connector.WithTimeout(c.Duration("pull-timeout")),
				connector.WithRetry(c.Int("max-retries"), c.Duration("retry-delay")),
				connector.WithPageSize(c.Int("batch-size")),
			),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer engine.Close()

	kbID := c.String("kb")
	sources := c.StringSlice("source")
	if len(sources) == 0 {
		s, ok := engine.Schema(kbID)
		if !ok {
			return fmt.Errorf("knowledge base %q has no registered schema", kbID)
		}
		sources = s.SourceIDs()
	}

	var failed []string
	for _, sourceID := range sources {
		if ctx.Err() != nil {
			break
		}
		run, err := engine.Ingest(ctx, kbID, sourceID)
		if err != nil {
			return fmt.Errorf("ingest %s/%s: %w", kbID, sourceID, err)
		}
		for _, e := range run.Errors {
			slog.Warn("run error", "run_id", run.ID, "kind", e.Kind, "document", e.Document, "key", e.DocumentKey, "message", e.Message)
		}
		if run.Status != core.RunCompleted {
			failed = append(failed, sourceID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("ingestion failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func statusCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer engine.Close()

	status, err := engine.Status(c.Context, c.String("kb"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, status)
}

func runsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer engine.Close()

	runs, err := engine.Runs(c.Context, c.String("kb"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, runs)
}

// parseProps turns name=value pairs into a property filter. Values that are
// not valid JSON are taken as strings.
func parseProps(pairs []string) (map[string]core.Value, error) {
	props := make(map[string]core.Value, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid property filter %q: expected name=value", pair)
		}
		v, err := core.ParseJSON([]byte(raw))
		if err != nil {
			v = core.String(raw)
		}
		props[name] = v
	}
	return props, nil
}

type nodeOutput struct {
	Label      string                `json:"label"`
	Key        string                `json:"key"`
	Properties map[string]core.Value `json:"properties"`
	SourceID   string                `json:"source_id"`
	RunID      string                `json:"run_id"`
}

func findCommand(c *cli.Context) error {
	props, err := parseProps(c.StringSlice("prop"))
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer engine.Close()

	nodes, err := engine.FindNodes(c.Context, c.String("kb"), c.String("label"), props, c.Int("limit"))
	if err != nil {
		return err
	}
	out := make([]nodeOutput, len(nodes))
	for i, n := range nodes {
		out[i] = nodeOutput{Label: n.Label, Key: n.Key, Properties: n.Properties, SourceID: n.SourceID, RunID: n.RunID}
	}
	return printJSON(c.App.Writer, out)
}

func queryCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one cypher argument")
	}
	engine, err := openEngine(c)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer engine.Close()

	rows, err := engine.Query(c.Context, c.String("kb"), c.Args().First(), nil)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, rows)
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
