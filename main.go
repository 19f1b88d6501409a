// Package main provides the entry point for the patchgraph service: the HTTP
// API and Kafka consumer (serve) and the batch loader (ingest).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/patchgraph/config"
	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/events/modules/patches"
	"github.com/ortelius/patchgraph/internal/api"
	"github.com/ortelius/patchgraph/internal/ingest"
	"github.com/ortelius/patchgraph/internal/kafka"
	"github.com/ortelius/patchgraph/internal/services"
	"github.com/ortelius/patchgraph/model"
	"github.com/ortelius/patchgraph/util"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	flagConfig   string
	flagMemory   bool
	flagWorkers  int
	flagInterval time.Duration
	flagPublish  bool
)

var rootCmd = &cobra.Command{
	Use:           "patchgraph",
	Short:         "patch knowledge graph ingestion service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the REST and GraphQL API and consume patch events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [flags] file.json",
	Short: "ingest a file of enriched patch records",
	Long: `
The ingest command loads enriched records from a JSON array or a stream of
JSON objects and upserts each into the graph. With --interval the file is
re-read and ingested on every tick until interrupted. With --publish the
records are sent to the patch event topic instead of written directly.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagMemory, "memory", false, "use an in-memory graph store instead of ArangoDB")

	ingestCmd.Flags().IntVar(&flagWorkers, "workers", 0, "concurrent inserts (overrides ingest.workers)")
	ingestCmd.Flags().DurationVar(&flagInterval, "interval", 0, "re-ingest the file on this interval (overrides ingest.interval)")
	ingestCmd.Flags().BoolVar(&flagPublish, "publish", false, "publish records as patch.enriched events instead of ingesting")

	rootCmd.AddCommand(serveCmd, ingestCmd)
}

// runtime holds everything built from the config that both commands share.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	store  database.GraphStore
	engine *ingest.Engine
	close  func()
}

func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	logger := util.InitLogger(cfg.LogLevel)
	closers := []func(){func() { _ = logger.Sync() }}
	rt := &runtime{cfg: cfg, logger: logger}
	rt.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Tracing {
		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient())
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
		otel.SetTracerProvider(tp)
		closers = append(closers, func() { _ = tp.Shutdown(context.Background()) })
	}

	var store database.GraphStore
	if flagMemory {
		logger.Warn("Using in-memory graph store; nothing will be persisted")
		store = database.NewMemoryStore()
	} else {
		arango, err := database.ConnectArango(ctx, cfg.Arango, logger)
		if err != nil {
			rt.close()
			return nil, err
		}
		store = arango
	}

	var opts []ingest.Option
	if cfg.Tracing {
		store = database.NewTracedStore(store, otel.Tracer("patchgraph.store"))
		opts = append(opts, ingest.WithTracer(otel.Tracer("patchgraph.ingest")))
	}
	rt.store = store

	if err := database.EnsureSchema(ctx, store, cfg.Collections, logger); err != nil {
		rt.close()
		return nil, err
	}

	rt.engine = ingest.NewEngine(store, cfg.Collections, logger, opts...)
	return rt, nil
}

func runServe(ctx context.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.cfg.Kafka.Enabled {
		service := &services.PatchServiceWrapper{Inserter: rt.engine, Logger: rt.logger}
		if err := kafka.RunEventProcessor(ctx, rt.cfg.Kafka, service, rt.logger); err != nil {
			rt.logger.Warn("Kafka event processor not started", zap.Error(err))
		}
	}

	app, err := api.NewFiberApp(rt.cfg.Server, rt.cfg.Collections, rt.store, rt.engine, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to create GraphQL schema: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("Starting server", zap.String("port", rt.cfg.Server.Port))
		errCh <- app.Listen(":" + rt.cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		rt.logger.Info("Shutting down server")
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

func runIngest(ctx context.Context, path string) error {
	load := func() ([]model.EnrichedRecord, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ingest.ReadRecords(f)
	}

	if flagPublish {
		return publish(ctx, load)
	}

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	workers := rt.cfg.Ingest.Workers
	if flagWorkers > 0 {
		workers = flagWorkers
	}
	interval := rt.cfg.Ingest.Interval
	if flagInterval > 0 {
		interval = flagInterval
	}

	pipeline := ingest.NewPipeline(rt.engine, workers, rt.cfg.Ingest.MaxRetryElapsed, rt.logger)

	if interval > 0 {
		rt.logger.Info("Scheduling patch ingestion", zap.String("file", path), zap.Duration("interval", interval))
		if err := pipeline.Schedule(ctx, interval, load); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	records, err := load()
	if err != nil {
		return err
	}
	summary, err := pipeline.Run(ctx, records)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d records failed", summary.Failed, len(records))
	}
	return nil
}

func publish(ctx context.Context, load func() ([]model.EnrichedRecord, error)) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	logger := util.InitLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	records, err := load()
	if err != nil {
		return err
	}

	producer := patches.NewPatchProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	for i, rec := range records {
		if err := producer.PublishPatchEnriched(ctx, rec, "patchgraph-cli"); err != nil {
			return fmt.Errorf("failed to publish record %d: %w", i, err)
		}
	}
	logger.Info("Published patch events", zap.Int("count", len(records)), zap.String("topic", cfg.Kafka.Topic))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
