// Vidsightd is the vidsight daemon: it accepts recording chunks over HTTP,
// folds them into a master video per session and analyzes overlapping
// windows of it as they become available.
//
// Configuration is loaded from environment variables, optionally layered
// over a config file. A .env file in the working directory is read first.
//
// Usage:
//
//	# Start with defaults
//	vidsightd
//
//	# Start with a config file
//	vidsightd -config /etc/vidsight/config.yaml
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9090 AI_GRPC_ADDRESS=media:50051 vidsightd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/vidsight/internal/aiservice"
	"github.com/fyrsmithlabs/vidsight/internal/cleanup"
	"github.com/fyrsmithlabs/vidsight/internal/config"
	httpserver "github.com/fyrsmithlabs/vidsight/internal/http"
	"github.com/fyrsmithlabs/vidsight/internal/logging"
	"github.com/fyrsmithlabs/vidsight/internal/pipeline"
	"github.com/fyrsmithlabs/vidsight/internal/push"
	"github.com/fyrsmithlabs/vidsight/internal/storage"
	"github.com/fyrsmithlabs/vidsight/internal/store"
	"github.com/fyrsmithlabs/vidsight/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  vidsightd [-config path]   Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  vidsightd version          Show version information\n")
			os.Exit(1)
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("vidsightd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadWithFile(path)
}

// run wires every component and blocks until ctx is cancelled:
//  1. Configuration, telemetry and logger
//  2. SQLite store, NATS push sink and the storage registry
//  3. The AI/media client
//  4. The pipeline (runner, dispatcher, finalizer) and the sweeper
//  5. The HTTP server
//
// On cancellation the HTTP server and the dispatcher stop together and
// background finalizations are awaited last.
func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()

	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting vidsightd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Float64("window_size", cfg.Video.WindowSize),
		zap.Float64("window_step", cfg.Video.WindowStep),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.Bool("telemetry", tel.Enabled()))
	for _, fault := range tel.Degraded() {
		logger.Warn(ctx, "telemetry exporter unavailable", zap.String("reason", fault))
	}
	logger.Debug(ctx, "storage credentials loaded",
		zap.String("default_backend", cfg.Storage.DefaultBackend),
		logging.Secret("minio_secret_key", cfg.Storage.MinIOSecretKey),
		logging.Secret("oss_access_key_secret", cfg.Storage.OSSAccessKeySecret),
		logging.Secret("cos_secret_key", cfg.Storage.COSSecretKey),
		logging.Secret("openai_api_key", cfg.AI.OpenAIAPIKey))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	params := pipeline.WindowParams{
		Size:    cfg.Video.WindowSize,
		Step:    cfg.Video.WindowStep,
		MinSize: cfg.Video.MinWindowSize,
	}
	if err := os.MkdirAll(cfg.Video.TempPath, 0o750); err != nil {
		return fmt.Errorf("failed to create temp path: %w", err)
	}

	var publisher push.Publisher = push.Nop{}
	if deps.nc != nil {
		publisher = push.NewNATSPublisher(deps.nc, cfg.NATS.SubjectPrefix, logger)
	}

	windows, err := pipeline.NewWindowProcessor(pipeline.WindowProcessorConfig{
		Media:          deps.media,
		Analyzer:       deps.analyzer,
		Storage:        deps.storage,
		Store:          deps.store,
		Publisher:      publisher,
		TempPath:       cfg.Video.TempPath,
		AnalyzeTimeout: cfg.Video.AnalyzeTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	reclaimer := cleanup.NewReclaimer(deps.storage, cfg.Video.TempPath, logger)
	finalizer := pipeline.NewFinalizer(deps.store, deps.summarizer, cfg.AI.TitleTimeout, logger)
	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{
		Params:      params,
		Store:       deps.store,
		Accumulator: pipeline.NewAccumulator(deps.media, cfg.Video.TempPath, params.Step, logger),
		Windows:     windows,
		Reclaimer:   reclaimer,
		Finalizer:   finalizer,
		Publisher:   publisher,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	dispatcher := pipeline.NewDispatcher(runner, pipeline.DispatcherConfig{
		Workers:     cfg.Video.Workers,
		QueueSize:   cfg.Video.QueueSize,
		MaxAhead:    cfg.Video.ReorderWindow,
		HoldTimeout: cfg.Video.HoldTimeout,
	}, logger)

	svc, err := pipeline.NewService(pipeline.ServiceConfig{
		Params:         params,
		Store:          deps.store,
		Submitter:      dispatcher,
		Reclaimer:      reclaimer,
		TempPath:       cfg.Video.TempPath,
		DefaultBackend: cfg.Storage.DefaultBackend,
		DefaultModel:   cfg.AI.OpenAIModel,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	sweeper := cleanup.NewSweeper(cleanup.SweeperConfig{
		Root:      cfg.Video.TempPath,
		Interval:  cfg.Cleanup.SweepInterval,
		Retention: cfg.Cleanup.Retention,
	}, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv, err := httpserver.NewServer(svc, deps.nc, logger, &httpserver.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		MaxUploadMB:   cfg.Server.MaxUploadMB,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	finalizer.Wait()
	logger.Info(context.Background(), "vidsightd stopped")
	return err
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	return telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
}

// dependencies holds infrastructure clients.
type dependencies struct {
	store      *store.SQLiteStore
	nc         *nats.Conn
	storage    *storage.Registry
	grpc       *aiservice.GRPCClient
	media      aiservice.MediaProcessor
	analyzer   aiservice.Analyzer
	summarizer aiservice.Summarizer
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.grpc != nil {
		_ = d.grpc.Close()
	}
	if d.nc != nil {
		d.nc.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// initDependencies opens the store, connects to NATS and the AI service
// and builds the storage registry. NATS is optional: without it live
// updates are disabled but analysis still runs.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{}

	st, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	deps.store = st

	if cfg.NATS.URL != "" {
		nc, err := push.Connect(cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn(ctx, "nats unavailable, live updates disabled", zap.Error(err))
		} else {
			deps.nc = nc
		}
	}

	deps.storage = storage.NewRegistry(cfg.Storage, cfg.Video.URLExpiry, logger)

	client, err := aiservice.NewGRPCClient(aiservice.GRPCConfig{
		Address:      cfg.AI.GRPCAddress,
		MediaTimeout: cfg.AI.MediaTimeout,
		TitleTimeout: cfg.AI.TitleTimeout,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("create ai service client: %w", err)
	}
	deps.grpc = client
	deps.media = client
	deps.analyzer = client
	deps.summarizer = client

	if cfg.AI.Provider == config.AIProviderOpenAI {
		oa, err := aiservice.NewOpenAIAnalyzer(aiservice.OpenAIConfig{
			BaseURL:   cfg.AI.OpenAIBaseURL,
			APIKey:    cfg.AI.OpenAIAPIKey.Value(),
			Model:     cfg.AI.OpenAIModel,
			RateLimit: cfg.AI.RateLimit,
			RateBurst: cfg.AI.RateBurst,
		}, logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("create openai analyzer: %w", err)
		}
		deps.analyzer = oa
		deps.summarizer = oa
	}

	logger.Info(ctx, "dependencies initialized",
		zap.Bool("nats_connected", deps.nc != nil),
		zap.Strings("storage_backends", deps.storage.Tags()),
		zap.String("ai_address", cfg.AI.GRPCAddress))
	return deps, nil
}
