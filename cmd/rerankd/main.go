// Rerankd is a reranking pipeline daemon. It manages connectors to remote
// scoring services, deploys them as named models, and executes search
// pipelines that reorder result batches by model relevance.
//
// Configuration is loaded from an optional YAML file plus RERANKD_
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	rerankd
//
//	# Start with an explicit config file
//	rerankd -config /etc/rerankd/config.yaml
//
//	# Show version information
//	rerankd version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rerankd/internal/api"
	"github.com/fyrsmithlabs/rerankd/internal/config"
	"github.com/fyrsmithlabs/rerankd/internal/connector"
	"github.com/fyrsmithlabs/rerankd/internal/events"
	"github.com/fyrsmithlabs/rerankd/internal/logging"
	"github.com/fyrsmithlabs/rerankd/internal/pipeline"
	"github.com/fyrsmithlabs/rerankd/internal/rerank"
	"github.com/fyrsmithlabs/rerankd/internal/scoring"
	"github.com/fyrsmithlabs/rerankd/internal/telemetry"
	"github.com/fyrsmithlabs/rerankd/internal/transform"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  rerankd            Start the rerankd daemon\n")
			fmt.Fprintf(os.Stderr, "  rerankd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("rerankd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order: configuration, telemetry, logging, stores,
// registries, scoring adapter, pipelines, HTTP server. Shutdown reverses
// it under the configured timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromApp(cfg.Observability))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting rerankd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("service", cfg.Observability.ServiceName),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()),
	)

	transforms := transform.Default()

	connectorStore, err := connector.NewStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to create connector store: %w", err)
	}
	pipelineStore, err := pipeline.NewStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to create pipeline store: %w", err)
	}

	registryOpts := []connector.Option{connector.WithStore(connectorStore)}

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		nc, err := nats.Connect(cfg.Events.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		publisher, err = events.NewPublisher(nc, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		defer publisher.Close()
		registryOpts = append(registryOpts, connector.WithEventSink(publisher))
		logger.Info(ctx, "lifecycle events enabled",
			zap.String("url", cfg.Events.URL),
			zap.String("subject_prefix", cfg.Events.SubjectPrefix),
		)
	}

	registry, err := connector.NewRegistry(transforms, registryOpts...)
	if err != nil {
		return fmt.Errorf("failed to create connector registry: %w", err)
	}

	if cfg.Store.Watch {
		watcher, err := connector.NewWatcher(registry, connectorStore, logger)
		if err != nil {
			return fmt.Errorf("failed to create store watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start store watcher: %w", err)
		}
		defer watcher.Stop()
	}

	adapter, err := scoring.NewAdapter(transforms, cfg.Transport, logger)
	if err != nil {
		return fmt.Errorf("failed to create scoring adapter: %w", err)
	}

	processor, err := rerank.NewProcessor(registry, adapter, logger)
	if err != nil {
		return fmt.Errorf("failed to create rerank processor: %w", err)
	}

	factories := pipeline.NewFactories()
	if err := pipeline.RegisterBuiltins(factories, processor); err != nil {
		return fmt.Errorf("failed to register processors: %w", err)
	}
	pipelines, err := pipeline.NewRegistry(factories, logger, pipeline.WithStore(pipelineStore))
	if err != nil {
		return fmt.Errorf("failed to create pipeline registry: %w", err)
	}

	srv, err := api.NewServer(registry, pipelines, adapter, logger, &api.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}
	return <-errCh
}

// initLogger builds the structured logger from observability settings,
// bridging to the telemetry log provider when one is active.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if cfg.Observability.LogLevel != "" {
		level, err := logging.LevelFromString(cfg.Observability.LogLevel)
		if err != nil {
			return nil, err
		}
		logCfg.Level = level
	}
	if cfg.Observability.LogFormat != "" {
		logCfg.Format = cfg.Observability.LogFormat
	}

	if tel.IsEnabled() {
		return logging.NewLogger(logCfg, tel.LoggerProvider())
	}
	return logging.NewLogger(logCfg, nil)
}
