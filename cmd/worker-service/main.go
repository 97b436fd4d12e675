package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/durable-queue/internal/config"
	"github.com/cuongbtq/durable-queue/internal/events"
	"github.com/cuongbtq/durable-queue/internal/queue"
	"github.com/cuongbtq/durable-queue/internal/queue/postgres"
	"github.com/cuongbtq/durable-queue/internal/worker"
	"github.com/cuongbtq/durable-queue/shared/logger"
	"github.com/cuongbtq/durable-queue/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize the durable queue adapter
	adapter := postgres.New(postgres.Config{
		ConnString:      cfg.Database.ConnString,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		Schema:          cfg.Queue.Schema,
		Table:           cfg.Queue.Table,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()
	if err := adapter.Initialize(initCtx); err != nil {
		return fmt.Errorf("failed to initialize queue adapter: %w", err)
	}
	defer adapter.Close()

	appLogger.Info("Queue adapter initialized")

	// Initialize the optional lifecycle event emitter
	var emitter *events.Emitter
	var rabbitClient *rabbitmq.Client
	if cfg.Events.Enabled {
		rabbitClient, err = rabbitmq.NewClient(&rabbitmq.Config{
			Host:               cfg.Events.RabbitMQ.Host,
			Port:               cfg.Events.RabbitMQ.Port,
			User:               cfg.Events.RabbitMQ.User,
			Password:           cfg.Events.RabbitMQ.Password,
			VHost:              cfg.Events.RabbitMQ.VHost,
			ExchangeName:       cfg.Events.Exchange.Name,
			ExchangeType:       cfg.Events.Exchange.Type,
			ExchangeDurable:    cfg.Events.Exchange.Durable,
			ExchangeAutoDelete: cfg.Events.Exchange.AutoDelete,
			RoutingKey:         cfg.Events.RoutingKey,
			RetryAttempts:      cfg.Events.Connection.RetryAttempts,
			RetryInterval:      cfg.Events.Connection.RetryInterval,
			Heartbeat:          cfg.Events.Connection.Heartbeat,
			PublishRetries:     cfg.Events.Publish.RetryAttempts,
			PublishRetryDelay:  cfg.Events.Publish.RetryInterval,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		emitter = events.New(rabbitClient, appLogger.Logger)
		appLogger.Info("Lifecycle event emitter enabled",
			slog.String("exchange", cfg.Events.Exchange.Name),
		)
	}

	q := queue.New(adapter, appLogger.Logger)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Logger,
		Queue:        q,
		Emitter:      emitter,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
	})

	registerHandlers(workerInstance, appLogger.Logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// registerHandlers wires the job types this deployment processes.
func registerHandlers(w *worker.Worker, logger *slog.Logger) {
	// echo returns its payload as the completion result.
	w.Register("echo", func(ctx context.Context, job *queue.JobEnvelope) (queue.Payload, error) {
		return job.Payload.Clone(), nil
	})

	// sleep waits for payload.duration (Go duration string) before completing.
	w.Register("sleep", func(ctx context.Context, job *queue.JobEnvelope) (queue.Payload, error) {
		raw, _ := job.Payload["duration"].(string)
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid sleep duration %q: %w", raw, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
			return queue.Payload{"slept": d.String()}, nil
		}
	})

	logger.Info("Job handlers registered",
		slog.String("types", "echo, sleep"),
	)
}
