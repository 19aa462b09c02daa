package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/cnabflow/internal/logger"
	"github.com/marmos91/cnabflow/pkg/api"
	"github.com/marmos91/cnabflow/pkg/api/handlers"
	"github.com/marmos91/cnabflow/pkg/config"
	"github.com/marmos91/cnabflow/pkg/intake"
	"github.com/marmos91/cnabflow/pkg/objectstore"
	"github.com/marmos91/cnabflow/pkg/pipeline"
	"github.com/marmos91/cnabflow/pkg/recovery"
	"github.com/marmos91/cnabflow/pkg/store"
	"github.com/marmos91/cnabflow/pkg/store/lock"
	"github.com/marmos91/cnabflow/pkg/store/queue"
	"github.com/marmos91/cnabflow/pkg/store/transactions"
	"github.com/marmos91/cnabflow/pkg/store/uploads"
	"github.com/marmos91/cnabflow/pkg/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cnabflow ingestion pipeline",
	Long: `Start the HTTP intake surface, the worker pool, and the recovery sweeper
against the configured database, object store, and queue.

Examples:
  cnabflow start
  cnabflow start --config /etc/cnabflow/config.yaml
  CNABFLOW_LOGGING_LEVEL=DEBUG cnabflow start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(&store.Config{
		Type: store.DatabaseType(cfg.Database.Type),
		SQLite: store.SQLiteConfig{
			Path: cfg.Database.SQLite.Path,
		},
		Postgres: store.PostgresConfig{
			Host:         cfg.Database.Postgres.Host,
			Port:         cfg.Database.Postgres.Port,
			Database:     cfg.Database.Postgres.Database,
			User:         cfg.Database.Postgres.User,
			Password:     cfg.Database.Postgres.Password,
			SSLMode:      cfg.Database.Postgres.SSLMode,
			MaxOpenConns: cfg.Database.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Database.Postgres.MaxIdleConns,
		},
		AutoMigrate: cfg.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	objectStore, err := objectstore.NewFromConfig(ctx, objectstore.Config{
		Bucket:         cfg.ObjectStore.Bucket,
		Region:         cfg.ObjectStore.Region,
		Endpoint:       cfg.ObjectStore.Endpoint,
		KeyPrefix:      cfg.ObjectStore.KeyPrefix,
		MaxRetries:     cfg.ObjectStore.MaxRetries,
		ForcePathStyle: cfg.ObjectStore.ForcePathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}
	defer func() { _ = objectStore.Close() }()

	uploadsStore := uploads.New(db)
	txStore := transactions.New(db)
	// Claim visibility mirrors LockTTL: both must safely exceed the
	// worst-case gap before a worker acks or releases what it is holding.
	q := queue.NewWithVisibilityTimeout(db, cfg.Pipeline.LockTTL)
	locker := lock.New(db)

	processor := pipeline.NewProcessor(db, uploadsStore, txStore, cfg.Pipeline.MaxRetryPerLine, cfg.Pipeline.RetryDelayMs)
	checkpointer := pipeline.NewCheckpointer(uploadsStore)

	intakeSvc := intake.New(intake.Config{
		MaxFileSize:      int64(cfg.Pipeline.MaxFileSize),
		AllowedExtension: cfg.Pipeline.AllowedExtension,
		QueueGroupName:   cfg.Pipeline.QueueGroupName,
	}, objectStore, uploadsStore, q)

	pool := worker.New(worker.Config{
		ParallelWorkers:    cfg.Pipeline.ParallelWorkers,
		CheckpointInterval: cfg.Pipeline.CheckpointInterval,
		MaxRetries:         cfg.Pipeline.MaxRetryPerLine,
		BaseRetryDelay:     time.Duration(cfg.Pipeline.RetryDelayMs) * time.Millisecond,
		LockTTL:            cfg.Pipeline.LockTTL,
		QueueGroupName:     cfg.Pipeline.QueueGroupName,
		DequeueWait:        5 * time.Second,
	}, q, locker, objectStore, uploadsStore, processor, checkpointer)

	pool.Start(ctx, cfg.Pipeline.ParallelWorkers)

	sweeper := recovery.New(recovery.Config{
		CheckInterval:  cfg.Pipeline.RecoveryCheckInterval,
		TimeoutMinutes: int(cfg.Pipeline.StuckUploadTimeout.Minutes()),
		QueueGroupName: cfg.Pipeline.QueueGroupName,
	}, uploadsStore, locker, q)

	go sweeper.Run(ctx)

	var apiServer *api.Server
	if cfg.API.Enabled {
		healthHandler := handlers.NewHealthHandler(db, objectStore)
		txHandler := handlers.NewTransactionsHandler(intakeSvc, uploadsStore, txStore, q, cfg.Pipeline.QueueGroupName)
		apiServer = api.NewServer(api.Config{
			Port:         cfg.API.Port,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
		}, healthHandler, txHandler)
	}

	serverDone := make(chan error, 1)
	if apiServer != nil {
		go func() { serverDone <- apiServer.Start(ctx) }()
		logger.Info("API server enabled", "port", cfg.API.Port)
	} else {
		logger.Info("API server disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("cnabflow is running", "workers", cfg.Pipeline.ParallelWorkers)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		pool.Wait()
		if apiServer != nil {
			if err := <-serverDone; err != nil {
				logger.Error("API server shutdown error", "error", err)
			}
		}
		logger.Info("cnabflow stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		cancel()
		pool.Wait()
		if err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
	}

	return nil
}
