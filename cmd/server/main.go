// Package main runs the ChartDrop records API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/api"
	"github.com/dharsanguruparan/ChartDrop/internal/config"
	"github.com/dharsanguruparan/ChartDrop/internal/database"
	"github.com/dharsanguruparan/ChartDrop/internal/logger"
	"github.com/dharsanguruparan/ChartDrop/internal/queue"
	"github.com/dharsanguruparan/ChartDrop/internal/records"
	"github.com/dharsanguruparan/ChartDrop/internal/repository"
	"github.com/dharsanguruparan/ChartDrop/internal/s3storage"
	"github.com/dharsanguruparan/ChartDrop/internal/signing"
	"github.com/dharsanguruparan/ChartDrop/internal/storage"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().Str("environment", cfg.Environment).Str("storage", cfg.StorageBackend).Msg("starting records api")

	var repo records.Repository
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		repo = repository.NewFileRepository(pool)
	} else {
		log.Warn().Msg("DATABASE_URL not set, records are kept in memory")
		repo = repository.NewMemoryRepository()
	}

	var (
		store records.ObjectStore
		opts  []api.Option
	)
	if cfg.IsS3Storage() {
		s3, err := s3storage.New(cfg, log)
		if err != nil {
			return err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		store = s3
	} else {
		local, err := storage.NewLocalStore(cfg.LocalStoragePath, cfg.PublicURL, signing.NewSigner(cfg.SigningKey), log)
		if err != nil {
			return err
		}
		store = local
		opts = append(opts, api.WithObjects(local.Handler(cfg.MaxFileSize)))
	}

	jobs, closeJobs := newJobs(cfg, cfg.DatabaseURL != "", log)
	defer closeJobs()

	svc := records.NewService(repo, store, jobs, records.Options{
		SlotTTL:     cfg.SlotTTL,
		URLTTL:      cfg.SignedURLTTL,
		MaxFileSize: cfg.MaxFileSize,
	}, log)

	opts = append(opts, api.WithShutdownTimeout(cfg.ShutdownTimeout))
	return api.New(cfg.Address, svc, log, opts...).Run(ctx)
}

// newJobs returns the asynq-backed scheduler, or nil when Redis is not
// configured. The worker reads records from Postgres, so jobs stay off while
// records live in this process's memory.
func newJobs(cfg *config.Config, durableRecords bool, log zerolog.Logger) (records.Jobs, func()) {
	if !cfg.JobsEnabled() {
		log.Warn().Msg("REDIS_ADDR not set, objects are removed inline and files are not inspected")
		return nil, func() {}
	}
	if !durableRecords {
		log.Warn().Msg("REDIS_ADDR ignored: the worker cannot reach in-memory records, set DATABASE_URL to enable jobs")
		return nil, func() {}
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return queue.NewClient(client), func() { _ = client.Close() }
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
		}
	}
}
