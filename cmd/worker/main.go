// Package main runs the ChartDrop background worker: object removal after a
// record is deleted and page counting for registered PDFs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ChartDrop/internal/config"
	"github.com/dharsanguruparan/ChartDrop/internal/database"
	"github.com/dharsanguruparan/ChartDrop/internal/logger"
	"github.com/dharsanguruparan/ChartDrop/internal/repository"
	"github.com/dharsanguruparan/ChartDrop/internal/s3storage"
	"github.com/dharsanguruparan/ChartDrop/internal/signing"
	"github.com/dharsanguruparan/ChartDrop/internal/storage"
	"github.com/dharsanguruparan/ChartDrop/internal/worker"
)

func main() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.ServiceName+"-worker", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if !cfg.JobsEnabled() {
		return errors.New("REDIS_ADDR is required by the worker")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required by the worker")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	repo := repository.NewFileRepository(pool)

	var objects worker.Objects
	if cfg.IsS3Storage() {
		s3, err := s3storage.New(cfg, log)
		if err != nil {
			return err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		objects = s3
	} else {
		local, err := storage.NewLocalStore(cfg.LocalStoragePath, cfg.PublicURL, signing.NewSigner(cfg.SigningKey), log)
		if err != nil {
			return err
		}
		objects = local
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	processor := worker.NewProcessor(repo, objects, log)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info().Str("environment", cfg.Environment).Int("concurrency", cfg.WorkerConcurrency).Str("redis", cfg.RedisAddr).Msg("worker started")
	if err := server.Run(processor.Handler()); err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	return nil
}
