// Package main runs the evidence verification worker pool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/civicpulse/backend/config"
	"github.com/civicpulse/backend/internal/attempts"
	"github.com/civicpulse/backend/internal/classifier"
	"github.com/civicpulse/backend/internal/evidence"
	"github.com/civicpulse/backend/internal/verification"
	"github.com/civicpulse/backend/pkg/database"
	"github.com/civicpulse/backend/pkg/mongodb"
	"github.com/civicpulse/backend/pkg/queue"
	"github.com/civicpulse/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	mongoClient, err := mongodb.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
	if err != nil {
		logger.Fatal("mongo", zap.Error(err))
	}
	defer mongoClient.Close(context.Background())

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger, queue.Options{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseBackoff: cfg.Worker.BaseBackoff,
		MaxBackoff:  cfg.Worker.MaxBackoff,
	})
	processor := verification.NewProcessor(
		jobQueue,
		evidence.NewRepository(mongoClient.DB),
		classifier.NewClient(cfg.Classifier.URL, cfg.Classifier.APIKey, cfg.Classifier.Timeout),
		attempts.NewRepository(pool),
		verification.Config{
			Concurrency:         cfg.Worker.Concurrency,
			ClassifierTimeout:   cfg.Classifier.Timeout,
			ConfidenceThreshold: cfg.Classifier.ConfidenceThreshold,
		},
		logger,
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker, draining in-flight jobs")
	cancel()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
