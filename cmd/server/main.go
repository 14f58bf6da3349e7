// Package main runs the campaign platform HTTP server with live poll feeds and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/civicpulse/backend/config"
	"github.com/civicpulse/backend/internal/attempts"
	"github.com/civicpulse/backend/internal/auth"
	"github.com/civicpulse/backend/internal/campaigns"
	"github.com/civicpulse/backend/internal/evidence"
	"github.com/civicpulse/backend/internal/health"
	"github.com/civicpulse/backend/internal/middleware"
	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/internal/polls"
	"github.com/civicpulse/backend/internal/realtime"
	"github.com/civicpulse/backend/internal/verification"
	"github.com/civicpulse/backend/pkg/database"
	"github.com/civicpulse/backend/pkg/mongodb"
	"github.com/civicpulse/backend/pkg/queue"
	"github.com/civicpulse/backend/pkg/redis"
	"github.com/civicpulse/backend/pkg/storage"
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	mongoClient, err := mongodb.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
	if err != nil {
		logger.Fatal("mongo", zap.Error(err))
	}
	defer mongoClient.Close(context.Background())
	if err := mongoClient.EnsureIndexes(ctx); err != nil {
		logger.Fatal("mongo indexes", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var files evidence.FileStore
	if cfg.AWS.Region != "" && cfg.AWS.EvidenceBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			EvidenceBucket:       cfg.AWS.EvidenceBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			files = s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger, queue.Options{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseBackoff: cfg.Worker.BaseBackoff,
		MaxBackoff:  cfg.Worker.MaxBackoff,
	})

	// Auth
	userRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(userRepo, jwtService, logger)

	// Campaigns
	campaignRepo := campaigns.NewRepository(mongoClient.DB)
	campaignHandler := campaigns.NewHandler(campaignRepo, userRepo, logger)

	// Polls
	pollRepo := polls.NewRepository(mongoClient.DB)
	pollService := polls.NewService(pollRepo, campaignRepo, hub, logger)
	pollHandler := polls.NewHandler(pollService)

	// Evidence
	evidenceRepo := evidence.NewRepository(mongoClient.DB)
	attemptRepo := attempts.NewRepository(pool)
	evidenceHandler := evidence.NewHandler(evidenceRepo, campaignRepo, jobQueue, files, attemptRepo, logger)
	queueHandler := verification.NewQueueHandler(jobQueue, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	healthHandler := health.NewHandler(map[string]health.Check{
		"postgres": pool.Ping,
		"mongo":    mongoClient.Check,
		"redis":    rdb.Ping,
	}, 2*time.Second, logger)
	router.GET("/health", healthHandler.Serve)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	// Anonymous reads; a valid token still identifies the requestor.
	public := router.Group("")
	public.Use(middleware.OptionalJWT(jwtService))
	{
		public.GET("/campaigns", campaignHandler.List)
		public.GET("/campaigns/:campaignId", campaignHandler.Get)
		public.GET("/campaigns/:campaignId/polls", pollHandler.ListByCampaign)
		public.GET("/campaigns/:campaignId/evidence", evidenceHandler.ListByCampaign)
		public.GET("/polls/:pollId", pollHandler.Get)
		public.GET("/evidence/:evidenceId", evidenceHandler.Get)

		// WebSocket (token in query; no Authorization header required)
		public.GET("/polls/:pollId/live", realtime.ServeWs(hub, pollService, logger))
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/users", middleware.RequireRole(models.RoleAdmin), authHandler.List)
		api.GET("/admin/verification/queue", middleware.RequireRole(models.RoleAdmin), queueHandler.Status)

		api.POST("/campaigns", campaignHandler.Create)
		api.POST("/campaigns/:campaignId/team", campaignHandler.AddTeamMember)
		api.GET("/campaigns/:campaignId/team", campaignHandler.Team)

		api.POST("/campaigns/:campaignId/polls", pollHandler.Create)
		api.POST("/polls/:pollId/vote", pollHandler.Vote)
		api.PATCH("/polls/:pollId/status", pollHandler.SetStatus)

		api.POST("/campaigns/:campaignId/evidence", evidenceHandler.Submit)
		api.POST("/campaigns/:campaignId/evidence/upload-url", evidenceHandler.UploadURL)
		api.POST("/campaigns/:campaignId/evidence/files", evidenceHandler.UploadFile)
		api.PATCH("/evidence/:evidenceId/review", evidenceHandler.Review)
		api.POST("/evidence/:evidenceId/reverify", evidenceHandler.Reverify)
		api.GET("/evidence/:evidenceId/attempts", evidenceHandler.Attempts)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
