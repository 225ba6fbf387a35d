// Package main runs the podcast recording API server with WebSocket status feed and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jagrut-bhole/podcast/config"
	"github.com/jagrut-bhole/podcast/internal/auth"
	"github.com/jagrut-bhole/podcast/internal/chat"
	"github.com/jagrut-bhole/podcast/internal/meetings"
	"github.com/jagrut-bhole/podcast/internal/middleware"
	"github.com/jagrut-bhole/podcast/internal/realtime"
	"github.com/jagrut-bhole/podcast/internal/recordings"
	"github.com/jagrut-bhole/podcast/pkg/cache"
	"github.com/jagrut-bhole/podcast/pkg/database"
	"github.com/jagrut-bhole/podcast/pkg/queue"
	"github.com/jagrut-bhole/podcast/pkg/redis"
	"github.com/jagrut-bhole/podcast/pkg/response"
	"github.com/jagrut-bhole/podcast/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis is optional: without it the chat cache is a no-op, aborts are not
	// retried in the background and status events stay on this instance.
	rdb := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:           cfg.AWS.Region,
		Endpoint:         cfg.AWS.Endpoint,
		UsePathStyle:     cfg.AWS.UsePathStyle,
		AccessKeyID:      cfg.AWS.AccessKeyID,
		SecretAccessKey:  cfg.AWS.SecretAccessKey,
		RecordingsBucket: cfg.AWS.RecordingsBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	var hub *realtime.Hub
	if rdb.Connected() {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	// Meetings
	meetingRepo := meetings.NewRepository(pool)
	meetingSvc := meetings.NewService(meetingRepo)

	// Recordings
	recordingRepo := recordings.NewRepository(pool)
	recordingHandler := recordings.NewHandler(recordingRepo, meetingSvc, s3Client, recordings.Config{
		FinalizeLinkTTL: cfg.Recording.FinalizeLinkTTL,
		DownloadLinkTTL: cfg.Recording.DownloadLinkTTL,
		MaxChunkBytes:   cfg.Server.MaxChunkBytes,
		RecoverTimeout:  cfg.Recording.RecoverTimeout,
	}, logger)
	recordingHandler.SetStatusPublisher(hub)
	if rdb.Connected() {
		recordingHandler.SetCleanupQueue(queue.NewQueue(rdb.Client, logger))
	}

	// Chat
	chatRepo := chat.NewRepository(pool)
	chatHandler := chat.NewHandler(chatRepo, meetingSvc, cache.New(rdb, logger), cfg.Recording.HistoryCacheTTL, logger)
	hub.SetChatHandler(chatHandler.PersistRelayed)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected API (JWT required)
	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		// Multipart recording upload
		api.POST("/upload-video/init", recordingHandler.Init)
		api.POST("/upload-video/chunk", recordingHandler.Chunk)
		api.POST("/upload-video/complete", recordingHandler.Complete)
		api.POST("/upload-video/abort", recordingHandler.Abort)
		api.POST("/upload-video/recover", recordingHandler.Recover)
		api.GET("/download-meeting", recordingHandler.Download)

		// Chat
		api.POST("/chat/messages", chatHandler.Create)
		api.GET("/chat/history", chatHandler.History)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, jwtService, meetingSvc, logger))

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
