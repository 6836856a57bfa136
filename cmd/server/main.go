// Package main runs the JoinUp HTTP server with WebSocket chat and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joinup-app/backend/config"
	"github.com/joinup-app/backend/internal/activities"
	"github.com/joinup-app/backend/internal/auth"
	"github.com/joinup-app/backend/internal/chat"
	"github.com/joinup-app/backend/internal/middleware"
	"github.com/joinup-app/backend/internal/notifications"
	"github.com/joinup-app/backend/internal/participation"
	"github.com/joinup-app/backend/internal/realtime"
	"github.com/joinup-app/backend/internal/reviews"
	"github.com/joinup-app/backend/internal/worker"
	"github.com/joinup-app/backend/pkg/database"
	"github.com/joinup-app/backend/pkg/queue"
	"github.com/joinup-app/backend/pkg/redis"
	"github.com/joinup-app/backend/pkg/response"
	"github.com/joinup-app/backend/pkg/storage"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ImagesBucket:         cfg.AWS.ImagesBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth and profiles
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, s3Client, logger)

	// Activities
	activityRepo := activities.NewRepository(pool)
	activityHandler := activities.NewHandler(activityRepo, s3Client, logger)

	// Notifications (in-app + email via the job queue)
	notificationRepo := notifications.NewRepository(pool)
	notificationHandler := notifications.NewHandler(notificationRepo)
	notifier := notifications.NewNotifier(notificationRepo, authRepo, jobQueue, logger)

	// Participation lifecycle
	participationRepo := participation.NewRepository(pool)
	participationSvc := participation.NewService(participationRepo, activityRepo, notifier, logger)
	participationHandler := participation.NewHandler(participationSvc)

	// Chat: the hub is the event publisher, participation gates access
	chatRepo := chat.NewRepository(pool)
	chatSvc := chat.NewService(chatRepo, participationSvc, hub, logger)
	chatHandler := chat.NewHandler(chatSvc)
	chatGateway := chat.NewGateway(chatSvc)

	// Reviews
	reviewRepo := reviews.NewRepository(pool)
	reviewHandler := reviews.NewHandler(reviewRepo)

	emailProcessor := worker.NewEmailProcessor(jobQueue, cfg.Email, logger)

	jwtValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Own profile
		api.GET("/profile", authHandler.Me)
		api.PUT("/profile", authHandler.UpdateMe)
		api.GET("/profile/activities", participationHandler.MyActivities)
		api.POST("/profile/avatar-upload", authHandler.AvatarUploadURL)

		// Public profiles and reviews
		api.GET("/users/:id", authHandler.GetUser)
		api.PUT("/users/:id/reviews", reviewHandler.Submit)
		api.GET("/users/:id/reviews", reviewHandler.List)
		api.DELETE("/users/:id/reviews", reviewHandler.Delete)
		api.GET("/users/:id/reviews/summary", reviewHandler.Summary)

		// Activities
		api.GET("/activities", activityHandler.List)
		api.POST("/activities", activityHandler.Create)
		api.GET("/activities/:id", activityHandler.GetByID)
		api.PATCH("/activities/:id", activityHandler.Update)
		api.DELETE("/activities/:id", activityHandler.Delete)
		api.POST("/activities/:id/image", activityHandler.UploadImage)

		// Participation
		api.POST("/activities/:id/participation", participationHandler.Request)
		api.GET("/activities/:id/participation/status", participationHandler.Status)
		api.GET("/activities/:id/participation/can-request", participationHandler.CanRequest)
		api.GET("/activities/:id/participation/pending", participationHandler.Pending)
		api.GET("/activities/:id/participation/approved", participationHandler.Approved)
		api.GET("/activities/:id/participants", participationHandler.Participants)
		api.POST("/activities/:id/participation/users/:userId/approve", participationHandler.Approve)
		api.POST("/activities/:id/participation/users/:userId/reject", participationHandler.Reject)
		api.POST("/activities/:id/participation/users/:userId/exclude", participationHandler.Exclude)

		// Chat
		api.GET("/activities/:id/messages", chatHandler.History)
		api.POST("/activities/:id/messages", chatHandler.Send)
		api.POST("/activities/:id/messages/:messageId/delivered", chatHandler.Delivered)
		api.POST("/activities/:id/messages/:messageId/seen", chatHandler.Seen)
		api.GET("/activities/:id/messages/:messageId/seen", chatHandler.SeenBy)
		api.POST("/activities/:id/messages/:messageId/reactions", chatHandler.React)
		api.GET("/activities/:id/seen-summaries", chatHandler.SeenSummaries)

		// Notifications
		api.GET("/notifications", notificationHandler.List)
		api.PUT("/notifications", notificationHandler.MarkAllRead)
		api.POST("/notifications/:id/read", notificationHandler.MarkRead)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, chatGateway, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (notification emails over SMTP)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Email.SMTPHost != "" {
		go emailProcessor.Run(workerCtx)
		logger.Info("email worker started")
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

	workerCancel()
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
