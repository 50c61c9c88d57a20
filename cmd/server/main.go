package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"story-narrator/internal/api"
	"story-narrator/internal/config"
	"story-narrator/internal/logger"
	"story-narrator/internal/middleware"
	"story-narrator/internal/pipeline"
	"story-narrator/internal/repository"
	"story-narrator/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogOutputPath,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	zap.ReplaceGlobals(log)
	zap.L().Info("Configuration loaded", zap.Any("config", cfg.Summary()))

	// --- Dependency Injection ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aiClient, err := service.NewAIClient(ctx, cfg, log.Named("AIClient"))
	if err != nil {
		zap.L().Fatal("Failed to create AI client", zap.Error(err))
	}
	synthesizer, err := service.NewSynthesizer(cfg, log.Named("Synthesizer"))
	if err != nil {
		zap.L().Fatal("Failed to create synthesizer", zap.Error(err))
	}
	audioRepo := repository.NewFileAudioRepository(cfg.AudioDir, cfg.AudioFileName, cfg.AudioPublicPath, log.Named("AudioRepo"))
	storyHandler := pipeline.NewStoryHandler(cfg, aiClient, synthesizer, audioRepo, log.Named("StoryHandler"))

	runPool, err := api.NewRunPool(cfg.GenerationQueueSize, log)
	if err != nil {
		zap.L().Fatal("Failed to create story run pool", zap.Error(err))
	}
	defer runPool.Release()

	summaryCache, err := api.NewSummaryCache(ctx, cfg.SummaryCacheTTL)
	if err != nil {
		zap.L().Fatal("Failed to create summary cache", zap.Error(err))
	}
	if summaryCache != nil {
		defer func() { _ = summaryCache.Close() }()
	}

	apiHandler := api.NewHandler(storyHandler, aiClient, runPool, summaryCache, log)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.AppEnv == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(middleware.ZapLoggingMiddlewareForGin(log))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	if allowedOrigins := cfg.GetAllowedOrigins(); len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		// Отражаем любой Origin: dev-фронтенд ходит с credentials
		corsConfig.AllowOriginFunc = func(string) bool { return true }
		zap.L().Info("CORS_ALLOWED_ORIGINS not set, allowing any origin")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	rateLimitMiddleware := api.NewRateLimiter(cfg.RateLimitPerMinute, log)
	apiHandler.RegisterRoutes(router, rateLimitMiddleware)

	// Аудио отдается по тому же публичному пути, который возвращает конвейер
	audioPath, err := audioRepo.Path()
	if err != nil {
		zap.L().Fatal("Failed to resolve audio path", zap.Error(err))
	}
	router.StaticFile(cfg.AudioPublicPath, audioPath)
	zap.L().Info("Serving audio file", zap.String("route", cfg.AudioPublicPath), zap.String("file", audioPath))

	p.Use(router)

	// --- Start HTTP Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // генерация и озвучка занимают минуты
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.HTTPServerPort))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	zap.L().Info("Server exiting")
}
