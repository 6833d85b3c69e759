package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	ginprometheus "github.com/zsais/go-gin-prometheus"

	"storyboard-server/internal/apikeys"
	"storyboard-server/internal/autosave"
	"storyboard-server/internal/config"
	"storyboard-server/internal/executor"
	"storyboard-server/internal/handler"
	"storyboard-server/internal/logger"
	"storyboard-server/internal/middleware"
	"storyboard-server/internal/provider/aivideo"
	"storyboard-server/internal/provider/gemini"
	"storyboard-server/internal/provider/whomeai"
	"storyboard-server/internal/repository"
	"storyboard-server/internal/service"
)

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)
	zap.L().Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	// --- External Connections ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgPool, err := setupPostgres(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()
	zap.L().Info("Connected to PostgreSQL")

	if err := runMigrations(cfg); err != nil {
		zap.L().Fatal("Failed to run database migrations", zap.Error(err))
	}
	zap.L().Info("Database migrations applied")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zap.L().Info("Connected to Redis")

	// --- Dependency Injection ---
	projectRepo := repository.NewPgProjectRepository(pgPool, log)
	settingsRepo := repository.NewRedisSettingsRepository(redisClient, log)

	keys, err := settingsRepo.Load(ctx)
	if err != nil {
		zap.L().Fatal("Failed to load Gemini key pool", zap.Error(err))
	}
	rotator := apikeys.NewRotator(keys)
	zap.L().Info("Gemini key pool loaded", zap.Int("count", rotator.Len()))

	exec := executor.New(rotator, cfg.ExecMaxAttempts, cfg.ExecBaseBackoff, cfg.ExecMaxJitter, log)
	geminiClient := gemini.NewClient(exec, gemini.Config{
		TextModel:  cfg.GeminiTextModel,
		ProModel:   cfg.GeminiProModel,
		ImageModel: cfg.GeminiImageModel,
		Timeout:    cfg.GeminiTimeout,
	}, log)

	aivideoToken := cfg.AIVideoAccessToken
	if stored, err := settingsRepo.GetAIVideoToken(ctx); err == nil && stored != "" {
		aivideoToken = stored
	}
	aivideoClient := aivideo.NewClient(aivideo.Config{
		BaseURL:     cfg.AIVideoBaseURL,
		Domain:      cfg.AIVideoDomain,
		AccessToken: aivideoToken,
		Timeout:     cfg.AIVideoTimeout,
	}, log)

	whomeaiKey := cfg.WhomeAIAPIKey
	if stored, err := settingsRepo.GetWhomeAIKey(ctx); err == nil && stored != "" {
		whomeaiKey = stored
	}
	whomeaiClient := whomeai.NewClient(whomeai.Config{
		BaseURL:     cfg.WhomeAIBaseURL,
		ImageModel:  cfg.WhomeAIImageModel,
		EditModel:   cfg.WhomeAIEditModel,
		APIKey:      whomeaiKey,
		Timeout:     cfg.WhomeAITimeout,
		MaxAttempts: cfg.WhomeAIMaxAttempts,
		BaseBackoff: cfg.WhomeAIBaseBackoff,
	}, log)

	saver := autosave.NewSaver(projectRepo, cfg.AutosaveDebounce, log)
	defer saver.Close()

	sceneGen := service.NewSceneBatchGenerator(cfg.SceneMaxStalls, cfg.SceneEmitDelay, log)
	poller := service.NewVideoPoller(aivideoClient, cfg.VideoPollInterval, cfg.VideoPollTimeout, log)

	storyboard := service.NewStoryboard(
		projectRepo, saver, geminiClient, aivideoClient, whomeaiClient,
		sceneGen, poller,
		service.Options{
			SceneSeconds: cfg.SceneSeconds,
			PacingDelay:  cfg.BatchPacingDelay,
		},
		log,
	)

	apiHandler := handler.NewStoryboardHandler(
		storyboard, settingsRepo, rotator,
		aivideoClient.SetAccessToken, whomeaiClient.SetAPIKey,
		log,
	)

	// --- HTTP Server (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.ZapLoggingMiddlewareForGin(log))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if origins := cfg.GetAllowedOrigins(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
		zap.L().Info("CORS_ALLOWED_ORIGINS not set, allowing default", zap.String("origin", "http://localhost:3000"))
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	apiHandler.RegisterRoutes(router)

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
		// Долгие операции (батчи сцен, видео) держат соединение открытым.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zap.L().Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// Отдельный порт для Prometheus.
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		zap.L().Info("Starting metrics server", zap.String("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Metrics server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	storyboard.StopAllVideoPolling()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Metrics server forced to shutdown", zap.Error(err))
	}

	zap.L().Info("Server exiting")
}

// setupPostgres initializes the PostgreSQL connection pool with retry logic.
func setupPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	var pool *pgxpool.Pool
	var lastErr error
	const maxRetries = 10
	const retryDelay = 3 * time.Second

	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		pool, err = pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err == nil {
			err = pool.Ping(connectCtx)
		}
		connectCancel()

		if err == nil {
			return pool, nil
		}
		lastErr = fmt.Errorf("postgres connection failed (attempt %d/%d): %w", attempt, maxRetries, err)
		zap.L().Warn("Postgres connection failed, retrying...",
			zap.Int("attempt", attempt), zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, lastErr
}

// runMigrations applies pending migrations from the configured directory.
func runMigrations(cfg *config.Config) error {
	m, err := migrate.New("file://"+cfg.MigrationsDir, cfg.GetDSN())
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
