package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"skillswap-backend/internal/database"
	callsHandler "skillswap-backend/internal/handler/http/calls"
	wsHandler "skillswap-backend/internal/handler/ws"
	"skillswap-backend/internal/media"
	"skillswap-backend/internal/middleware"
	"skillswap-backend/internal/repository/cockroach"
	redisRepo "skillswap-backend/internal/repository/redis"
	tokenService "skillswap-backend/internal/service/token"
	"skillswap-backend/pkg/config"
	"skillswap-backend/pkg/constants"
	"skillswap-backend/pkg/jwt"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
)

const serviceName = "call-service"

func main() {
	// .env is optional; real deployments use the environment and secrets
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
		Service:  serviceName,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Access tokens and room tokens
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience, cfg.JWT.AccessTokenExpiry)
	roomSigner := jwt.NewRoomTokenSigner(cfg.Media.APIKey, cfg.Media.APISecret, cfg.Media.TokenTTL)
	if !cfg.MediaConfigured() {
		logger.Warn("MEDIA_API_KEY/MEDIA_API_SECRET not set, token requests will fail")
	}

	// 2. Redis: revocation, rate limits and room rosters. The service runs
	// without it on local fallbacks.
	database.InitRedisMetrics()
	redisDB, err := database.NewRedisDB(ctx, &database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	var (
		revocation  middleware.RevocationChecker
		rateCounter middleware.WindowCounter
	)
	if err != nil {
		logger.Warn("Redis unavailable, using in-process rate limits and rosters", zap.Error(err))
		redisDB = nil
	} else {
		defer redisDB.Close()
		redisDB.StartHealthCheck(ctx, 10*time.Second)
		revocation = redisRepo.NewRevocationRepository(redisDB)
		rateCounter = redisDB
		logger.Info("Connected to Redis")
	}

	// 3. CockroachDB call history
	var (
		history callsHandler.HistoryReader
		db      *database.DB
	)
	db, err = database.NewDB(ctx, cfg.Database.ConnString(), database.CallLogPoolConfig(cfg.Database.MaxConns))
	if err != nil {
		logger.Warn("CockroachDB unavailable, call history disabled", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		db.ReportPoolStats(ctx, 15*time.Second)
		logRepo := cockroach.NewCallLogRepository(db.Pool)
		if err := logRepo.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate call log", zap.Error(err))
		}
		history = logRepo
		logger.Info("Connected to CockroachDB")
	}

	// 4. Services and handlers
	tokenSvc := tokenService.NewService(roomSigner, cfg.Media.HubURL)
	callsHdlr := callsHandler.NewHandler(tokenSvc, history)
	roomHub := wsHandler.NewRoomHub(roomSigner, redisDB, wsHandler.RoomHubConfig{
		MaxConnections: constants.RoomHubMaxConnections,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	appMetrics := metrics.NewMetrics(serviceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	tokenLimiter := middleware.NewRateLimiter(rateCounter, cfg.RateLimit.TokenPerMinute, time.Minute)

	// 5. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	var probes []middleware.HealthProbe
	if redisDB != nil {
		probes = append(probes, middleware.HealthProbe{Name: "redis", Healthy: func() bool { return !redisDB.IsDegraded() }})
	}
	router.Use(middleware.HealthCheck(serviceName, probes...))
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// Room connections authenticate with the room token itself
	router.GET("/v1/rooms/ws", roomHub.ServeWS)

	calls := router.Group("/v1/calls")
	calls.Use(middleware.AuthMiddleware(jwtManager, revocation))
	calls.Use(middleware.NewTimeoutMiddleware(constants.DefaultTimeout).Middleware())
	{
		calls.POST("/token", tokenLimiter.Middleware(), callsHdlr.IssueToken)
		if db != nil {
			calls.GET("/history", middleware.NewDBPoolLimiter(db).Middleware(), callsHdlr.GetHistory)
		} else {
			calls.GET("/history", callsHdlr.GetHistory)
		}
	}

	// 6. Serve until signalled
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("token_path", media.TokenPath),
			zap.String("room_hub", "/v1/rooms/ws"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}
