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

	"skillswap-backend/internal/broker"
	"skillswap-backend/internal/database"
	"skillswap-backend/internal/middleware"
	"skillswap-backend/internal/repository/cockroach"
	redisRepo "skillswap-backend/internal/repository/redis"
	"skillswap-backend/internal/worker"
	"skillswap-backend/pkg/config"
	"skillswap-backend/pkg/constants"
	"skillswap-backend/pkg/email"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
	"skillswap-backend/pkg/push"
)

const (
	serviceName = "notification-worker"
	// redialBackoff spaces broker reconnection attempts
	redialBackoff = 2 * time.Second

	contactCacheTTL  = 5 * time.Minute
	contactCacheSize = 10000
)

func main() {
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

	// 1. Call log in CockroachDB
	db, err := database.NewDB(ctx, cfg.Database.ConnString(), database.CallLogPoolConfig(cfg.Database.MaxConns))
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	db.ReportPoolStats(ctx, 15*time.Second)

	callLogs := cockroach.NewCallLogRepository(db.Pool)
	if err := callLogs.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate call log", zap.Error(err))
	}

	// 2. Push provider
	var pushProvider push.Provider
	providerType := push.ProviderType(cfg.Firebase.PushProvider)
	if providerType == push.ProviderTypeFirebase {
		app, err := database.NewFirebaseApp(ctx, &database.FirebaseConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsPath: cfg.Firebase.CredentialsPath,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Firebase", zap.Error(err))
		}
		defer app.Close()
		client, err := app.Messaging(ctx)
		if err != nil {
			logger.Fatal("Failed to create messaging client", zap.Error(err))
		}
		pushProvider, err = push.NewProvider(providerType, client)
		if err != nil {
			logger.Fatal("Failed to create push provider", zap.Error(err))
		}
	} else {
		if cfg.Server.Environment == "production" {
			logger.Warn("Mock push provider in production, no pushes will be delivered")
		}
		pushProvider, _ = push.NewProvider(providerType, nil)
	}

	// 3. Email
	var sender email.Sender = &email.MockSender{}
	if cfg.Email.APIURL != "" {
		sender = email.NewAPISender(cfg.Email.APIURL, cfg.Email.APIKey)
	}
	opts := worker.Options{
		Mailer: email.NewService(sender, cfg.Email.From),
		AppURL: cfg.Email.AppURL,
	}

	// 4. Redis contact directory and dedupe ledger; without it emails are
	// skipped and redeliveries reprocessed
	database.InitRedisMetrics()
	redisDB, err := database.NewRedisDB(ctx, &database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		logger.Warn("Redis unavailable, missed-call emails and dedupe disabled", zap.Error(err))
	} else {
		defer redisDB.Close()
		redisDB.StartHealthCheck(ctx, 10*time.Second)
		contacts := worker.NewCachedDirectory(redisRepo.NewDirectoryRepository(redisDB), contactCacheTTL, contactCacheSize)
		defer contacts.StartCleanup(time.Minute)()
		opts.Contacts = contacts
		opts.Ledger = redisRepo.NewEventRepository(redisDB)
	}

	w := worker.NewNotificationWorker(callLogs, pushProvider, opts)

	// 5. Health and metrics
	appMetrics := metrics.NewMetrics(serviceName)
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
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}()

	// 6. Consume until signalled, redialling when the broker drops us
	brokerCfg := broker.Config{
		URL:      cfg.RabbitMQ.URL,
		Exchange: cfg.RabbitMQ.Exchange,
		Queue:    cfg.RabbitMQ.Queue,
	}
	logger.Info("Notification worker starting", zap.String("queue", brokerCfg.Queue))
	for ctx.Err() == nil {
		client, err := broker.Dial(ctx, brokerCfg, redialBackoff)
		if err != nil {
			break
		}
		err = w.Run(ctx, client, serviceName)
		client.Close()
		if ctx.Err() != nil {
			break
		}
		logger.Warn("Consumer stopped, reconnecting", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Worker exited")
}
