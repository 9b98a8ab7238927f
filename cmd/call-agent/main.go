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

	"skillswap-backend/internal/agent"
	"skillswap-backend/internal/broker"
	"skillswap-backend/internal/database"
	"skillswap-backend/internal/domain"
	agentHandler "skillswap-backend/internal/handler/http/agent"
	wsHandler "skillswap-backend/internal/handler/ws"
	"skillswap-backend/internal/media"
	"skillswap-backend/internal/middleware"
	"skillswap-backend/internal/repository/cassandra"
	firestoreRepo "skillswap-backend/internal/repository/firestore"
	"skillswap-backend/internal/repository/memory"
	redisRepo "skillswap-backend/internal/repository/redis"
	"skillswap-backend/internal/service/call"
	"skillswap-backend/internal/service/storage"
	"skillswap-backend/pkg/config"
	"skillswap-backend/pkg/constants"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
)

const serviceName = "call-agent"

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

	if cfg.Agent.UserID == "" {
		logger.Fatal("AGENT_USER_ID is required")
	}
	self := call.Participant{ID: cfg.Agent.UserID, Name: cfg.Agent.DisplayName}
	if self.Name == "" {
		self.Name = self.ID
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Redis backs the shared stores when selected and the contact
	// directory whenever it is reachable
	var redisDB *database.RedisClient
	if cfg.Agent.Store == "redis" || cfg.Agent.Email != "" {
		database.InitRedisMetrics()
		redisDB, err = database.NewRedisDB(ctx, &database.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		})
		if err != nil {
			if cfg.Agent.Store == "redis" {
				logger.Fatal("Failed to connect to Redis", zap.Error(err))
			}
			logger.Warn("Redis unavailable, contact not registered", zap.Error(err))
			redisDB = nil
		} else {
			defer redisDB.Close()
			redisDB.StartHealthCheck(ctx, 10*time.Second)
		}
	}

	// 2. Shared call records, chat and presence
	var stores agent.Stores
	switch cfg.Agent.Store {
	case "firestore":
		app, err := database.NewFirebaseApp(ctx, &database.FirebaseConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsPath: cfg.Firebase.CredentialsPath,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Firebase", zap.Error(err))
		}
		defer app.Close()
		stores.Calls = firestoreRepo.NewCallRepository(app.Firestore)
		stores.Messages = firestoreRepo.NewChatRepository(app.Firestore)
		stores.Presence = firestoreRepo.NewPresenceRepository(app.Firestore)
	case "redis":
		stores.Calls = redisRepo.NewCallRepository(redisDB)
		stores.Messages = redisRepo.NewChatRepository(redisDB)
		stores.Presence = redisRepo.NewPresenceRepository(redisDB)
	default:
		logger.Warn("Using in-process stores; calls only reach agents in this process")
		stores.Calls = memory.NewCallRepository()
		stores.Messages = memory.NewChatStore()
		stores.Presence = memory.NewPresenceRepository()
	}
	logger.Info("Shared stores ready", zap.String("store", cfg.Agent.Store))

	// 3. Optional per-user message index in Cassandra
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    cfg.Cassandra.Hosts,
		Keyspace: cfg.Cassandra.Keyspace,
		Username: cfg.Cassandra.Username,
		Password: cfg.Cassandra.Password,
		Timeout:  cfg.Cassandra.Timeout,
	})
	if err != nil {
		logger.Warn("Cassandra unavailable, message index disabled", zap.Error(err))
	} else {
		defer cassandraDB.Close()
		index := cassandra.NewMessageIndexRepository(cassandraDB)
		if err := index.Migrate(ctx); err != nil {
			logger.Warn("Failed to migrate message index", zap.Error(err))
		} else {
			stores.Index = index
		}
	}

	// 4. Optional attachment uploads to MinIO
	minioClient, err := storage.NewMinioClient(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.UseSSL)
	if err != nil {
		logger.Warn("MinIO client not created, attachments disabled", zap.Error(err))
	} else if uploader, err := storage.NewService(ctx, minioClient, cfg.MinIO.Bucket); err != nil {
		logger.Warn("MinIO unavailable, attachments disabled", zap.Error(err))
	} else {
		stores.Uploader = uploader
	}

	// 5. Optional call event publishing
	var publisher call.EventPublisher
	rabbit, err := broker.NewRabbitMQClient(broker.Config{
		URL:      cfg.RabbitMQ.URL,
		Exchange: cfg.RabbitMQ.Exchange,
		Queue:    cfg.RabbitMQ.Queue,
	})
	if err != nil {
		logger.Warn("RabbitMQ unavailable, call events not published", zap.Error(err))
	} else {
		defer rabbit.Close()
		publisher = rabbit
	}

	// 6. Media: tokens from the call service, rooms on its hub
	tokens := media.NewTokenClient(cfg.Media.TokenURL, cfg.Agent.AccessToken)
	adapter := media.NewAdapter(tokens, media.NewWSTransport(cfg.Media.ICEServers), cfg.Media.HubURL)

	// 7. Agent. Its lifetime ends with Shutdown, not with the signal.
	a := agent.New(context.Background(), agent.Config{
		Self:            self,
		RingTimeout:     cfg.Call.RingTimeout,
		CleanupDelay:    cfg.Call.CleanupDelay,
		CloseDelay:      cfg.Call.CloseDelay,
		PresenceRefresh: cfg.Call.PresenceRefresh,
	}, stores, call.AdapterOpener{Adapter: adapter}, publisher)
	if err := a.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start agent", zap.Error(err))
	}
	if err := a.ArmNotifier(); err != nil {
		logger.Warn("Failed to arm incoming call notifier", zap.Error(err))
	}

	if redisDB != nil && cfg.Agent.Email != "" {
		directory := redisRepo.NewDirectoryRepository(redisDB)
		contact := &domain.Contact{UserID: self.ID, DisplayName: self.Name, Email: cfg.Agent.Email}
		if err := directory.SetContact(ctx, contact); err != nil {
			logger.Warn("Failed to register contact", zap.Error(err))
		}
	}

	// 8. Local control API
	appMetrics := metrics.NewMetrics(serviceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

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

	v1 := router.Group("/v1")
	agentHandler.NewHandler(a).Register(v1)
	v1.GET("/events", wsHandler.NewEventStream(a, a.Calls, cfg.Server.AllowedOrigins).ServeWS)

	// The control API has no authentication and only listens on loopback
	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Agent.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Call agent listening",
			zap.String("user_id", self.ID),
			zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	// Calls end and presence goes offline before the stores close
	a.Shutdown(shutdownCtx)
	logger.Info("Agent exited")
}
