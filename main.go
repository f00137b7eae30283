package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkin/internal/audit"
	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin/checkin_api"
	checkin_db "ms-checkin/internal/checkin/db"
	"ms-checkin/internal/checkin/idempotency"
	"ms-checkin/internal/checkin/occupancy"
	checkin "ms-checkin/internal/checkin/service"
	"ms-checkin/internal/config"
	"ms-checkin/internal/database/migrations"
	"ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"
	"ms-checkin/internal/utils"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		logger.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		sqldb.Close()
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(sqldb, logger)
		if err := runner.MigrateUp(); err != nil {
			logger.Fatal("MIGRATE", fmt.Sprintf("Failed to run migrations: %v", err))
		}
		logger.LogDatabase("MIGRATE", "schema", "migrations applied")
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))
	return bunDB, redisClient
}

func newAuditRecorder(cfg *config.Config, logger *logger.Logger) (checkin.AuditRecorder, func()) {
	if !cfg.Kafka.Enabled {
		logger.Info("KAFKA", "Kafka disabled, security audit goes to the log only")
		return audit.NewLogRecorder(logger), func() {}
	}

	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.AuditTopic}, logger); err != nil {
		logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, func(err error) {
		metrics.AuditFailuresTotal.Inc()
		logger.Error("KAFKA", err.Error())
	})
	recorder := audit.NewKafkaRecorder(producer, logger)
	recorder.OnError = func(error) { metrics.AuditFailuresTotal.Inc() }
	logger.Info("KAFKA", fmt.Sprintf("Audit producer initialized for topic %s", cfg.Kafka.AuditTopic))

	return recorder, func() {
		if err := producer.Close(); err != nil {
			logger.Error("KAFKA", fmt.Sprintf("Failed to flush audit producer: %v", err))
		}
	}
}

func requestLogger(logger *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
		})
	}
}

// newHTTPServer derives every request context from ctx, so cancelling it ends
// long-lived requests such as occupancy streams, which Shutdown alone waits for.
func newHTTPServer(ctx context.Context, cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Check-in Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	metrics.Register()

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	var backend idempotency.Backend
	switch cfg.Checkin.IdempotencyBackend {
	case "memory":
		logger.Warn("CONFIG", "Using in-memory idempotency store; replays are not shared between instances")
		backend = idempotency.NewMemoryBackend()
	default:
		backend = idempotency.NewRedisBackend(redisClient)
	}
	coordinator := idempotency.NewCoordinator(backend,
		idempotency.WithTTL(cfg.Checkin.IdempotencyTTL),
		idempotency.WithInFlightTTL(cfg.Checkin.InFlightTTL),
		idempotency.WithPollInterval(cfg.Checkin.InFlightPoll),
	)

	broadcaster := occupancy.NewBroadcaster(occupancy.WithDropHandler(func(models.OccupancyUpdate) {
		metrics.BroadcastDropsTotal.Inc()
	}))

	recorder, closeAudit := newAuditRecorder(cfg, logger)
	defer closeAudit()

	checkinService := checkin.NewCheckinService(&checkin_db.DB{Bun: bunDB}, coordinator, broadcaster, recorder, logger)
	checkinService.AdmissionGrace = cfg.Checkin.AdmissionGrace
	checkinService.HistoryLimit = cfg.Checkin.HistoryLimit

	if cfg.Checkin.OccupancyRelay {
		relay := occupancy.NewRedisRelay(redisClient, cfg.Checkin.OccupancyChannel, broadcaster, logger)
		if err := relay.Start(ctx); err != nil {
			logger.Fatal("REDIS", fmt.Sprintf("Failed to start occupancy relay: %v", err))
		}
		checkinService.Publisher = relay
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		logger.Fatal("AUTH", fmt.Sprintf("Failed to configure token verification: %v", err))
	}

	checkinHandler := checkin_api.NewHandler(checkinService, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", checkin_api.IdempotencyKeyHeader},
		ExposedHeaders:   []string{checkin_api.ReplayedHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Public Routes ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			utils.WriteError(w, http.StatusServiceUnavailable, "database unavailable", err)
			return
		}
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			utils.WriteError(w, http.StatusServiceUnavailable, "redis unavailable", err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Handle("/metrics", promhttp.Handler())

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))
		logger.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Route("/api", checkinHandler.RegisterRoutes)
		logger.Info("ROUTER", "Check-in routes registered under /api/checkin")
	})

	server := newHTTPServer(ctx, cfg.Server, r)

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Check-in Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	// Ends the relay and every open occupancy stream before Shutdown waits on them.
	cancelBackground()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Check-in Service shutdown complete")
	}
}
