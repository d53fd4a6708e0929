package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/alertops-platform/caseflow/internal/assign"
	"github.com/alertops-platform/caseflow/internal/config"
	"github.com/alertops-platform/caseflow/internal/handler"
	"github.com/alertops-platform/caseflow/internal/ingest"
	"github.com/alertops-platform/caseflow/internal/lifecycle"
	"github.com/alertops-platform/caseflow/internal/notify"
	"github.com/alertops-platform/caseflow/internal/repository"
	"github.com/alertops-platform/caseflow/internal/rulesource"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var logHandler slog.Handler
	if cfg.Logging.Format == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	slog.Info("starting service",
		"service", cfg.Service.Name,
		"environment", cfg.Service.Environment,
		"port", cfg.Service.HTTPPort,
	)

	// Initialize PostgreSQL connection
	db, err := repository.Connect(cfg.Database.DSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	slog.Info("database connection established",
		"host", cfg.Database.Host,
		"database", cfg.Database.Database,
	)

	// Repositories
	caseRepo := repository.NewCaseRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	// Redis backs rotation counters and realtime delivery; without it the
	// service falls back to in-process counters and drops realtime delivery.
	var (
		rotation assign.Rotation           = assign.NewMemoryRotation()
		realtime notify.RealtimePublisher = notify.NopRealtime{}
	)
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		rotation = assign.NewRedisRotation(redisClient)
		realtime = notify.NewRedisRealtime(redisClient)
		slog.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// Case events go to Kafka when brokers are configured.
	var events notify.EventPublisher = notify.NopEvents{}
	if cfg.Kafka.Enabled {
		kafka, err := notify.NewKafkaEvents(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			slog.Error("failed to initialize kafka producer", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		events = kafka
		slog.Info("kafka producer ready", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// Email provider: Resend when an API key is set, SMTP when a host is set,
	// otherwise email notifications degrade to realtime channels.
	var email notify.EmailProvider
	switch {
	case cfg.Notify.ResendAPIKey != "":
		email = notify.NewResendEmail(cfg.Notify.ResendAPIKey, cfg.Notify.FromAddress)
		slog.Info("email provider ready", "provider", "resend")
	case cfg.Notify.SMTPHost != "":
		email = notify.NewSMTPEmail(cfg.Notify.SMTPHost, cfg.Notify.SMTPPort,
			cfg.Notify.SMTPUser, cfg.Notify.SMTPPassword, cfg.Notify.FromAddress)
		slog.Info("email provider ready", "provider", "smtp", "host", cfg.Notify.SMTPHost)
	default:
		slog.Warn("no email provider configured, notifications use realtime channels only")
	}

	templates, err := notify.LoadTemplates(cfg.Notify.TemplatesPath)
	if err != nil {
		slog.Error("failed to load notification templates", "error", err)
		os.Exit(1)
	}

	// Pipeline
	fanout := notify.NewFanout(notificationRepo, directoryRepo, ruleRepo, email, realtime, events,
		templates, cfg.Notify.AdminChannel, cfg.Notify.AdminEmail, logger)
	resolver := assign.NewResolver(directoryRepo, caseRepo, rotation, logger)
	manager := lifecycle.NewManager(caseRepo, activityRepo, resolver, fanout,
		cfg.Pipeline.DedupWindow, cfg.Pipeline.AutoCloseResolved, logger)
	ingestor := ingest.NewIngestor(ruleRepo, alertRepo, manager, logger)

	// Rule source is optional: without a configured base URL the registry is
	// operator-managed only.
	var syncer *rulesource.Syncer
	if cfg.Grafana.BaseURL != "" {
		source := rulesource.NewGrafanaClient(cfg.Grafana.BaseURL, cfg.Grafana.APIKey, cfg.Grafana.Timeout)
		syncer = rulesource.NewSyncer(source, ruleRepo, logger)
	}

	// Set up HTTP router
	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)
	router.Use(corsMiddleware(cfg.CORS))

	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/ready", readyHandler(db)).Methods("GET")
	router.HandleFunc("/metrics", metricsHandler).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	handler.NewWebhookHandler(ingestor, logger).RegisterRoutes(apiRouter)
	handler.NewCaseHandler(manager, caseRepo, activityRepo, notificationRepo, alertRepo).RegisterRoutes(apiRouter)
	var ruleSyncer handler.RuleSyncer
	if syncer != nil {
		ruleSyncer = syncer
	}
	handler.NewRuleHandler(ruleRepo, ruleSyncer).RegisterRoutes(apiRouter)

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sweeper := lifecycle.NewSweeper(manager, cfg.Pipeline.SweepInterval, logger)
	go sweeper.Run(workerCtx)

	if syncer != nil && cfg.Pipeline.RuleSyncInterval > 0 {
		go syncer.Run(workerCtx, cfg.Pipeline.RuleSyncInterval)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
		IdleTimeout:  cfg.Service.IdleTimeout,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Start metrics server if configured on different port
	var metricsServer *http.Server
	if cfg.Service.MetricsPort != "" && cfg.Service.MetricsPort != cfg.Service.HTTPPort {
		metricsRouter := mux.NewRouter()
		metricsRouter.HandleFunc("/metrics", metricsHandler).Methods("GET")
		metricsRouter.HandleFunc("/health", healthHandler).Methods("GET")

		metricsServer = &http.Server{
			Addr:         ":" + cfg.Service.MetricsPort,
			Handler:      metricsRouter,
			ReadTimeout:  cfg.Service.ReadTimeout,
			WriteTimeout: cfg.Service.WriteTimeout,
		}

		go func() {
			slog.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down servers")

	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced to shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("metrics server forced to shutdown", "error", err)
		}
	}

	// Let in-flight notification deliveries finish before the process exits.
	fanout.Wait()

	slog.Info("servers exited gracefully")
}

// Middleware

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
				)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(cfg config.CORSConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range cfg.AllowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			// Handle preflight
			if r.Method == "OPTIONS" {
				w.Header().Set("Access-Control-Allow-Methods", joinStrings(cfg.AllowedMethods))
				w.Header().Set("Access-Control-Allow-Headers", joinStrings(cfg.AllowedHeaders))
				w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", cfg.MaxAge))
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func joinStrings(strs []string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for i := 1; i < len(strs); i++ {
		result += ", " + strs[i]
	}
	return result
}

// Handlers

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"healthy","service":"caseflow"}`)
}

func readyHandler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"not_ready","service":"caseflow","error":"database connection failed"}`)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ready","service":"caseflow"}`)
	}
}

func metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := `# HELP caseflow_up Service health status
# TYPE caseflow_up gauge
caseflow_up 1

# HELP caseflow_info Service information
# TYPE caseflow_info gauge
caseflow_info{service="caseflow",version="1.0.0"} 1
`
	fmt.Fprint(w, metrics)
}
