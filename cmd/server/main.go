package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/config"
	"github.com/Kiryzsuuu/call-agent/internal/database"
	"github.com/Kiryzsuuu/call-agent/internal/document"
	"github.com/Kiryzsuuu/call-agent/internal/handler"
	"github.com/Kiryzsuuu/call-agent/internal/jobs"
	"github.com/Kiryzsuuu/call-agent/internal/llm"
	"github.com/Kiryzsuuu/call-agent/internal/middleware"
	"github.com/Kiryzsuuu/call-agent/internal/notify"
	"github.com/Kiryzsuuu/call-agent/internal/observability"
	"github.com/Kiryzsuuu/call-agent/internal/redis"
	"github.com/Kiryzsuuu/call-agent/internal/repository"
	"github.com/Kiryzsuuu/call-agent/internal/service"
	"github.com/Kiryzsuuu/call-agent/internal/sse"
	"github.com/Kiryzsuuu/call-agent/internal/whatsapp"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	callLogRepo, closeStore, err := openCallLogStore(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.CallLogBackend).Msg("failed to open call log store")
	}
	defer closeStore()
	log.Info().Str("backend", callLogRepo.Backend()).Msg("call log store ready")

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer, cfg.MetricsNamespace)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()
	broker.OnClientCountChange(func(n int) { metrics.ConsoleClients.Set(float64(n)) })

	var (
		staffSessionRepo repository.StaffSessionRepository
		webhookLimiter   service.RateLimiter
		loginLimiter     service.RateLimiter
	)
	if redisClient != nil {
		staffSessionRepo = repository.NewRedisStaffSessionRepository(redisClient.Client)
		webhookLimiter = service.NewRedisRateLimiter(redisClient.Client, true)
		loginLimiter = service.NewRedisRateLimiter(redisClient.Client, false)
	} else {
		staffSessionRepo = repository.NewMemoryStaffSessionRepository()
		memoryLimiter := service.NewMemoryRateLimiter()
		webhookLimiter = memoryLimiter
		loginLimiter = memoryLimiter
	}

	library, err := document.NewLibrary(cfg.PDFStorageDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open pdf library")
	}
	textCache, err := document.NewCache(cfg.PDFTextPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open pdf text cache")
	}

	waClient := whatsapp.NewClient(cfg.WhatsAppAPIBaseURL, cfg.WhatsAppToken, cfg.WhatsAppPhoneID, config.UpstreamTimeout)
	responder := llm.NewResponder(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, config.UpstreamTimeout)
	emailNotifier := notify.NewEmail(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, config.UpstreamTimeout)
	whatsAppNotifier := notify.NewWhatsApp(waClient, cfg.WhatsAppOutboxPath)

	callLogService := service.NewCallLogService(callLogRepo, metrics, broker)
	orderService := service.NewOrderService(callLogService, emailNotifier, whatsAppNotifier, metrics, config.UpstreamTimeout)
	relayService := service.NewChatRelayService(
		callLogService, orderService, responder, textCache, waClient, webhookLimiter, metrics,
		service.ChatRelayConfig{
			RateLimit:  config.WhatsAppRateLimitPerMin,
			RateWindow: config.WhatsAppRateLimitWindow,
		},
	)
	staffService := service.NewStaffService(
		staffSessionRepo, callLogService, cfg.StaffPasswordHash, cfg.StaffSessionSecret, config.StaffSessionTTL,
	)
	documentService := service.NewDocumentService(library, document.NewPopplerExtractor(), textCache, config.MaxPDFUploadSize)

	if !staffService.Enabled() {
		log.Warn().Msg("STAFF_PASSWORD_HASH is empty: staff console login disabled")
	}

	agentAuthMiddleware := middleware.NewAgentAuthMiddleware(cfg.AgentAPIToken)
	staffSessionMiddleware := middleware.NewStaffSessionMiddleware(staffService)
	whatsAppSignatureMiddleware := middleware.NewWhatsAppSignatureMiddleware(cfg.WhatsAppAppSecret)
	loginRateLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		loginLimiter, config.StaffLoginRateLimit, config.StaffLoginRateWindow, "console_login",
	)
	csrfMiddleware := middleware.NewCSRFMiddleware(isProduction)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(config.MaxJSONBodySize)
	uploadLimitMiddleware := middleware.NewBodyLimitMiddleware(config.MaxPDFUploadSize + 1<<20)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	callLogHandler := handler.NewCallLogHandler(callLogService, orderService, relayService)
	documentHandler := handler.NewDocumentHandler(documentService, config.MaxPDFUploadSize)
	settingsHandler := handler.NewSettingsHandler(repository.NewFileSettingsRepository(cfg.ConfigFile))
	whatsAppHandler := handler.NewWhatsAppHandler(relayService, handler.WhatsAppHandlerConfig{
		VerifyToken:     cfg.WhatsAppVerifyToken,
		Timeout:         config.ServerRequestTimeout,
		WhatsAppEnabled: waClient.Configured(),
		OpenAIEnabled:   responder.Configured(),
	})
	consoleHandler := handler.NewConsoleHandler(staffService, callLogService, relayService, isProduction)
	eventsHandler := handler.NewEventsHandler(broker, callLogService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"backend":   callLogService.Backend(),
			"timestamp": time.Now().UnixMilli(),
		})
	})
	r.Method(http.MethodGet, "/metrics", observability.Handler(prometheus.DefaultGatherer))

	// Voice agent and operator tooling.
	r.Group(func(r chi.Router) {
		r.Use(agentAuthMiddleware.Handler)
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Group(func(r chi.Router) {
			r.Use(bodyLimitMiddleware.Handler)
			callLogHandler.Register(r)
			settingsHandler.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(uploadLimitMiddleware.Handler)
			documentHandler.Register(r)
		})
	})

	r.Get("/webhook", whatsAppHandler.Verify)
	r.With(bodyLimitMiddleware.Handler, whatsAppSignatureMiddleware.Handler).Post("/webhook", whatsAppHandler.Receive)
	r.Get("/whatsapp/status", whatsAppHandler.Status)

	r.Route("/console", func(r chi.Router) {
		r.Route("/api", func(r chi.Router) {
			r.Use(securityHeadersMiddleware.Handler)
			r.Use(bodyLimitMiddleware.Handler)
			r.Use(csrfMiddleware.Handler)

			r.With(loginRateLimitMiddleware.Handler).Post("/login", consoleHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(staffSessionMiddleware.Handler)
				r.Get("/events", eventsHandler.ServeHTTP)

				r.Group(func(r chi.Router) {
					r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
					consoleHandler.RegisterProtected(r)
				})
			})
		})

		if cfg.ConsoleStaticDir != "" {
			r.Handle("/*", handler.NewSPAHandler(cfg.ConsoleStaticDir))
		}
	})

	cleanupJob := jobs.NewCleanupJob(callLogService, staffService, cfg.CallLogRetention(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Bool("whatsapp", cfg.WhatsAppConfigured()).
			Bool("openai", responder.Configured()).
			Bool("smtp", cfg.SMTPConfigured()).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// openCallLogStore builds the configured call log backend. With redis, the
// per-session lock is shared across replicas.
func openCallLogStore(cfg *config.Config, redisClient *redis.Client) (repository.CallLogRepository, func(), error) {
	var locker repository.KeyLocker = repository.NewKeyLock(cfg.LockTimeout())
	if redisClient != nil {
		locker = repository.ChainLocker{
			locker,
			repository.MapLockTimeout(redis.NewSessionLock(redisClient.Client, cfg.LockTimeout()), redis.ErrLockNotAcquired),
		}
	}

	switch cfg.CallLogBackend {
	case config.BackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := repository.EnsurePostgresSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().Msg("database connected")
		return repository.NewPostgresCallLogRepository(db, cfg.LockTimeout()), func() { db.Close() }, nil

	case config.BackendSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath, cfg.LockTimeout())
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		repo, err := repository.NewSQLiteCallLogRepository(db, locker)
		if err != nil {
			closeDB()
			return nil, nil, err
		}
		return repo, closeDB, nil

	default:
		repo, err := repository.NewFileCallLogRepository(cfg.CallLogDir, locker)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
