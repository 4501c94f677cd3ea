package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/api"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/audit"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/booking"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/circuitbreaker"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/clock"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/config"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/db"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/metrics"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/notify"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/observ"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/redis"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/reminder"
	"github.com/InnovateCodeFactory/marquei-backend-sub000/internal/schedule"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting marquei scheduling core",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	repo := db.NewRepository(database, logger)

	// Redis backs idempotency, rate limiting, and the dispatch lock. The
	// booking API keeps working without it, minus those protections.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	var dispatchLock reminder.Locker = reminder.NoopLocker{}
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
		dispatchLock = redis.NewLock(redisClient, "reminder-dispatch", cfg.DispatchLockTTL, logger)
		defer redisClient.Close()
	}

	// Audit stream publishes booking and reminder events to SQS.
	var publisher audit.Publisher
	if cfg.SQSQueueURL != "" {
		stream, err := audit.NewStream(ctx, audit.StreamConfig{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("audit stream unavailable, events will only be logged",
				zap.Error(err),
			)
		} else {
			publisher = stream
		}
	}
	trail := audit.NewTrail(publisher, logger)

	// Delivery providers, each behind its own circuit breaker.
	var senders []notify.Sender

	sesSender, err := notify.NewSESSender(ctx, notify.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES email sender: %w", err)
	}
	senders = append(senders, circuitbreaker.NewProtectedSender(
		sesSender, circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger), logger))

	snsSender, err := notify.NewSNSSender(ctx, notify.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, push reminders disabled",
			zap.Error(err),
		)
	} else {
		senders = append(senders, circuitbreaker.NewProtectedSender(
			snsSender, circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger), logger))
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		twilioSender := notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID:     cfg.TwilioAccountSID,
			AuthToken:      cfg.TwilioAuthToken,
			WhatsAppNumber: cfg.TwilioWhatsAppNumber,
		}, logger)
		senders = append(senders, circuitbreaker.NewProtectedSender(
			twilioSender, circuitbreaker.New(circuitbreaker.DefaultConfig("twilio"), logger), logger))
	} else {
		logger.Warn("twilio not configured, whatsapp reminders disabled")
	}

	multiSender := notify.NewMultiSender(logger, senders...)

	logger.Info("initialized reminder delivery channels",
		zap.Bool("email_enabled", true),
		zap.Bool("push_enabled", snsSender != nil),
		zap.Bool("whatsapp_enabled", cfg.TwilioAccountSID != ""),
	)

	conv := schedule.NewConverter()
	clk := clock.Real{}

	planner := reminder.NewPlanner(repo, clk, logger)
	bookingSvc := booking.NewService(repo, planner, conv, clk, logger)

	dispatcher := reminder.NewDispatcher(repo, multiSender, dispatchLock, conv, clk, reminder.Config{
		Grace:    cfg.DispatchGrace,
		Stagger:  cfg.DispatchStagger,
		PageSize: cfg.DispatchPageSize,
	}, logger)

	// Cron drives the dispatch tick. The Redis lock keeps concurrent
	// instances from double-sending; the in-process mutex keeps a slow
	// tick from overlapping the next fire.
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.DispatchInterval), func() {
		if err := dispatcher.RunTick(dispatchCtx); err != nil {
			logger.Error("dispatch tick failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule dispatcher: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info("reminder dispatcher scheduled",
		zap.Duration("interval", cfg.DispatchInterval),
	)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, bookingSvc, idempotencyService, trail)
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.BusinessKeyFunc))
		handler.Routes(r)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop scheduling new ticks and let a running one finish.
		<-scheduler.Stop().Done()
		dispatchCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
