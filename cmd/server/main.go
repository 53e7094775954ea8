// GaduGator - English conversation tutor server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gustawsonb-collab/gadugator/internal/api"
	"github.com/gustawsonb-collab/gadugator/internal/config"
	"github.com/gustawsonb-collab/gadugator/internal/convlog"
	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/identity"
	"github.com/gustawsonb-collab/gadugator/internal/kv"
	"github.com/gustawsonb-collab/gadugator/internal/live"
	"github.com/gustawsonb-collab/gadugator/internal/middleware"
	"github.com/gustawsonb-collab/gadugator/internal/observe"
	"github.com/gustawsonb-collab/gadugator/internal/provider"
	"github.com/gustawsonb-collab/gadugator/internal/provider/openai"
	"github.com/gustawsonb-collab/gadugator/internal/store"
	"github.com/gustawsonb-collab/gadugator/internal/tutor"
	"github.com/gustawsonb-collab/gadugator/web"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "ai_configured", cfg.AIConfigured())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	metricsProvider, err := observe.InitProvider()
	if err != nil {
		slog.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	metrics, err := observe.NewMetrics(metricsProvider.MeterProvider)
	if err != nil {
		slog.Error("Failed to create metric instruments", "error", err)
		os.Exit(1)
	}

	svc := api.Services{Metrics: metrics}
	client, err := openai.New(cfg.OpenAI.APIKey,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithTimeout(cfg.OpenAI.RequestTimeout),
		openai.WithModels(cfg.OpenAI.ChatModel, cfg.OpenAI.TranscribeModel, cfg.OpenAI.SpeechModel),
	)
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		slog.Warn("AI features disabled, requests will report the missing key", "error", err)
	case err != nil:
		slog.Error("Failed to initialize OpenAI client", "error", err)
		os.Exit(1)
	default:
		svc.Completer, svc.Transcriber, svc.Synthesizer = client, client, client
		slog.Info("OpenAI client initialized", "chat_model", cfg.OpenAI.ChatModel)
	}

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	loc, _ := cfg.Location()
	sessions := tutor.NewManager(func(deviceID string) kv.Storage {
		return store.NewDeviceStorage(repo, deviceID, cfg.Timeout.StoreOp)
	}, tutor.Deps{
		Completer:   svc.Completer,
		Transcriber: svc.Transcriber,
		Synthesizer: svc.Synthesizer,
		Metrics:     metrics,
		ConvLog:     conversationLogger,
		Logger:      logger,
	}, tutor.Options{
		Mode:          domain.ParseMode(cfg.Tutor.DefaultMode),
		Temperature:   cfg.Tutor.Temperature,
		DailyLimit:    cfg.Tutor.DailyLimit,
		MinAudioBytes: cfg.Tutor.MinAudioBytes,
		MaxAudioBytes: cfg.Tutor.MaxAudioBytes,
		RecordingCap:  cfg.Tutor.RecordingCap,
		SpeechChars:   cfg.Tutor.SpeechChars,
		Location:      loc,
	})
	defer sessions.CloseAll()

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, sessions, svc, api.Options{
		Temperature:        cfg.Tutor.Temperature,
		MinAudioBytes:      cfg.Tutor.MinAudioBytes,
		MaxAudioBytes:      cfg.Tutor.MaxAudioBytes,
		SpeechChars:        cfg.Tutor.SpeechChars,
		HealthCheckTimeout: cfg.Timeout.HealthCheck,
	})
	conns := live.NewRegistry()
	wsHandler := live.NewHandler(sessions, conns, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(observe.Middleware(metrics))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	apiHandler.RegisterHealth(r)
	r.Handle("/metrics", metricsProvider.Handler())

	// Device-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/session", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Speech responses and the live channel stream, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tutor.StartSweeper(ctx, sessions, repo, tutor.SweeperConfig{
		Interval:  cfg.Session.SweepInterval,
		IdleTTL:   cfg.Session.IdleTTL,
		Retention: cfg.Session.DeviceRetention,
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	conns.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := metricsProvider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Failed to flush metrics", "error", err)
	}

	slog.Info("Server stopped successfully")
}
