// Command chat-relay is the main entrypoint for the chat distribution service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and Redis and runs idempotent migrations.
//   - Starts the websocket gateway, fanout registry, and liveness monitor.
//   - Exposes the HTTP API: messages, replay, admin tooling, LLM helpers,
//     /healthz, /readyz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chat-relay/cache"
	"github.com/onnwee/chat-relay/chat"
	"github.com/onnwee/chat-relay/config"
	"github.com/onnwee/chat-relay/db"
	"github.com/onnwee/chat-relay/gateway"
	"github.com/onnwee/chat-relay/llm"
	"github.com/onnwee/chat-relay/server"
	"github.com/onnwee/chat-relay/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-relay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: embedded SQL (db.Migrate) for backward compatibility
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to legacy embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("legacy embedded SQL migration completed successfully",
			slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully",
			slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Cache
	channelCache, err := cache.New(ctx, cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		slog.Error("failed to connect to redis", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := channelCache.Close(); err != nil {
			slog.Error("failed to close redis", slog.Any("err", err))
		}
	}()

	// Core wiring: registry for fanout, service for ingestion and replay
	store := db.NewStore(database)
	registry := gateway.NewRegistry()
	svc := chat.NewService(store, channelCache, registry)

	// Liveness monitor reaps connections that stop answering probes
	monitor := gateway.NewLivenessMonitor(registry, cfg.PingInterval, cfg.PingMaxMissed)
	go monitor.Run(ctx)

	// LLM helper is optional; endpoints report 503 when unconfigured
	var llmClient *llm.Client
	if cfg.OpenAIKey != "" {
		llmClient = llm.New(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	} else {
		slog.Info("OPENAI_API_KEY not set; LLM endpoints disabled")
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server
	handlers := server.NewHandlers(ctx, svc, store, channelCache, registry, llmClient)
	ws := gateway.NewHandler(ctx, registry, svc, cfg.AllowedOrigins)
	httpHandler := server.NewMux(handlers, ws, cfg.AllowedOrigins)
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := server.Start(ctx, cfg.HTTPAddr, httpHandler); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	registry.CloseAll()
}
