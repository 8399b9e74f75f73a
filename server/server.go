// Package server exposes the HTTP API: message send/replay, admin tooling, LLM
// helpers, health probes, and the websocket endpoint. It injects correlation
// IDs into request contexts for consistent logging.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(h *Handlers, ws http.Handler, allowedOrigins []string) http.Handler {
	authCfg := loadAuthConfig()

	r := mux.NewRouter()

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Health and readiness endpoints
	r.HandleFunc("/healthz", h.HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.HandleReadyz).Methods(http.MethodGet)

	// Websocket endpoint
	r.Handle("/ws", ws).Methods(http.MethodGet)

	// Message endpoints
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/messages", h.HandleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/replay", h.HandleReplay).Methods(http.MethodPost)

	// LLM helper endpoints
	api.HandleFunc("/llm/summary", h.HandleLLMSummary).Methods(http.MethodPost)
	api.HandleFunc("/llm/search", h.HandleLLMSearch).Methods(http.MethodPost)

	// Admin endpoints, behind auth when configured
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(adminAuth(authCfg))
	admin.HandleFunc("/reset", h.HandleAdminReset).Methods(http.MethodPost)
	admin.HandleFunc("/generate", h.HandleAdminGenerate).Methods(http.MethodPost)
	admin.HandleFunc("/messages", h.HandleAdminMessages).Methods(http.MethodGet)
	admin.HandleFunc("/metrics", h.HandleAdminMetrics).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Admin-Token", "X-Correlation-ID", "X-User-Id"},
		AllowCredentials: true,
	})

	return c.Handler(correlationMiddleware(r))
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: websocket connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel inherits context values but lets shutdown complete.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
