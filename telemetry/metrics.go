// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesIngested  prometheus.Counter
	IngestFailures    prometheus.Counter
	CacheErrors       prometheus.Counter
	FanoutDelivered   prometheus.Counter
	FanoutFailed      prometheus.Counter
	ReplayCacheHits   prometheus.Counter
	ReplayCacheMisses prometheus.Counter
	LivenessKicks     prometheus.Counter

	// Histograms (seconds)
	IngestDuration prometheus.Observer
	ReplayDuration prometheus.Observer

	// Gauges
	ConnectionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_ingested_total", Help: "Number of messages durably ingested"})
		IngestFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_ingest_failures_total", Help: "Number of ingest attempts that failed at the durable store"})
		CacheErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_cache_errors_total", Help: "Number of non-fatal cache operation failures"})
		FanoutDelivered = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_fanout_delivered_total", Help: "Number of per-connection deliveries during broadcast"})
		FanoutFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_fanout_failed_total", Help: "Number of per-connection delivery failures during broadcast"})
		ReplayCacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_replay_cache_hits_total", Help: "Number of replays served from the cache fast path"})
		ReplayCacheMisses = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_replay_cache_misses_total", Help: "Number of replays that fell back to the durable store"})
		LivenessKicks = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_liveness_disconnects_total", Help: "Number of connections dropped by the liveness monitor"})
		IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_ingest_duration_seconds", Help: "Ingest duration seconds (durable write + cache mirror)", Buckets: prometheus.DefBuckets})
		ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_replay_duration_seconds", Help: "Replay resolution duration seconds", Buckets: prometheus.DefBuckets})
		ConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_live_connections", Help: "Current number of registered websocket connections"})
	})
}

// SetLiveConnections records the current registry size.
func SetLiveConnections(n int) {
	if ConnectionsGauge != nil {
		ConnectionsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
