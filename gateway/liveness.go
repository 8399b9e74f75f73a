package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/chat-relay/telemetry"
)

// LivenessMonitor periodically probes every registered connection and reaps
// those that stop answering. It runs on its own goroutine and never blocks
// ingestion or fanout; registry calls are single-step mutations.
type LivenessMonitor struct {
	registry  *Registry
	interval  time.Duration
	maxMissed int
}

// NewLivenessMonitor configures a monitor. interval defaults to 15s and
// maxMissed to 2 when non-positive.
func NewLivenessMonitor(registry *Registry, interval time.Duration, maxMissed int) *LivenessMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if maxMissed <= 0 {
		maxMissed = 2
	}
	return &LivenessMonitor{registry: registry, interval: interval, maxMissed: maxMissed}
}

// Run probes until ctx is canceled.
func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	slog.Info("liveness monitor started", slog.Duration("interval", m.interval), slog.Int("max_missed", m.maxMissed))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep sends one probe to every connection and deregisters those that have
// gone maxMissed probes without a pong. The counter is incremented here and
// reset by Registry.MarkAlive, so a healthy connection never accumulates.
func (m *LivenessMonitor) sweep() {
	r := m.registry

	r.mu.Lock()
	var dead []string
	probes := make([]*connection, 0, len(r.conns))
	for userID, conn := range r.conns {
		if conn.missedPings >= m.maxMissed {
			dead = append(dead, userID)
			continue
		}
		conn.missedPings++
		probes = append(probes, conn)
	}
	r.mu.Unlock()

	for _, userID := range dead {
		slog.Warn("liveness probe limit exceeded; dropping connection", slog.String("user", userID))
		if telemetry.LivenessKicks != nil {
			telemetry.LivenessKicks.Inc()
		}
		r.Deregister(userID)
	}

	for _, conn := range probes {
		if err := conn.transport.Ping(); err != nil {
			// A failed write will also fail the next probe; the counter
			// handles the rest.
			slog.Debug("liveness ping failed", slog.String("user", conn.userID), slog.Any("err", err))
		}
	}
}
