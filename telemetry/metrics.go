// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesForwarded    *prometheus.CounterVec // by direction
	ForwardFailures      *prometheus.CounterVec // by direction
	PollCycles           prometheus.Counter
	PollErrors           prometheus.Counter
	TokenRefreshes       *prometheus.CounterVec // by provider
	TokenRefreshFailures *prometheus.CounterVec // by provider

	// Gauges
	ActivePollers    prometheus.Gauge
	ListenerChannels prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_messages_forwarded_total", Help: "Messages forwarded between platforms"}, []string{"direction"})
		ForwardFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_forward_failures_total", Help: "Forward attempts that failed at the sender"}, []string{"direction"})
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_poll_cycles_total", Help: "YouTube poll ticks executed"})
		PollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_poll_errors_total", Help: "YouTube poll ticks aborted by provider or network errors"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_token_refreshes_total", Help: "Successful OAuth refresh-grant exchanges"}, []string{"provider"})
		TokenRefreshFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_token_refresh_failures_total", Help: "Failed OAuth refresh-grant exchanges"}, []string{"provider"})
		ActivePollers = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_active_pollers", Help: "Currently running per-user YouTube pollers"})
		ListenerChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_listener_channels", Help: "Twitch channels the listener has joined"})
	})
}

// Helpers below nil-check so code paths exercised before Init (tests) don't panic.

// IncForwarded records a successful forward for a direction.
func IncForwarded(direction string) {
	if MessagesForwarded != nil {
		MessagesForwarded.WithLabelValues(direction).Inc()
	}
}

// IncForwardFailure records a failed forward for a direction.
func IncForwardFailure(direction string) {
	if ForwardFailures != nil {
		ForwardFailures.WithLabelValues(direction).Inc()
	}
}

// IncPollCycle records one poll tick.
func IncPollCycle() {
	if PollCycles != nil {
		PollCycles.Inc()
	}
}

// IncPollError records one aborted poll tick.
func IncPollError() {
	if PollErrors != nil {
		PollErrors.Inc()
	}
}

// IncTokenRefresh records a successful refresh-grant exchange.
func IncTokenRefresh(provider string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(provider).Inc()
	}
}

// IncTokenRefreshFailure records a failed refresh-grant exchange.
func IncTokenRefreshFailure(provider string) {
	if TokenRefreshFailures != nil {
		TokenRefreshFailures.WithLabelValues(provider).Inc()
	}
}

// SetActivePollers records the number of running pollers.
func SetActivePollers(n int) {
	if ActivePollers != nil {
		ActivePollers.Set(float64(n))
	}
}

// SetListenerChannels records the number of joined Twitch channels.
func SetListenerChannels(n int) {
	if ListenerChannels != nil {
		ListenerChannels.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with the corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
