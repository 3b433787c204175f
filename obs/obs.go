// Package obs provides the structured logging and metrics shared by every
// service in the currency monitor.
//
// Design Notes:
//   - A single zap.Logger is built once at process start and threaded by
//     pointer into each service's constructor, the same way the teacher's
//     services carry a *Metrics pointer (see cache-manager/service.go).
//   - Metrics uses a custom prometheus.Registry rather than the global
//     default, avoiding duplicate-registration panics across cmd/server and
//     cmd/tick test binaries that both construct a Metrics.
//   - Naming follows the pack's "component_metric_unit" convention
//     (garyellow-ntpu-linebot-go/internal/metrics).
package obs

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide structured logger. level is one of
// zap's level names ("debug", "info", "warn", "error"); unrecognised
// values fall back to "info".
func NewLogger(level string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Build only fails on encoder/sink misconfiguration, which a
		// hardcoded production config cannot hit; fall back defensively
		// so a logging bug never takes the process down.
		fallback := zap.NewNop()
		fallback.Sugar().Errorw("falling back to no-op logger", "error", err)
		return fallback
	}
	return logger
}

// Metrics holds every Prometheus collector the engine, fetcher, presence
// tracker, and API emit to.
type Metrics struct {
	Registry *prometheus.Registry

	TicksTotal            *prometheus.CounterVec
	CIDsProcessedTotal    *prometheus.CounterVec
	FlaggedTotal          *prometheus.CounterVec
	StoreFlushConflicts   prometheus.Counter
	StoreFlushFatal       prometheus.Counter
	FetchBudgetExhausted  prometheus.Counter
	FetchRetries          prometheus.Counter
	PresenceTransitions   *prometheus.CounterVec
	QuarterlyEnqueues     prometheus.Counter
	CleanupEntriesDropped prometheus.Counter
	APIRequestsTotal      *prometheus.CounterVec
}

// NewMetrics registers and returns the metric set against a fresh
// registry. Use a single instance per process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TicksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "audit_ticks_total",
			Help: "Number of scheduler ticks processed, by outcome.",
		}, []string{"outcome"}),
		CIDsProcessedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "audit_cids_processed_total",
			Help: "Controllers whose audit verdict was (re)computed, by scope.",
		}, []string{"scope"}),
		FlaggedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "audit_flagged_total",
			Help: "Controllers flagged for insufficient hours, by scope.",
		}, []string{"scope"}),
		StoreFlushConflicts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "store_flush_conflicts_total",
			Help: "Store PUT preconditions that failed with 409.",
		}),
		StoreFlushFatal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "store_flush_fatal_total",
			Help: "Store PUTs that failed after the merge-retry.",
		}),
		FetchBudgetExhausted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fetch_budget_exhausted_total",
			Help: "Outbound calls refused because the per-tick budget was spent.",
		}),
		FetchRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fetch_retries_total",
			Help: "Store-write retry attempts issued by the retrying content store.",
		}),
		PresenceTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "presence_transitions_total",
			Help: "Controller online/offline transitions observed, by direction.",
		}, []string{"direction"}),
		QuarterlyEnqueues: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quarterly_enqueues_total",
			Help: "Auto-triggered visiting-scope audits enqueued at quarter start.",
		}),
		CleanupEntriesDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cleanup_entries_dropped_total",
			Help: "Expired cache/cooldown entries pruned by the store cleanup sweep.",
		}),
		APIRequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "HTTP API requests, by route and status class.",
		}, []string{"route", "status"}),
	}
	return m
}

// envLevel reads LOG_LEVEL from the environment for callers that build a
// Logger outside of config.Load (e.g. one-off tools).
func envLevel() string {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

// DefaultLogger builds a Logger using LOG_LEVEL from the environment.
func DefaultLogger() *zap.Logger {
	return NewLogger(envLevel())
}
