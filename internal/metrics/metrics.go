package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warble_ticks_total",
		Help: "Total scheduler ticks",
	})
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "warble_tick_duration_seconds",
		Help:    "Tick duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	Actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warble_actions_total",
		Help: "Engagement actions by kind and result",
	}, []string{"action", "result"})
	QuotaExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warble_quota_exhausted_total",
		Help: "Times an action kind was skipped because a quota window was spent",
	}, []string{"action", "window"})
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warble_rate_limited_total",
		Help: "Platform rate-limit responses by action kind",
	}, []string{"action"})
	SaveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warble_save_failures_total",
		Help: "Failed state save attempts",
	})
	RemainingBudget = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warble_remaining_budget",
		Help: "Actions still permitted right now by kind",
	}, []string{"action"})
	DraftFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warble_draft_failures_total",
		Help: "Reply drafts that could not be generated",
	})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warble_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"cmd"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warble_command_errors_total",
		Help: "CLI command failures",
	}, []string{"cmd"})
)

func init() {
	prometheus.MustRegister(
		Ticks, TickDuration, Actions, QuotaExhausted, RateLimited,
		SaveFailures, RemainingBudget, DraftFailures, CommandRuns, CommandErrors,
	)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveTickDuration records one tick's duration.
func ObserveTickDuration(start time.Time) {
	TickDuration.Observe(time.Since(start).Seconds())
}

// IncAction counts a finished action attempt.
func IncAction(action, result string) { Actions.WithLabelValues(action, result).Inc() }

// IncQuotaExhausted counts a skip caused by a spent quota window.
func IncQuotaExhausted(action, window string) { QuotaExhausted.WithLabelValues(action, window).Inc() }

// IncRateLimited counts a platform rate-limit response.
func IncRateLimited(action string) { RateLimited.WithLabelValues(action).Inc() }

// SetRemaining publishes the current remaining budget for an action kind.
func SetRemaining(action string, n int64) { RemainingBudget.WithLabelValues(action).Set(float64(n)) }

// IncCommandRun counts a CLI command invocation.
func IncCommandRun(cmd string) { CommandRuns.WithLabelValues(cmd).Inc() }

// IncCommandError counts a CLI command failure.
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
