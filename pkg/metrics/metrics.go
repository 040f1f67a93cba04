package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hexclaw/hexclaw/pkg/log"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexclaw_jobs_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hexclaw_jobs_active",
			Help: "Number of jobs currently running",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hexclaw_queue_depth",
			Help: "Number of jobs waiting in the queue",
		},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexclaw_steps_total",
			Help: "Total number of skill steps executed by outcome",
		},
		[]string{"outcome"},
	)

	// Cache metrics
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexclaw_cache_requests_total",
			Help: "Cache lookups by result (exact_hit, semantic_hit, miss, bypass)",
		},
		[]string{"result"},
	)

	// Model metrics
	ModelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexclaw_model_calls_total",
			Help: "Model invocations by provider, tier and outcome",
		},
		[]string{"provider", "tier", "outcome"},
	)

	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hexclaw_model_call_duration_seconds",
			Help:    "Model call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexclaw_tokens_total",
			Help: "Tokens consumed by model and direction (in, out)",
		},
		[]string{"model", "direction"},
	)

	// Tool metrics
	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexclaw_tool_calls_total",
			Help: "Tool server invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hexclaw_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"tool"},
	)

	// Monitor metrics
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexclaw_alerts_total",
			Help: "Threat alerts emitted by severity",
		},
		[]string{"severity"},
	)

	// Approval metrics
	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexclaw_approvals_total",
			Help: "Approval gate resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// Event broker metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hexclaw_events_total",
			Help: "Lifecycle events published by type",
		},
		[]string{"type"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(CacheRequests)
	prometheus.MustRegister(ModelCalls)
	prometheus.MustRegister(ModelLatency)
	prometheus.MustRegister(TokensTotal)
	prometheus.MustRegister(ToolCalls)
	prometheus.MustRegister(ToolLatency)
	prometheus.MustRegister(AlertsTotal)
	prometheus.MustRegister(ApprovalsTotal)
	prometheus.MustRegister(EventsTotal)
}

// Timer measures elapsed time for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in the given histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in the given histogram vec.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics plus the health endpoints on addr. The server runs
// in the background until Shutdown is called on the returned server.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	logger := log.WithComponent("metrics")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}
