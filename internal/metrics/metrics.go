package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quizzles/internal/domain"
)

// Metrics owns a private registry so several instances can coexist in tests.
// It implements app.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	started         *prometheus.CounterVec
	resumed         *prometheus.CounterVec
	completed       *prometheus.CounterVec
	scores          *prometheus.HistogramVec
	watchers        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "endpoint"}),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_attempts_started_total",
			Help: "Attempts created",
		}, []string{"quiz_id"}),
		resumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_attempts_resumed_total",
			Help: "Start calls that returned an attempt already in progress",
		}, []string{"quiz_id"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_attempts_completed_total",
			Help: "Attempts completed, by reason",
		}, []string{"quiz_id", "reason"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quiz_attempt_score",
			Help:    "Final attempt scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}, []string{"quiz_id"}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_participant_watchers",
			Help: "Open participant feed connections",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration,
		m.started, m.resumed, m.completed, m.scores, m.watchers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) AttemptStarted(quizID int64) {
	m.started.WithLabelValues(id(quizID)).Inc()
}

func (m *Metrics) AttemptResumed(quizID int64) {
	m.resumed.WithLabelValues(id(quizID)).Inc()
}

func (m *Metrics) AttemptCompleted(quizID int64, reason domain.CompletionReason, score int) {
	m.completed.WithLabelValues(id(quizID), string(reason)).Inc()
	m.scores.WithLabelValues(id(quizID)).Observe(float64(score))
}

// WatcherConnected tracks a participant feed connection; call the returned
// func when it closes.
func (m *Metrics) WatcherConnected() func() {
	m.watchers.Inc()
	return m.watchers.Dec
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func id(quizID int64) string {
	return strconv.FormatInt(quizID, 10)
}
