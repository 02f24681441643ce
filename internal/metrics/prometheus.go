package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tessera"

var (
	hashBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	httpBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
)

// PrometheusRecorder exports application metrics through a dedicated
// Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	usersCreated    prometheus.Counter
	usersUpdated    prometheus.Counter
	passwordChanges prometheus.Counter
	hashDuration    prometheus.Histogram
	logins          *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	auditPublished  *prometheus.CounterVec
	auditProcessed  *prometheus.CounterVec
	auditQueueDepth prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewPrometheus builds a recorder with its own registry, including the Go
// runtime and process collectors.
func NewPrometheus() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_created_total",
			Help:      "Number of users created.",
		}),
		usersUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_updated_total",
			Help:      "Number of user profile updates.",
		}),
		passwordChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_changes_total",
			Help:      "Number of successful password changes.",
		}),
		hashDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "password_hash_duration_seconds",
			Help:      "Time spent deriving password hashes.",
			Buckets:   hashBuckets,
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verifications_total",
			Help:      "Access token verifications by outcome.",
		}, []string{"outcome"}),
		auditPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_published_total",
			Help:      "Audit events handed to the stream by outcome.",
		}, []string{"outcome"}),
		auditProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_processed_total",
			Help:      "Audit events drained by the worker by outcome.",
		}, []string{"outcome"}),
		auditQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "queue_depth",
			Help:      "Pending plus undelivered entries in the audit stream.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers.",
			Buckets:   httpBuckets,
		}, []string{"method", "route", "status"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.usersCreated,
		r.usersUpdated,
		r.passwordChanges,
		r.hashDuration,
		r.logins,
		r.tokens,
		r.auditPublished,
		r.auditProcessed,
		r.auditQueueDepth,
		r.httpRequests,
		r.httpDuration,
	)

	// Known label values are exported at zero from the start.
	for _, result := range []string{LoginSuccess, LoginFailure, LoginRateLimited} {
		r.logins.WithLabelValues(result)
	}
	for _, outcome := range []string{OutcomeValid, OutcomeExpired, OutcomeInvalid} {
		r.tokens.WithLabelValues(outcome)
	}
	for _, outcome := range []string{AuditSuccess, AuditDropped} {
		r.auditPublished.WithLabelValues(outcome)
	}
	for _, outcome := range []string{AuditSuccess, AuditFailed, AuditDeadLettered} {
		r.auditProcessed.WithLabelValues(outcome)
	}

	return r
}

// Register adds extra collectors to the recorder's registry. A collector
// that is already registered is not an error.
func (r *PrometheusRecorder) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) IncUserCreated()     { r.usersCreated.Inc() }
func (r *PrometheusRecorder) IncUserUpdated()     { r.usersUpdated.Inc() }
func (r *PrometheusRecorder) IncPasswordChanged() { r.passwordChanges.Inc() }

func (r *PrometheusRecorder) ObserveHashDuration(d time.Duration) {
	r.hashDuration.Observe(d.Seconds())
}

func (r *PrometheusRecorder) IncLoginSucceeded()   { r.logins.WithLabelValues(LoginSuccess).Inc() }
func (r *PrometheusRecorder) IncLoginFailed()      { r.logins.WithLabelValues(LoginFailure).Inc() }
func (r *PrometheusRecorder) IncLoginRateLimited() { r.logins.WithLabelValues(LoginRateLimited).Inc() }

func (r *PrometheusRecorder) IncTokenVerified(outcome string) {
	r.tokens.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) IncAuditEventPublished(outcome string) {
	r.auditPublished.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) IncAuditEventProcessed(outcome string) {
	r.auditProcessed.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) SetAuditQueueDepth(depth int64) {
	r.auditQueueDepth.Set(float64(depth))
}

// ObserveHTTPRequest records one served request. route is the matched
// route pattern, never the raw path.
func (r *PrometheusRecorder) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	r.httpRequests.WithLabelValues(method, route, code).Inc()
	r.httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}
