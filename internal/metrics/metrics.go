package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquei_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marquei_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	availabilityQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marquei_availability_queries_total",
			Help: "Total availability computations",
		},
	)

	bookingConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marquei_booking_conflicts_total",
			Help: "Bookings rejected because the slot was taken",
		},
	)

	reminderJobsPlanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquei_reminder_jobs_planned_total",
			Help: "Reminder jobs created by channel",
		},
		[]string{"channel"},
	)

	reminderJobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquei_reminder_job_outcomes_total",
			Help: "Reminder job terminal transitions by outcome and channel",
		},
		[]string{"outcome", "channel"},
	)

	dispatchTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marquei_dispatch_tick_duration_seconds",
			Help:    "Duration of one reminder dispatch tick",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
	)

	dispatchLockAcquired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquei_dispatch_lock_attempts_total",
			Help: "Dispatcher lock acquisition attempts by result",
		},
		[]string{"result"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marquei_idempotency_hits_total",
			Help: "Booking requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marquei_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"business_id"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marquei_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAvailabilityQuery records one availability computation
func RecordAvailabilityQuery() {
	availabilityQueries.Inc()
}

// RecordBookingConflict records a booking lost to an occupied slot
func RecordBookingConflict() {
	bookingConflicts.Inc()
}

// RecordJobsPlanned records reminder jobs created for a channel
func RecordJobsPlanned(channel string, count int) {
	reminderJobsPlanned.WithLabelValues(channel).Add(float64(count))
}

// RecordJobOutcome records a reminder job terminal transition
func RecordJobOutcome(outcome, channel string) {
	reminderJobOutcomes.WithLabelValues(outcome, channel).Inc()
}

// RecordDispatchTick records the duration of one dispatch tick
func RecordDispatchTick(duration time.Duration) {
	dispatchTickDuration.Observe(duration.Seconds())
}

// RecordLockAttempt records a dispatcher lock acquisition result
func RecordLockAttempt(acquired bool) {
	result := "acquired"
	if !acquired {
		result = "contended"
	}
	dispatchLockAcquired.WithLabelValues(result).Inc()
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(businessID string) {
	rateLimitRejections.WithLabelValues(businessID).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
