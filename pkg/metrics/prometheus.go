// Package metrics provides Prometheus metrics for the trophy ranking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Buckets for score distribution. Totals are small integers; a decorated
// student rarely exceeds a few hundred points.
var scoreBuckets = []float64{0, 15, 30, 45, 60, 90, 120, 180, 240, 360, 480}

// Manager owns every collector exported by the service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	constLabels    prometheus.Labels
	registry       prometheus.Registerer

	// Scoring
	recordsScored  prometheus.Counter
	scoringLatency prometheus.Histogram
	scoreTotals    prometheus.Histogram
	entryOutcomes  *prometheus.CounterVec
	bonusAwards    *prometheus.CounterVec
	scoringErrors  prometheus.Counter

	// Submissions
	submissions          prometheus.Counter
	submissionsDuplicate prometheus.Counter

	// Queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueErrors *prometheus.CounterVec
	workerCount        prometheus.Gauge
	workerErrors       *prometheus.CounterVec

	// Ranking store and directory
	leaderboardSize   prometheus.Gauge
	leaderboardWrites prometheus.Counter
	repositoryLatency *prometheus.HistogramVec
	directoryLatency  *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // private registry, no default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "trophy",
		subsystem:      "ranking",
		latencyBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place to declare every collector
	auto := promauto.With(m.registry)

	m.recordsScored = auto.NewCounter(m.counter("records_scored_total", "Student records scored by the achievement engine"))
	m.scoringLatency = auto.NewHistogram(m.histogram("scoring_latency_milliseconds", "Time to score one student record", m.latencyBuckets))
	m.scoreTotals = auto.NewHistogram(m.histogram("score_total_points", "Distribution of computed student totals", scoreBuckets))
	m.entryOutcomes = auto.NewCounterVec(m.counter("entry_outcomes_total", "Participation entries by classified level and position"), []string{"level", "position"})
	m.bonusAwards = auto.NewCounterVec(m.counter("bonus_awards_total", "Fixed bonuses awarded by kind"), []string{"kind"})
	m.scoringErrors = auto.NewCounter(m.counter("scoring_errors_total", "Scoring jobs that failed before reaching the ranking store"))

	m.submissions = auto.NewCounter(m.counter("submissions_total", "Student record submissions accepted for scoring"))
	m.submissionsDuplicate = auto.NewCounter(m.counter("submissions_duplicate_total", "Submissions skipped because an identical record was already scored"))

	m.queueSize = auto.NewGauge(m.gauge("queue_size", "Scoring jobs waiting in the queue"))
	m.queueCapacity = auto.NewGauge(m.gauge("queue_capacity", "Maximum scoring jobs the queue accepts"))
	m.queueEnqueueErrors = auto.NewCounterVec(m.counter("queue_enqueue_errors_total", "Rejected enqueue attempts by reason"), []string{"reason"})
	m.workerCount = auto.NewGauge(m.gauge("worker_count", "Scoring workers running"))
	m.workerErrors = auto.NewCounterVec(m.counter("worker_errors_total", "Worker failures by stage"), []string{"stage"})

	m.leaderboardSize = auto.NewGauge(m.gauge("leaderboard_size", "Students currently ranked"))
	m.leaderboardWrites = auto.NewCounter(m.counter("leaderboard_writes_total", "Score upserts applied to the ranking store"))
	m.repositoryLatency = auto.NewHistogramVec(m.histogram("repository_latency_milliseconds", "Ranking store operation latency", m.latencyBuckets), []string{"op"})
	m.directoryLatency = auto.NewHistogramVec(m.histogram("directory_latency_milliseconds", "Student directory query latency", m.latencyBuckets), []string{"op"})

	m.httpRequests = auto.NewCounterVec(m.counter("http_requests_total", "HTTP requests by route, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogram("http_request_duration_milliseconds", "HTTP request duration", m.latencyBuckets), []string{"endpoint", "method", "status_code"})
}

// RecordScored records one scored student record with its total and latency.
func RecordScored(total int, latencyMs float64) {
	globalManager.recordsScored.Inc()
	globalManager.scoreTotals.Observe(float64(total))
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordEntryOutcome counts a classified participation entry.
func RecordEntryOutcome(level, position string) {
	globalManager.entryOutcomes.WithLabelValues(level, position).Inc()
}

// RecordBonus counts an awarded bonus ("captain" or "sport").
func RecordBonus(kind string) {
	globalManager.bonusAwards.WithLabelValues(kind).Inc()
}

// RecordScoringError counts a failed scoring job.
func RecordScoringError() {
	globalManager.scoringErrors.Inc()
}

// RecordSubmission counts an accepted submission.
func RecordSubmission() {
	globalManager.submissions.Inc()
}

// RecordSubmissionDuplicate counts a submission skipped as a duplicate.
func RecordSubmissionDuplicate() {
	globalManager.submissionsDuplicate.Inc()
}

// UpdateQueueSize sets the current queue length.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueueError counts a rejected enqueue ("closed", "full", "cancelled").
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerError counts a worker failure at stage ("score", "store").
func RecordWorkerError(stage string) {
	globalManager.workerErrors.WithLabelValues(stage).Inc()
}

// UpdateLeaderboardSize sets the number of ranked students.
func UpdateLeaderboardSize(count int) {
	globalManager.leaderboardSize.Set(float64(count))
}

// RecordLeaderboardWrite counts a ranking store upsert.
func RecordLeaderboardWrite() {
	globalManager.leaderboardWrites.Inc()
}

// RecordRepositoryLatency observes a ranking store operation.
func RecordRepositoryLatency(op string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordDirectoryLatency observes a student directory query.
func RecordDirectoryLatency(op string, latencyMs float64) {
	globalManager.directoryLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes an HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
