package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Test session metrics
	activeTests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speaking_gateway_active_tests",
		Help: "Number of speaking tests currently in progress",
	})

	totalTests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speaking_gateway_tests_total",
		Help: "Total number of speaking test attempts started",
	})

	testDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speaking_gateway_test_duration_seconds",
		Help:    "Duration of speaking test attempts in seconds",
		Buckets: []float64{60, 120, 300, 600, 900, 1200, 1800},
	})

	// Phase machine metrics
	phaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speaking_gateway_phase_transitions_total",
		Help: "Total number of phase transitions",
	}, []string{"to"})

	// Playback metrics
	clipsPlayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speaking_gateway_clips_played_total",
		Help: "Total number of examiner clips played",
	}, []string{"status"}) // status: "ok", "failed", "abandoned"

	clipRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speaking_gateway_clip_retries_total",
		Help: "Total number of per-clip playback retries",
	})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speaking_gateway_synthesis_requests_total",
		Help: "Total number of examiner speech synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speaking_gateway_synthesis_latency_seconds",
		Help:    "Speech synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Evaluation metrics
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speaking_gateway_submissions_total",
		Help: "Total number of evaluation submissions",
	}, []string{"status"})

	submissionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speaking_gateway_submission_latency_seconds",
		Help:    "Evaluation submission latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speaking_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speaking_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speaking_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speaking_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single test attempt
type Metrics struct {
	testID             string
	startTime          time.Time
	synthesisStartTime time.Time
	submissionStart    time.Time
	mu                 sync.Mutex
}

// NewTestMetrics creates a new metrics tracker for a test attempt
func NewTestMetrics(testID string) *Metrics {
	return &Metrics{
		testID:    testID,
		startTime: time.Now(),
	}
}

// RecordTestStart records the start of a test attempt
func (m *Metrics) RecordTestStart() {
	activeTests.Inc()
	totalTests.Inc()
}

// RecordTestEnd records the end of a test attempt
func (m *Metrics) RecordTestEnd() {
	activeTests.Dec()
	duration := time.Since(m.startTime).Seconds()
	testDuration.Observe(duration)
}

// RecordPhaseTransition records a transition into the named phase
func (m *Metrics) RecordPhaseTransition(to string) {
	phaseTransitions.WithLabelValues(to).Inc()
}

// RecordClipPlayed records the outcome of one clip's playback
func (m *Metrics) RecordClipPlayed(status string) {
	clipsPlayed.WithLabelValues(status).Inc()
}

// RecordClipRetry records a retried clip playback attempt
func (m *Metrics) RecordClipRetry() {
	clipRetries.Inc()
}

// RecordSynthesisStart records the start of a synthesis request
func (m *Metrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the end of a synthesis request
func (m *Metrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthesisStartTime.IsZero() {
		latency := time.Since(m.synthesisStartTime).Seconds()
		synthesisLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordSubmissionStart records the start of an evaluation submission
func (m *Metrics) RecordSubmissionStart() {
	m.mu.Lock()
	m.submissionStart = time.Now()
	m.mu.Unlock()
}

// RecordSubmissionEnd records the end of an evaluation submission
func (m *Metrics) RecordSubmissionEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.submissionStart.IsZero() {
		latency := time.Since(m.submissionStart).Seconds()
		submissionLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	submissions.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
