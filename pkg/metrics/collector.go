// Package metrics exposes Prometheus metrics for the bot and the collector.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	stageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_stage_transitions_total",
			Help: "Total number of funnel stage transitions",
		},
		[]string{"from", "to"},
	)
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_submissions_total",
			Help: "Total number of submission attempts labeled by outcome",
		},
		[]string{"status"},
	)
	submissionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "funnel_submission_duration_seconds",
			Help:    "Duration of submission deliveries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	collectorResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_responses_total",
			Help: "Total number of responses received by the collector labeled by status",
		},
		[]string{"status"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "funnel_active_sessions",
			Help: "Current number of active funnel sessions",
		},
	)
	sessionsByStage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "funnel_sessions_by_stage",
			Help: "Number of active sessions per stage",
		},
		[]string{"stage"},
	)
	rateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Total number of rate limit checks by backend and result",
		},
		[]string{"backend", "result"},
	)
	rateLimitBackendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_backend_errors_total",
			Help: "Total number of limiter backend failures",
		},
		[]string{"backend"},
	)
	duplicateUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_duplicate_updates_total",
			Help: "Total number of redelivered Telegram updates that were skipped",
		},
	)
)

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	botCommandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordStageTransition tracks funnel transitions.
func RecordStageTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	stageTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSubmission counts a submission outcome. A zero duration is not observed.
func RecordSubmission(status string, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}

	submissionsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		submissionDurationSeconds.Observe(duration.Seconds())
	}
}

// RecordCollectorResponse counts a response handled by the collector.
func RecordCollectorResponse(status string) {
	if status == "" {
		status = "unknown"
	}

	collectorResponsesTotal.WithLabelValues(status).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// SetActiveSessions updates the gauge for current sessions.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// SetSessionsByStage updates the gauge for the given stage.
func SetSessionsByStage(stage string, count int) {
	if stage == "" {
		stage = "unknown"
	}

	sessionsByStage.WithLabelValues(stage).Set(float64(count))
}

// RecordRateLimitCheck counts a limiter decision.
func RecordRateLimitCheck(backend string, allowed bool) {
	result := "rejected"
	if allowed {
		result = "allowed"
	}
	rateLimitChecksTotal.WithLabelValues(backend, result).Inc()
}

// RecordRateLimitBackendError counts a limiter backend failure.
func RecordRateLimitBackendError(backend string) {
	rateLimitBackendErrorsTotal.WithLabelValues(backend).Inc()
}

// RecordDuplicateUpdate counts an update skipped by the idempotency check.
func RecordDuplicateUpdate() {
	duplicateUpdatesTotal.Inc()
}

// StageCounter reports how many live sessions sit in each stage.
type StageCounter interface {
	StageCounts() map[string]int
}

// StageCollector periodically gathers stage counts and emits gauge metrics.
type StageCollector struct {
	source   StageCounter
	tracked  []string
	interval time.Duration
}

// NewStageCollector builds a collector. Tracked stages are always reported, with zero when empty.
func NewStageCollector(source StageCounter, tracked []string, interval time.Duration) *StageCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &StageCollector{source: source, tracked: tracked, interval: interval}
}

// Run polls the source until ctx is cancelled.
func (c *StageCollector) Run(ctx context.Context) {
	if c == nil || c.source == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Collect()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Collect takes one sample.
func (c *StageCollector) Collect() {
	counts := c.source.StageCounts()

	total := 0
	for _, n := range counts {
		total += n
	}
	SetActiveSessions(total)

	sessionsByStage.Reset()

	for _, stage := range c.tracked {
		SetSessionsByStage(stage, counts[stage])
	}

	for stage, count := range counts {
		if !contains(c.tracked, stage) {
			SetSessionsByStage(stage, count)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
