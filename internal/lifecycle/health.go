package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/Proton-105/clearity-bot/internal/health"
)

// ErrShuttingDown is returned by readiness once shutdown has begun.
var ErrShuttingDown = errors.New("shutting down")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Probes reports liveness unconditionally and readiness from the dependency checks.
type Probes struct {
	checker  *health.Checker
	draining atomic.Bool
	log      *slog.Logger
}

var _ HealthChecker = (*Probes)(nil)

// NewProbes creates a new Probes instance. checker may be nil.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(log)
	}
	return &Probes{checker: checker, log: log}
}

// Liveness reports that the process is running.
func (p *Probes) Liveness(context.Context) error {
	p.log.Debug("liveness probe called")
	return nil
}

// Readiness fails while shutting down or when any dependency check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	_, err := p.report(ctx)
	return err
}

// Drain marks the process as shutting down.
func (p *Probes) Drain() {
	p.draining.Store(true)
}

// Routes registers /healthz and /readyz on mux.
func (p *Probes) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := p.Liveness(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		report, err := p.report(r.Context())

		status := http.StatusOK
		if err != nil {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})
}

func (p *Probes) report(ctx context.Context) (health.Report, error) {
	if p.draining.Load() {
		return health.Report{Healthy: false, Checks: map[string]string{}}, ErrShuttingDown
	}

	report := p.checker.Check(ctx)
	if !report.Healthy {
		return report, errors.New("dependency check failed")
	}
	return report, nil
}
