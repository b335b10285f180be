package submission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Proton-105/clearity-bot/pkg/metrics"
)

// AsyncDispatcher submits each payload on its own goroutine. Failures are logged and counted, never returned.
type AsyncDispatcher struct {
	submitter Submitter
	timeout   time.Duration
	log       *slog.Logger

	wg sync.WaitGroup
}

// NewAsyncDispatcher creates an AsyncDispatcher. timeout bounds each delivery, retries included.
func NewAsyncDispatcher(submitter Submitter, timeout time.Duration, log *slog.Logger) *AsyncDispatcher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &AsyncDispatcher{
		submitter: submitter,
		timeout:   timeout,
		log:       log.With(slog.String("component", "submission")),
	}
}

// Dispatch starts delivery and returns immediately.
func (d *AsyncDispatcher) Dispatch(payload Payload) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		started := time.Now()
		err := d.submitter.Submit(ctx, payload)
		report(d.log, err, time.Since(started))
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *AsyncDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func report(log *slog.Logger, err error, elapsed time.Duration) {
	if err != nil {
		metrics.RecordSubmission("failed", elapsed)
		log.Warn("submission failed", slog.Any("error", err), slog.Duration("elapsed", elapsed))
		return
	}

	metrics.RecordSubmission("delivered", elapsed)
	log.Info("submission delivered", slog.Duration("elapsed", elapsed))
}
