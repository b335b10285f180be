package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/clearity-bot/internal/jobs"
	"github.com/Proton-105/clearity-bot/pkg/metrics"
)

// NewDeliverTask wraps payload in a queue task. The task id is derived from the payload so a
// double submit of the same contact stage is queued once.
func NewDeliverTask(payload Payload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(jobs.TaskTypeSubmissionDeliver, data,
		asynq.TaskID(taskID(data)),
		asynq.Queue(jobs.QueueCritical),
		asynq.MaxRetry(jobs.SubmissionMaxRetry),
		asynq.Timeout(30*time.Second),
	), nil
}

func taskID(data []byte) string {
	sum := sha256.Sum256(data)
	return "submission:" + hex.EncodeToString(sum[:16])
}

// QueueDispatcher hands payloads to the job queue so that delivery survives process restarts.
type QueueDispatcher struct {
	manager jobs.Manager
	timeout time.Duration
	log     *slog.Logger
}

// NewQueueDispatcher creates a QueueDispatcher.
func NewQueueDispatcher(manager jobs.Manager, log *slog.Logger) *QueueDispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &QueueDispatcher{
		manager: manager,
		timeout: 5 * time.Second,
		log:     log.With(slog.String("component", "submission")),
	}
}

// Dispatch enqueues payload on a background goroutine.
func (d *QueueDispatcher) Dispatch(payload Payload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.enqueue(ctx, payload); err != nil {
			metrics.RecordSubmission("enqueue_failed", 0)
			d.log.Warn("submission enqueue failed", slog.Any("error", err))
		}
	}()
}

func (d *QueueDispatcher) enqueue(ctx context.Context, payload Payload) error {
	task, err := NewDeliverTask(payload)
	if err != nil {
		return fmt.Errorf("build task: %w", err)
	}

	info, err := d.manager.Enqueue(ctx, task)
	if errors.Is(err, jobs.ErrDuplicate) {
		metrics.RecordSubmission("duplicate", 0)
		d.log.Debug("submission already queued")
		return nil
	}
	if err != nil {
		return err
	}

	metrics.RecordSubmission("queued", 0)
	d.log.Debug("submission queued", slog.String("task_id", info.ID), slog.String("queue", info.Queue))
	return nil
}

// DeliverHandler processes queued deliveries.
type DeliverHandler struct {
	submitter Submitter
	log       *slog.Logger
}

// NewDeliverHandler creates the asynq handler for jobs.TaskTypeSubmissionDeliver.
func NewDeliverHandler(submitter Submitter, log *slog.Logger) *DeliverHandler {
	if log == nil {
		log = slog.Default()
	}

	return &DeliverHandler{submitter: submitter, log: log}
}

// ProcessTask implements asynq.Handler.
func (h *DeliverHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "submission: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	started := time.Now()
	err := h.submitter.Submit(ctx, payload)
	report(h.log, err, time.Since(started))
	return err
}
