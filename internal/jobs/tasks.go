// Package jobs wraps the asynq client and server used for background delivery.
package jobs

import "github.com/hibiken/asynq"

const (
	TaskTypeSubmissionDeliver = "submission:deliver"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// SubmissionMaxRetry caps redelivery attempts for a single submission.
const SubmissionMaxRetry = 8

// DefaultQueues returns the queue priorities used by the worker.
func DefaultQueues() map[string]int {
	return map[string]int{
		QueueCritical: 6,
		QueueDefault:  3,
		QueueLow:      1,
	}
}

// RedisOpt builds asynq connection options.
func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
}
