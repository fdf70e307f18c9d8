package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOutboxReclaim sweeps stuck PROCESSING outbox rows back to pending.
	TaskOutboxReclaim = "outbox:reclaim"
	// TaskGLIntegrity verifies that every posted journal entry balances.
	TaskGLIntegrity = "gl:integrity"
)

// ScheduledPayload carries scheduling metadata shared by cron-driven tasks.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewOutboxReclaimTask constructs an Asynq task for the reclaim sweep.
func NewOutboxReclaimTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxReclaim, body, asynq.Queue(QueueDefault)), nil
}

// NewGLIntegrityTask constructs an Asynq task for the ledger integrity sweep.
func NewGLIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault)), nil
}
