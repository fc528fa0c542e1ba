package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TypeConversationSweep = "conversation:sweep"

// SweepPayload is carried by every sweep task.
type SweepPayload struct {
	ScheduledAt time.Time `json:"scheduledAt"`
}

// NewSweepTask builds a sweep task. Unique keeps overlapping schedulers from queueing duplicates.
func NewSweepTask(at time.Time, interval time.Duration) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(SweepPayload{ScheduledAt: at})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeConversationSweep, b)
	opts := []asynq.Option{asynq.MaxRetry(0), asynq.Unique(interval)}
	return task, opts, nil
}

// ParseSweepPayload decodes a sweep task's payload.
func ParseSweepPayload(task *asynq.Task) (SweepPayload, error) {
	var p SweepPayload
	err := json.Unmarshal(task.Payload(), &p)
	return p, err
}
