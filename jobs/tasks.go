package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDashboardWarmup precomputes dashboard aggregates per tenant.
	TaskDashboardWarmup = "dashboard:warmup"
)

// DashboardWarmupPayload selects the aggregation window to precompute.
type DashboardWarmupPayload struct {
	WindowDays int `json:"window_days"`
}

// NewDashboardWarmupTask constructs an Asynq task.
func NewDashboardWarmupTask(windowDays int) (*asynq.Task, error) {
	data, err := json.Marshal(DashboardWarmupPayload{WindowDays: windowDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDashboardWarmup, data), nil
}
