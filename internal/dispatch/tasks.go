package dispatch

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskMaintenanceNotify = "notify:maintenance"

type MaintenancePayload struct {
	AssetID  string         `json:"assetId"`
	Reason   string         `json:"reason"`
	Priority string         `json:"priority"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewMaintenanceTask builds the queued notification task. MaxRetry is zero:
// delivery is best effort and retry, if wanted, belongs to the receiving
// system.
func NewMaintenanceTask(p MaintenancePayload, queue string) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMaintenanceNotify, data,
		asynq.Queue(queue),
		asynq.MaxRetry(0),
	), nil
}
