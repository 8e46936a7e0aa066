package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGenerationRender runs one queued AI render request.
	TaskGenerationRender = "generation:render"
	// TaskAssignmentSweep deactivates role assignments past their expiry.
	TaskAssignmentSweep = "authz:sweep-expired"
)

// GenerationRenderPayload identifies the render request to process.
type GenerationRenderPayload struct {
	RequestID string `json:"requestId"`
}

// NewGenerationRenderTask constructs an Asynq task.
func NewGenerationRenderTask(payload GenerationRenderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGenerationRender, data), nil
}

// NewAssignmentSweepTask constructs the periodic sweep task.
func NewAssignmentSweepTask() *asynq.Task {
	return asynq.NewTask(TaskAssignmentSweep, nil)
}
