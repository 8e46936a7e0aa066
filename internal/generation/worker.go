package generation

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/lumina-cms/lumina/jobs"
)

// NewRenderTaskHandler returns the Asynq handler for render tasks.
func NewRenderTaskHandler(service *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload jobs.GenerationRenderPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return service.Process(ctx, payload.RequestID)
	}
}
