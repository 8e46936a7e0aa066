package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewAssignmentSweepHandler returns the handler for TaskAssignmentSweep.
// Expired assignments already lose effect at decision time; the sweep keeps
// the table tidy so listings and reports agree with the engine.
func NewAssignmentSweepHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tag, err := pool.Exec(ctx,
			`UPDATE user_roles SET is_active = false
			 WHERE is_active AND expires_at IS NOT NULL AND expires_at <= now()`)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			logger.Info("deactivated expired role assignments",
				slog.Int64("count", tag.RowsAffected()))
		}
		return nil
	}
}
