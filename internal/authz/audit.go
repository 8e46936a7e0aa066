package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const auditWriteTimeout = 2 * time.Second

// Recorder appends decision records to the audit trail. Writes are
// best-effort: a failure is logged and swallowed so it can never change or
// block the decision returned to the caller.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// RecordCheck appends one "check" entry. The write is detached from the
// caller's cancellation so a request timeout does not drop the trail entry.
func (r *Recorder) RecordCheck(ctx context.Context, userID string, resource ResourceKind, resourceID *string, action ActionKind, success bool, details map[string]string) {
	if r == nil || r.store == nil {
		return
	}
	if details == nil {
		details = map[string]string{}
	}
	details["action"] = string(action)
	entry := AuditEntry{
		ID:           uuid.NewString(),
		Action:       "check",
		ResourceType: resource,
		ResourceID:   resourceID,
		SubjectType:  SubjectUser,
		SubjectID:    userID,
		PerformedBy:  userID,
		Success:      success,
		Details:      details,
		CreatedAt:    r.now().UTC(),
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := r.store.AppendAudit(writeCtx, entry); err != nil && r.logger != nil {
		r.logger.Warn("audit append failed",
			slog.String("subject", userID),
			slog.String("resource", string(resource)),
			slog.String("action", string(action)),
			slog.Any("error", err))
	}
}
