package rbac

import (
	"context"
	"time"
)

// logAudit records a mutation. Failures are logged and never fail the
// mutation itself.
func (r *RBAC) logAudit(ctx context.Context, actorID, action, targetType, targetID, details string) {
	if !r.auditEnabled {
		return
	}

	audit := &AuditLog{
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		CreatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(audit).Error; err != nil {
		r.log.Warnw("failed to record audit log", "action", action, "target_id", targetID, "error", err)
	}
}

// ListAuditLogs retrieves audit logs, newest first, optionally filtered by
// actor or target.
func (r *RBAC) ListAuditLogs(ctx context.Context, actorID, targetID *string) ([]AuditLog, error) {
	var audits []AuditLog
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if actorID != nil {
		query = query.Where("actor_id = ?", *actorID)
	}
	if targetID != nil {
		query = query.Where("target_id = ?", *targetID)
	}
	if err := query.Find(&audits).Error; err != nil {
		return nil, internal("list audit logs", err)
	}
	return audits, nil
}
