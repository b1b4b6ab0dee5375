package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ReconcileReport summarises one reconciliation run.
type ReconcileReport struct {
	Identifier   string    `json:"identifier"`
	ActorID      string    `json:"actorId"`
	RolesScanned int       `json:"rolesScanned"`
	Added        int       `json:"added"`
	Removed      int       `json:"removed"`
	Failed       int       `json:"failed"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Validate checks that the plan names an identifier and well-formed pairs,
// and that no pair is both required and forbidden.
func (p ReconcilePlan) Validate() error {
	if p.Identifier == "" {
		return fmt.Errorf("%w: plan has no identifier", ErrInvalidInput)
	}
	required := make(map[Capability]bool, len(p.Required))
	for _, c := range p.Required {
		if c.Feature == "" || c.Action == "" {
			return fmt.Errorf("%w: required capability %q", ErrInvalidInput, c.String())
		}
		required[c] = true
	}
	for _, c := range p.Forbidden {
		if c.Feature == "" || c.Action == "" {
			return fmt.Errorf("%w: forbidden capability %q", ErrInvalidInput, c.String())
		}
		if required[c] {
			return fmt.Errorf("%w: %s is both required and forbidden", ErrInvalidInput, c.String())
		}
	}
	return nil
}

// AdministratorActor returns the oldest identity holding the ADMIN global
// role. Reconciliation stamps its grants with this id.
func (r *RBAC) AdministratorActor(ctx context.Context) (*User, error) {
	var admin User
	err := r.db.WithContext(ctx).
		Where("role = ?", GlobalRoleAdmin).
		Order("created_at, id").
		First(&admin).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInternal, ErrNoAdministrator)
		}
		return nil, internal("resolve administrator", err)
	}
	return &admin, nil
}

// Reconcile brings every tenant role with the plan's identifier in line
// with the plan: missing required grants are added and forbidden grants are
// removed. Per-role failures are counted and logged and the run carries on.
// A missing administrator aborts before anything is written.
func (r *RBAC) Reconcile(ctx context.Context, plan ReconcilePlan) (*ReconcileReport, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	release, err := r.acquireRunLock(ctx, plan.Identifier)
	if err != nil {
		return nil, err
	}
	defer release()

	admin, err := r.AdministratorActor(ctx)
	if err != nil {
		return nil, err
	}

	var roles []TenantRole
	if err := r.db.WithContext(ctx).
		Where("identifier = ? AND tenant_id IS NOT NULL", plan.Identifier).
		Order("id").
		Find(&roles).Error; err != nil {
		return nil, internal("list roles for reconciliation", err)
	}

	report := &ReconcileReport{
		Identifier: plan.Identifier,
		ActorID:    admin.ID,
		StartedAt:  time.Now(),
	}
	log := r.log.With("identifier", plan.Identifier)
	log.Infow("reconciliation started", "roles", len(roles), "required", len(plan.Required), "forbidden", len(plan.Forbidden))

	for _, role := range roles {
		tenantID := derefString(role.TenantID)
		for _, c := range plan.Required {
			added, err := r.Grant(ctx, role.ID, c.Feature, c.Action, admin.ID)
			switch {
			case err != nil:
				report.Failed++
				log.Errorw("grant failed", "tenant_id", tenantID, "role_id", role.ID, "capability", c.String(), "error", err)
			case added:
				report.Added++
				log.Infow("granted", "tenant_id", tenantID, "role_id", role.ID, "capability", c.String())
			}
		}
		for _, c := range plan.Forbidden {
			removed, err := r.Revoke(ctx, role.ID, c.Feature, c.Action, admin.ID)
			switch {
			case err != nil:
				report.Failed++
				log.Errorw("revoke failed", "tenant_id", tenantID, "role_id", role.ID, "capability", c.String(), "error", err)
			case removed:
				report.Removed++
				log.Infow("revoked", "tenant_id", tenantID, "role_id", role.ID, "capability", c.String())
			}
		}
		report.RolesScanned++
		log.Infow("role reconciled",
			"tenant_id", tenantID,
			"progress", fmt.Sprintf("%d/%d", report.RolesScanned, len(roles)),
			"added", report.Added,
			"removed", report.Removed,
			"failed", report.Failed,
		)
	}

	report.FinishedAt = time.Now()
	reconcileChangesTotal.WithLabelValues(plan.Identifier, "added").Add(float64(report.Added))
	reconcileChangesTotal.WithLabelValues(plan.Identifier, "removed").Add(float64(report.Removed))
	reconcileChangesTotal.WithLabelValues(plan.Identifier, "failed").Add(float64(report.Failed))
	r.storeReport(ctx, report)

	log.Infow("reconciliation finished",
		"roles", report.RolesScanned,
		"added", report.Added,
		"removed", report.Removed,
		"failed", report.Failed,
	)
	return report, nil
}
