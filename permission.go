package rbac

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

// grantConflict relies on idx_acl_feature_action_role so concurrent grants
// of the same triple collapse into one row instead of failing.
var grantConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "feature_name"}, {Name: "action_name"}, {Name: "tenant_role_id"}},
	DoNothing: true,
}

// Grant gives a role a capability. Granting an existing capability succeeds
// without change; the returned bool reports whether a row was added.
func (r *RBAC) Grant(ctx context.Context, roleID, feature, action, actorID string) (bool, error) {
	if roleID == "" || feature == "" || action == "" {
		return false, ErrInvalidInput
	}
	if err := r.roleExists(ctx, roleID); err != nil {
		return false, err
	}

	acl := &AccessControlList{
		FeatureName:  feature,
		ActionName:   action,
		TenantRoleID: roleID,
		CreatedByID:  actorID,
		UpdatedByID:  actorID,
	}
	res := r.db.WithContext(ctx).Clauses(grantConflict).Create(acl)
	if res.Error != nil {
		return false, internal("grant", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	r.logAudit(ctx, actorID, "grant", "tenant_role", roleID, "Granted "+feature+"."+action)
	return true, nil
}

// Revoke removes a capability from a role. Revoking an absent capability
// succeeds; the returned bool reports whether a row was removed.
func (r *RBAC) Revoke(ctx context.Context, roleID, feature, action, actorID string) (bool, error) {
	if roleID == "" || feature == "" || action == "" {
		return false, ErrInvalidInput
	}

	res := r.db.WithContext(ctx).
		Where("tenant_role_id = ? AND feature_name = ? AND action_name = ?", roleID, feature, action).
		Delete(&AccessControlList{})
	if res.Error != nil {
		return false, internal("revoke", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	r.logAudit(ctx, actorID, "revoke", "tenant_role", roleID, "Revoked "+feature+"."+action)
	return true, nil
}

// ListByRole returns every capability granted to the role.
func (r *RBAC) ListByRole(ctx context.Context, roleID string) ([]Capability, error) {
	if roleID == "" {
		return nil, ErrInvalidInput
	}

	var caps []Capability
	if err := r.db.WithContext(ctx).
		Model(&AccessControlList{}).
		Select("feature_name", "action_name").
		Where("tenant_role_id = ?", roleID).
		Order("feature_name, action_name").
		Scan(&caps).Error; err != nil {
		return nil, internal("list grants", err)
	}
	return caps, nil
}

// ListAllFeatures returns the distinct capabilities present anywhere in the
// matrix.
func (r *RBAC) ListAllFeatures(ctx context.Context) ([]Capability, error) {
	var caps []Capability
	if err := r.db.WithContext(ctx).
		Model(&AccessControlList{}).
		Distinct("feature_name", "action_name").
		Order("feature_name, action_name").
		Scan(&caps).Error; err != nil {
		return nil, internal("list features", err)
	}
	return caps, nil
}

// hasGrant tests for the exact triple. Names are compared as stored.
func (r *RBAC) hasGrant(ctx context.Context, roleID, feature, action string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&AccessControlList{}).
		Where("tenant_role_id = ? AND feature_name = ? AND action_name = ?", roleID, feature, action).
		Count(&count).Error; err != nil {
		return false, internal("lookup grant", err)
	}
	return count > 0, nil
}

func (r *RBAC) roleExists(ctx context.Context, roleID string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&TenantRole{}).Where("id = ?", roleID).Count(&count).Error; err != nil {
		return internal("lookup role", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	return nil
}
