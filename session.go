package rbac

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Authenticate verifies a bearer token and returns the caller's identity.
func (r *RBAC) Authenticate(token string) (*Identity, error) {
	if r.tokens == nil {
		return nil, fmt.Errorf("%w: token verification is not configured", ErrUnauthorized)
	}
	return r.tokens.Verify(token)
}

// ResolveTenantRole returns the role the identity holds in the tenant. An
// identity without membership has no standing there and gets ErrForbidden.
func (r *RBAC) ResolveTenantRole(ctx context.Context, identity *Identity, tenantID string) (*TenantRole, error) {
	if identity == nil {
		return nil, ErrUnauthorized
	}
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}

	var role TenantRole
	err := r.db.WithContext(ctx).
		Joins("JOIN tenant_members ON tenant_members.tenant_role_id = tenant_roles.id").
		Where("tenant_members.tenant_id = ? AND tenant_members.user_id = ? AND tenant_roles.tenant_id = ?",
			tenantID, identity.ID, tenantID).
		First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no role in tenant %s", ErrForbidden, tenantID)
		}
		return nil, internal("resolve tenant role", err)
	}
	return &role, nil
}

// HasGlobalRole is the coarse platform gate; it never consults the matrix.
func HasGlobalRole(identity *Identity, allowed ...GlobalRole) bool {
	if identity == nil {
		return false
	}
	for _, g := range allowed {
		if identity.GlobalRole == g {
			return true
		}
	}
	return false
}

// HasAnyRoleIdentifier checks a fixed allow-list of role identifiers.
// It bypasses the permission matrix: passing it says nothing about grants.
func HasAnyRoleIdentifier(role *TenantRole, allowed ...string) bool {
	if role == nil {
		return false
	}
	for _, id := range allowed {
		if role.Identifier == id {
			return true
		}
	}
	return false
}

// AssignTenantRole sets the identity's role in the tenant, replacing any
// previous one.
func (r *RBAC) AssignTenantRole(ctx context.Context, tenantID, userID, roleID, actorID string) error {
	if tenantID == "" || userID == "" || roleID == "" {
		return ErrInvalidInput
	}

	role, err := r.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.TenantID == nil || *role.TenantID != tenantID {
		return fmt.Errorf("%w: role %s does not belong to tenant %s", ErrInvalidInput, roleID, tenantID)
	}

	member := &TenantMember{TenantID: tenantID, UserID: userID, TenantRoleID: roleID}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tenant_role_id", "updated_at"}),
	}).Create(member).Error; err != nil {
		return internal("assign tenant role", err)
	}

	r.logAudit(ctx, actorID, "assign_role", "tenant_member", userID, "Assigned "+role.Identifier+" in tenant "+tenantID)
	return nil
}

// RemoveTenantMember drops the identity's standing in the tenant.
func (r *RBAC) RemoveTenantMember(ctx context.Context, tenantID, userID, actorID string) error {
	if tenantID == "" || userID == "" {
		return ErrInvalidInput
	}

	res := r.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID).Delete(&TenantMember{})
	if res.Error != nil {
		return internal("remove tenant member", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: member %s in tenant %s", ErrNotFound, userID, tenantID)
	}

	r.logAudit(ctx, actorID, "remove_member", "tenant_member", userID, "Removed from tenant "+tenantID)
	return nil
}
