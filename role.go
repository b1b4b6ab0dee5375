package rbac

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tenantIdentifierConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "identifier"}},
	DoNothing: true,
}

// templateConflict targets idx_tenant_roles_template_identifier.
var templateConflict = clause.OnConflict{
	Columns:     []clause.Column{{Name: "identifier"}},
	TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "tenant_id IS NULL"}}},
	DoNothing:   true,
}

// SeedGlobalTemplates inserts every global template that is not stored yet
// and returns the number of rows inserted. The store's partial unique index
// decides which inserts win, so concurrent starts never duplicate a
// template.
func (r *RBAC) SeedGlobalTemplates(ctx context.Context) (int, error) {
	templates := GlobalTemplates()
	roles := make([]TenantRole, 0, len(templates))
	for _, t := range templates {
		roles = append(roles, TenantRole{
			Identifier:  t.Identifier,
			Name:        t.Name,
			Description: t.Description,
			Level:       t.Level,
		})
	}

	res := r.db.WithContext(ctx).Clauses(templateConflict).Create(&roles)
	if res.Error != nil {
		return 0, internal("seed global templates", res.Error)
	}

	inserted := int(res.RowsAffected)
	if inserted > 0 {
		r.log.Infow("seeded global role templates", "count", inserted)
	}
	return inserted, nil
}

// CreateTenantRole creates a concrete role for a tenant.
func (r *RBAC) CreateTenantRole(ctx context.Context, tenantID, identifier, name, description string, level int, actorID string) (*TenantRole, error) {
	if tenantID == "" || identifier == "" || level < 1 {
		return nil, ErrInvalidInput
	}
	if name == "" {
		name = identifier
	}

	role := &TenantRole{
		TenantID:    &tenantID,
		Identifier:  identifier,
		Name:        name,
		Description: description,
		Level:       level,
	}
	res := r.db.WithContext(ctx).Clauses(tenantIdentifierConflict).Create(role)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, fmt.Errorf("%w: role %s in tenant %s", ErrConflict, identifier, tenantID)
		}
		return nil, internal("create tenant role", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: role %s in tenant %s", ErrConflict, identifier, tenantID)
	}

	r.logAudit(ctx, actorID, "create_role", "tenant_role", role.ID, "Created role "+identifier+" in tenant "+tenantID)
	return role, nil
}

// ProvisionTenant copies every global template into the tenant. Identifiers
// the tenant already has are left alone, so the call is repeatable.
func (r *RBAC) ProvisionTenant(ctx context.Context, tenantID, actorID string) (int, error) {
	if tenantID == "" {
		return 0, ErrInvalidInput
	}

	var templates []TenantRole
	if err := r.db.WithContext(ctx).Where("tenant_id IS NULL").Order("level DESC").Find(&templates).Error; err != nil {
		return 0, internal("list global templates", err)
	}

	created := 0
	for _, t := range templates {
		role := &TenantRole{
			TenantID:    &tenantID,
			Identifier:  t.Identifier,
			Name:        t.Name,
			Description: t.Description,
			Level:       t.Level,
		}
		res := r.db.WithContext(ctx).Clauses(tenantIdentifierConflict).Create(role)
		if res.Error != nil {
			return created, internal("provision tenant role", res.Error)
		}
		if res.RowsAffected > 0 {
			created++
			r.logAudit(ctx, actorID, "create_role", "tenant_role", role.ID, "Provisioned role "+t.Identifier+" in tenant "+tenantID)
		}
	}

	r.log.Infow("provisioned tenant", "tenant_id", tenantID, "created", created)
	return created, nil
}

// GetRolesByTenant lists a tenant's roles, highest level first.
func (r *RBAC) GetRolesByTenant(ctx context.Context, tenantID string) ([]TenantRole, error) {
	if tenantID == "" {
		return nil, ErrInvalidInput
	}

	var roles []TenantRole
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("level DESC, identifier").
		Find(&roles).Error; err != nil {
		return nil, internal("list tenant roles", err)
	}
	return roles, nil
}

// GetRoleByID retrieves a role by ID.
func (r *RBAC) GetRoleByID(ctx context.Context, id string) (*TenantRole, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}

	var role TenantRole
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: role %s", ErrNotFound, id)
		}
		return nil, internal("get role", err)
	}
	return &role, nil
}

// DeleteRole removes a role together with its grants and memberships.
func (r *RBAC) DeleteRole(ctx context.Context, id, actorID string) error {
	if id == "" {
		return ErrInvalidInput
	}

	var missing bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_role_id = ?", id).Delete(&AccessControlList{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_role_id = ?", id).Delete(&TenantMember{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&TenantRole{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			missing = true
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if missing {
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	if err != nil {
		return internal("delete role", err)
	}

	r.logAudit(ctx, actorID, "delete_role", "tenant_role", id, "Deleted role and its grants")
	return nil
}
