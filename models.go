package rbac

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GlobalRole is the coarse, tenant-independent role carried by an identity.
type GlobalRole string

const (
	GlobalRoleAdmin GlobalRole = "ADMIN"
	GlobalRoleUser  GlobalRole = "USER"
)

// TenantRole is a role bound to one tenant, or a global template when
// TenantID is nil. NULL tenant ids never collide in the composite index, so
// template identifiers carry their own partial unique index.
type TenantRole struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID    *string   `gorm:"size:64;uniqueIndex:idx_tenant_roles_tenant_identifier" json:"tenantId"`
	Identifier  string    `gorm:"size:64;not null;uniqueIndex:idx_tenant_roles_tenant_identifier;uniqueIndex:idx_tenant_roles_template_identifier,where:tenant_id IS NULL;index" json:"identifier"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	Level       int       `gorm:"not null" json:"level"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Grants []AccessControlList `gorm:"foreignKey:TenantRoleID;constraint:OnDelete:CASCADE" json:"-"`
}

// IsTemplate reports whether the role is a tenant-less seed pattern.
func (t *TenantRole) IsTemplate() bool {
	return t.TenantID == nil
}

func (t *TenantRole) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		t.ID = id
	}
	return nil
}

// AccessControlList is one grant in the permission matrix. The
// (feature_name, action_name, tenant_role_id) triple is unique.
type AccessControlList struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	FeatureName  string    `gorm:"size:128;not null;uniqueIndex:idx_acl_feature_action_role" json:"featureName"`
	ActionName   string    `gorm:"size:128;not null;uniqueIndex:idx_acl_feature_action_role" json:"actionName"`
	TenantRoleID string    `gorm:"size:36;not null;uniqueIndex:idx_acl_feature_action_role;index" json:"tenantRoleId"`
	CreatedByID  string    `gorm:"size:64" json:"createdById"`
	UpdatedByID  string    `gorm:"size:64" json:"updatedById"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (a *AccessControlList) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		a.ID = id
	}
	return nil
}

// Capability is a (feature, action) pair. Both parts are opaque and
// compared byte for byte.
type Capability struct {
	Feature string `gorm:"column:feature_name" json:"feature" yaml:"feature"`
	Action  string `gorm:"column:action_name" json:"action" yaml:"action"`
}

func (c Capability) String() string {
	return c.Feature + "." + c.Action
}

// User is the identity relation. It is owned by the account subsystem and
// only read here.
type User struct {
	ID        string     `gorm:"primaryKey;size:64"`
	Email     string     `gorm:"size:255;uniqueIndex"`
	FullName  string     `gorm:"size:255"`
	Role      GlobalRole `gorm:"size:16;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantMember binds an identity to exactly one role within a tenant.
type TenantMember struct {
	TenantID     string `gorm:"primaryKey;size:64"`
	UserID       string `gorm:"primaryKey;size:64"`
	TenantRoleID string `gorm:"size:36;not null;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuditLog tracks catalog and matrix mutations.
type AuditLog struct {
	ID         uint   `gorm:"primaryKey"`
	ActorID    string `gorm:"size:64;index"`
	Action     string `gorm:"not null"`
	TargetType string `gorm:"not null"`
	TargetID   string `gorm:"size:64;index;not null"`
	Details    string
	CreatedAt  time.Time
}

func (AuditLog) TableName() string {
	return "rbac_audit_logs"
}

// newID returns a UUIDv7, which sorts lexicographically by creation time.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
