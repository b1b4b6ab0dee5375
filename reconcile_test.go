package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capabilities(t *testing.T, r *RBAC, role *TenantRole) []Capability {
	t.Helper()
	caps, err := r.ListByRole(context.Background(), role.ID)
	require.NoError(t, err)
	return caps
}

func TestReconcilePresets(t *testing.T) {
	assert.Equal(t, []string{"checker", "consumer", "maker"}, ReconcilePresetNames())

	plan, ok := ReconcilePreset("checker")
	require.True(t, ok)
	assert.Equal(t, "CHECKER", plan.Identifier)
	assert.Len(t, plan.Required, 3)
	assert.Equal(t, []Capability{{Feature: "KNOWLEDGE", Action: "CREATE"}}, plan.Forbidden)

	plan.Required[0].Action = "CHANGED"
	again, _ := ReconcilePreset("checker")
	assert.Equal(t, "VIEW", again.Required[0].Action)

	_, ok = ReconcilePreset("nope")
	assert.False(t, ok)
}

func TestReconcilePlan_Validate(t *testing.T) {
	view := Capability{Feature: "KNOWLEDGE", Action: "VIEW"}
	tests := []struct {
		name string
		plan ReconcilePlan
		ok   bool
	}{
		{name: "valid", plan: ReconcilePlan{Identifier: "CHECKER", Required: []Capability{view}}, ok: true},
		{name: "empty plan is a no-op", plan: ReconcilePlan{Identifier: "CHECKER"}, ok: true},
		{name: "no identifier", plan: ReconcilePlan{Required: []Capability{view}}},
		{name: "empty action", plan: ReconcilePlan{Identifier: "CHECKER", Required: []Capability{{Feature: "KNOWLEDGE"}}}},
		{name: "empty forbidden feature", plan: ReconcilePlan{Identifier: "CHECKER", Forbidden: []Capability{{Action: "VIEW"}}}},
		{name: "contradiction", plan: ReconcilePlan{Identifier: "CHECKER", Required: []Capability{view}, Forbidden: []Capability{view}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidInput)
			}
		})
	}
}

func TestReconcile_ConvergesAndIsIdempotent(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()
	admin := mustUser(t, r, "admin-1", GlobalRoleAdmin)

	_, err := r.SeedGlobalTemplates(ctx)
	require.NoError(t, err)

	// t1 is missing two required grants and holds a forbidden one.
	c1 := mustRole(t, r, "t1", "CHECKER", 4)
	mustGrant(t, r, c1, "KNOWLEDGE", "VIEW")
	mustGrant(t, r, c1, "KNOWLEDGE", "CREATE")
	mustGrant(t, r, c1, "REPORT", "VIEW")
	// t2 is already compliant.
	c2 := mustRole(t, r, "t2", "CHECKER", 4)
	mustGrant(t, r, c2, "KNOWLEDGE", "VIEW")
	mustGrant(t, r, c2, "KNOWLEDGE", "APPROVAL")
	mustGrant(t, r, c2, "ASSIGNMENT", "VIEW")
	// Other identifiers are untouched.
	maker := mustRole(t, r, "t1", "MAKER", 3)
	mustGrant(t, r, maker, "KNOWLEDGE", "CREATE")

	plan, ok := ReconcilePreset("checker")
	require.True(t, ok)

	report, err := r.Reconcile(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, "CHECKER", report.Identifier)
	assert.Equal(t, admin.ID, report.ActorID)
	assert.Equal(t, 2, report.RolesScanned, "global templates are not reconciled")
	assert.Equal(t, 2, report.Added)
	assert.Equal(t, 1, report.Removed)
	assert.Zero(t, report.Failed)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	want := []Capability{
		{Feature: "ASSIGNMENT", Action: "VIEW"},
		{Feature: "KNOWLEDGE", Action: "APPROVAL"},
		{Feature: "KNOWLEDGE", Action: "VIEW"},
	}
	assert.Equal(t, append(want, Capability{Feature: "REPORT", Action: "VIEW"}), capabilities(t, r, c1))
	assert.Equal(t, want, capabilities(t, r, c2))
	assert.Equal(t, []Capability{{Feature: "KNOWLEDGE", Action: "CREATE"}}, capabilities(t, r, maker))

	var acl AccessControlList
	require.NoError(t, r.db.Where("tenant_role_id = ? AND feature_name = ? AND action_name = ?",
		c1.ID, "KNOWLEDGE", "APPROVAL").First(&acl).Error)
	assert.Equal(t, admin.ID, acl.CreatedByID)

	var templateGrants int64
	require.NoError(t, r.db.Model(&AccessControlList{}).
		Joins("JOIN tenant_roles ON tenant_roles.id = access_control_lists.tenant_role_id").
		Where("tenant_roles.tenant_id IS NULL").
		Count(&templateGrants).Error)
	assert.Zero(t, templateGrants)

	second, err := r.Reconcile(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 2, second.RolesScanned)
	assert.Zero(t, second.Added)
	assert.Zero(t, second.Removed)
	assert.Equal(t, want, capabilities(t, r, c2))
}

func TestReconcile_ConsumerTwiceSameState(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()
	mustUser(t, r, "admin-1", GlobalRoleAdmin)

	consumer := mustRole(t, r, "t1", "CONSUMER", 1)
	mustGrant(t, r, consumer, "TENANT", "CREATE")

	plan, ok := ReconcilePreset("consumer")
	require.True(t, ok)

	first, err := r.Reconcile(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Added)
	assert.Equal(t, 1, first.Removed)
	afterFirst := capabilities(t, r, consumer)

	second, err := r.Reconcile(ctx, plan)
	require.NoError(t, err)
	assert.Zero(t, second.Added)
	assert.Zero(t, second.Removed)

	assert.Equal(t, afterFirst, capabilities(t, r, consumer))
	assert.Equal(t, []Capability{{Feature: "TENANT", Action: "VIEW"}}, afterFirst)
}

func TestReconcile_NoAdministrator(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()
	mustUser(t, r, "u1", GlobalRoleUser)
	consumer := mustRole(t, r, "t1", "CONSUMER", 1)

	plan, _ := ReconcilePreset("consumer")
	_, err := r.Reconcile(ctx, plan)
	require.ErrorIs(t, err, ErrNoAdministrator)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Zero(t, countGrants(t, r, consumer.ID))
}

func TestReconcile_InvalidPlan(t *testing.T) {
	r := newTestRBAC(t)
	_, err := r.Reconcile(context.Background(), ReconcilePlan{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReconcile_RunLockAndReport(t *testing.T) {
	mr, useRedis := withRedis(t)
	r := newTestRBAC(t, useRedis)
	ctx := context.Background()
	mustUser(t, r, "admin-1", GlobalRoleAdmin)
	consumer := mustRole(t, r, "t1", "CONSUMER", 1)

	plan, _ := ReconcilePreset("consumer")

	_, err := r.LastReconcileReport(ctx, "CONSUMER")
	assert.ErrorIs(t, err, ErrNotFound)

	lock := "rbac-test:reconcile:lock:CONSUMER"
	require.NoError(t, mr.Set(lock, "someone-else"))
	_, err = r.Reconcile(ctx, plan)
	assert.ErrorIs(t, err, ErrReconcileInProgress)
	assert.Zero(t, countGrants(t, r, consumer.ID))

	mr.Del(lock)
	report, err := r.Reconcile(ctx, plan)
	require.NoError(t, err)
	assert.False(t, mr.Exists(lock), "lock is released after the run")

	last, err := r.LastReconcileReport(ctx, "CONSUMER")
	require.NoError(t, err)
	assert.Equal(t, report.Added, last.Added)
	assert.Equal(t, report.RolesScanned, last.RolesScanned)
	assert.Equal(t, "admin-1", last.ActorID)
}

func TestLastReconcileReport_WithoutRedis(t *testing.T) {
	r := newTestRBAC(t)
	_, err := r.LastReconcileReport(context.Background(), "CHECKER")
	assert.ErrorIs(t, err, ErrNotFound)
}
