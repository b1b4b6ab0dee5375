package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedGlobalTemplates_Idempotent(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()

	n, err := r.SeedGlobalTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = r.SeedGlobalTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var templates []TenantRole
	require.NoError(t, r.db.Where("tenant_id IS NULL").Find(&templates).Error)
	assert.Len(t, templates, 10)

	identifiers := make(map[string]int)
	for _, tpl := range templates {
		identifiers[tpl.Identifier] = tpl.Level
		assert.True(t, tpl.IsTemplate())
	}
	for _, want := range []string{"CHECKER", "HEAD_OF_OFFICE", "OPS_MANAGER", "SUPERVISOR", "TEAM_LEADER",
		"QUALITY_ASSURANCE", "MAKER", "CONSUMER", "AGENT", "TRAINER"} {
		assert.Contains(t, identifiers, want)
	}
}

func TestSeedGlobalTemplates_Concurrent(t *testing.T) {
	r := newTestRBAC(t, withConcurrentDB(t))

	const starts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		errs     []error
	)
	for i := 0; i < starts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := r.SeedGlobalTemplates(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			inserted += n
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 10, inserted)

	var count int64
	require.NoError(t, r.db.Model(&TenantRole{}).Where("tenant_id IS NULL").Count(&count).Error)
	assert.EqualValues(t, 10, count)
}

func TestSeedGlobalTemplates_StoreRejectsDuplicateTemplate(t *testing.T) {
	r := newTestRBAC(t)
	_, err := r.SeedGlobalTemplates(context.Background())
	require.NoError(t, err)

	err = r.db.Create(&TenantRole{Identifier: "CHECKER", Name: "Checker", Level: 4}).Error
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), err.Error())

	// The same identifier is still free inside a tenant.
	mustRole(t, r, "t1", "CHECKER", 4)
}

func TestSeedGlobalTemplates_RestoresMissingTemplate(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()
	_, err := r.SeedGlobalTemplates(ctx)
	require.NoError(t, err)

	require.NoError(t, r.db.Where("tenant_id IS NULL AND identifier = ?", "AGENT").Delete(&TenantRole{}).Error)

	n, err := r.SeedGlobalTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGlobalTemplates_DistinctLevels(t *testing.T) {
	levels := make(map[int]string)
	for _, tpl := range GlobalTemplates() {
		prev, dup := levels[tpl.Level]
		assert.False(t, dup, "%s shares level %d with %s", tpl.Identifier, tpl.Level, prev)
		levels[tpl.Level] = tpl.Identifier
	}
}

func TestGlobalTemplates_ReturnsCopy(t *testing.T) {
	a := GlobalTemplates()
	a[0].Identifier = "CHANGED"
	assert.NotEqual(t, "CHANGED", GlobalTemplates()[0].Identifier)
}

func TestCreateTenantRole(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()

	role, err := r.CreateTenantRole(ctx, "t1", "CHECKER", "Checker", "approves", 4, "admin-1")
	require.NoError(t, err)
	require.NotEmpty(t, role.ID)
	require.NotNil(t, role.TenantID)
	assert.Equal(t, "t1", *role.TenantID)

	t.Run("duplicate identifier in same tenant conflicts", func(t *testing.T) {
		_, err := r.CreateTenantRole(ctx, "t1", "CHECKER", "Other", "", 4, "admin-1")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("same identifier in another tenant is fine", func(t *testing.T) {
		_, err := r.CreateTenantRole(ctx, "t2", "CHECKER", "Checker", "", 4, "admin-1")
		assert.NoError(t, err)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := r.CreateTenantRole(ctx, "", "CHECKER", "", "", 4, "admin-1")
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = r.CreateTenantRole(ctx, "t1", "", "", "", 4, "admin-1")
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = r.CreateTenantRole(ctx, "t1", "MAKER", "", "", 0, "admin-1")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestRoleIDsSortByCreation(t *testing.T) {
	r := newTestRBAC(t)
	first := mustRole(t, r, "t1", "MAKER", 3)
	second := mustRole(t, r, "t1", "CHECKER", 4)
	assert.Less(t, first.ID, second.ID)
}

func TestGetRolesByTenant(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()

	mustRole(t, r, "t1", "MAKER", 3)
	mustRole(t, r, "t1", "CHECKER", 4)
	mustRole(t, r, "t2", "AGENT", 2)

	roles, err := r.GetRolesByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "CHECKER", roles[0].Identifier)
	assert.Equal(t, "MAKER", roles[1].Identifier)

	roles, err = r.GetRolesByTenant(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestGetRoleByID(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()
	role := mustRole(t, r, "t1", "MAKER", 3)

	got, err := r.GetRoleByID(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "MAKER", got.Identifier)

	_, err = r.GetRoleByID(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProvisionTenant(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()
	_, err := r.SeedGlobalTemplates(ctx)
	require.NoError(t, err)

	mustRole(t, r, "t1", "CHECKER", 4)

	created, err := r.ProvisionTenant(ctx, "t1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 9, created)

	created, err = r.ProvisionTenant(ctx, "t1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	roles, err := r.GetRolesByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, roles, 10)
	assert.Equal(t, "HEAD_OF_OFFICE", roles[0].Identifier)
}

func TestDeleteRole_CascadesGrants(t *testing.T) {
	r := newTestRBAC(t)
	ctx := context.Background()

	role := mustRole(t, r, "t1", "CHECKER", 4)
	other := mustRole(t, r, "t1", "MAKER", 3)
	mustGrant(t, r, role, "KNOWLEDGE", "APPROVAL")
	mustGrant(t, r, role, "KNOWLEDGE", "VIEW")
	mustGrant(t, r, other, "KNOWLEDGE", "VIEW")
	user := mustUser(t, r, "u1", GlobalRoleUser)
	mustMember(t, r, "t1", user, role)

	require.NoError(t, r.DeleteRole(ctx, role.ID, "admin-1"))

	var orphans int64
	require.NoError(t, r.db.Model(&AccessControlList{}).
		Where("tenant_role_id NOT IN (?)", r.db.Model(&TenantRole{}).Select("id")).
		Count(&orphans).Error)
	assert.Zero(t, orphans)
	assert.Zero(t, countGrants(t, r, role.ID))
	assert.EqualValues(t, 1, countGrants(t, r, other.ID))

	_, err := r.ResolveTenantRole(ctx, user, "t1")
	assert.ErrorIs(t, err, ErrForbidden)

	assert.ErrorIs(t, r.DeleteRole(ctx, role.ID, "admin-1"), ErrNotFound)
}
