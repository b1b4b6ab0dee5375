package rbac

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Fiber locals set by the middleware below.
const (
	LocalIdentity   = "rbac_identity"
	LocalTenantID   = "rbac_tenant_id"
	LocalTenantRole = "rbac_tenant_role"
)

// DefaultTenantParam is the route/query parameter carrying the tenant id
// unless Config.TenantParam names another.
const DefaultTenantParam = "tenantId"

// IdentityFrom returns the identity stored by AuthMiddleware.
func IdentityFrom(c *fiber.Ctx) (*Identity, bool) {
	id, ok := c.Locals(LocalIdentity).(*Identity)
	return id, ok && id != nil
}

// TenantRoleFrom returns the role stored by RequireTenantRole.
func TenantRoleFrom(c *fiber.Ctx) (*TenantRole, bool) {
	role, ok := c.Locals(LocalTenantRole).(*TenantRole)
	return role, ok && role != nil
}

// HTTPError converts a service error to a fiber error. Store failures are
// reported without their cause.
func HTTPError(err error) *fiber.Error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrReconcileInProgress):
		return fiber.NewError(fiber.StatusConflict, ErrReconcileInProgress.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, ErrInternal.Error())
	}
}

// AuthMiddleware verifies the bearer token and stores the identity. The
// verifier's message is returned to the client on failure.
func (r *RBAC) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		identity, err := r.Authenticate(token)
		if err != nil {
			return HTTPError(err)
		}
		c.Locals(LocalIdentity, identity)
		return c.Next()
	}
}

// RequireGlobalRole admits identities whose global role is listed. It runs
// before any tenant context exists and never consults the matrix.
func (r *RBAC) RequireGlobalRole(allowed ...GlobalRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFrom(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "identity not found in context")
		}
		if !HasGlobalRole(identity, allowed...) {
			return fiber.NewError(fiber.StatusForbidden, "global role not permitted")
		}
		return c.Next()
	}
}

// RequireTenantRole resolves the caller's role in the tenant named by the
// param (path first, then query) and stores it. An empty param means the
// service's configured tenant parameter.
func (r *RBAC) RequireTenantRole(param string) fiber.Handler {
	if param == "" {
		param = r.tenantParam
	}
	return func(c *fiber.Ctx) error {
		if _, err := r.tenantRole(c, param); err != nil {
			return err
		}
		return c.Next()
	}
}

// RequireAnyRoleIdentifier admits callers whose tenant role identifier is in
// the fixed allow-list. This is a static gate that does not read the
// permission matrix; passing it does not imply any grant exists. The tenant
// comes from Config.TenantParam unless RequireTenantRole already resolved it.
func (r *RBAC) RequireAnyRoleIdentifier(allowed ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, err := r.tenantRole(c, r.tenantParam)
		if err != nil {
			return err
		}
		if !HasAnyRoleIdentifier(role, allowed...) {
			return fiber.NewError(fiber.StatusForbidden, "role "+role.Identifier+" is not permitted")
		}
		return c.Next()
	}
}

// RequireFeature runs a matrix check for key in the request's tenant, taken
// from Config.TenantParam unless RequireTenantRole already resolved it.
func (r *RBAC) RequireFeature(key string) fiber.Handler {
	feature, action, keyErr := ParseFeatureKey(key)
	return func(c *fiber.Ctx) error {
		role, err := r.tenantRole(c, r.tenantParam)
		if err != nil {
			return err
		}
		if keyErr != nil {
			return HTTPError(keyErr)
		}
		d, err := r.decide(c.UserContext(), role, feature, action)
		if err != nil {
			r.log.Errorw("access check failed", "key", key, "error", err)
			return HTTPError(err)
		}
		if d != Allowed {
			return fiber.NewError(fiber.StatusForbidden, "access denied: "+key)
		}
		return c.Next()
	}
}

// tenantRole returns the role already resolved for this request, or
// resolves and stores it.
func (r *RBAC) tenantRole(c *fiber.Ctx, param string) (*TenantRole, error) {
	if role, ok := TenantRoleFrom(c); ok {
		return role, nil
	}

	identity, ok := IdentityFrom(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "identity not found in context")
	}

	tenantID := c.Params(param)
	if tenantID == "" {
		tenantID = c.Query(param)
	}
	if tenantID == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "tenant id is required")
	}

	role, err := r.ResolveTenantRole(c.UserContext(), identity, tenantID)
	if err != nil {
		if !errors.Is(err, ErrForbidden) {
			r.log.Errorw("tenant role resolution failed", "tenant_id", tenantID, "error", err)
		}
		return nil, HTTPError(err)
	}

	c.Locals(LocalTenantID, tenantID)
	c.Locals(LocalTenantRole, role)
	return role, nil
}
