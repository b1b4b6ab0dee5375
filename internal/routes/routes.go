package routes

import (
	"strings"

	rbac "github.com/bohemiyan/TenantRBAC"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type handlers struct {
	svc *rbac.RBAC
}

type createRoleRequest struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       int    `json:"level"`
}

type grantRequest struct {
	Feature string `json:"feature"`
	Action  string `json:"action"`
}

type assignRequest struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
}

// Setup mounts the administrative surface. Catalog and matrix writes are
// limited to platform administrators; tenant-scoped reads require standing
// in the tenant.
func Setup(app *fiber.App, svc *rbac.RBAC) {
	h := &handlers{svc: svc}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1", svc.AuthMiddleware())

	admin := api.Group("/admin", svc.RequireGlobalRole(rbac.GlobalRoleAdmin))
	admin.Post("/tenants/:tenantId/provision", h.provisionTenant)
	admin.Post("/tenants/:tenantId/roles", h.createRole)
	admin.Get("/tenants/:tenantId/roles", h.listRoles)
	admin.Put("/tenants/:tenantId/members", h.assignMember)
	admin.Delete("/tenants/:tenantId/members/:userId", h.removeMember)
	admin.Get("/roles/:roleId", h.getRole)
	admin.Delete("/roles/:roleId", h.deleteRole)
	admin.Post("/roles/:roleId/grants", h.grant)
	admin.Delete("/roles/:roleId/grants/:feature/:action", h.revoke)
	admin.Get("/roles/:roleId/features", h.enabledFeatures)
	admin.Get("/features", h.listAllFeatures)
	admin.Get("/audit", h.listAudit)

	inTenant := svc.RequireTenantRole(rbac.DefaultTenantParam)
	api.Get("/tenants/:tenantId/me", inTenant, h.me)
	api.Get("/tenants/:tenantId/access", inTenant, h.checkAccess)
}

func (h *handlers) provisionTenant(c *fiber.Ctx) error {
	identity, _ := rbac.IdentityFrom(c)
	created, err := h.svc.ProvisionTenant(c.UserContext(), c.Params("tenantId"), identity.ID)
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.JSON(fiber.Map{"created": created})
}

func (h *handlers) createRole(c *fiber.Ctx) error {
	var req createRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	identity, _ := rbac.IdentityFrom(c)

	role, err := h.svc.CreateTenantRole(c.UserContext(), c.Params("tenantId"), req.Identifier, req.Name, req.Description, req.Level, identity.ID)
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(role)
}

func (h *handlers) listRoles(c *fiber.Ctx) error {
	roles, err := h.svc.GetRolesByTenant(c.UserContext(), c.Params("tenantId"))
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.JSON(roles)
}

func (h *handlers) assignMember(c *fiber.Ctx) error {
	var req assignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	identity, _ := rbac.IdentityFrom(c)

	if err := h.svc.AssignTenantRole(c.UserContext(), c.Params("tenantId"), req.UserID, req.RoleID, identity.ID); err != nil {
		return rbac.HTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) removeMember(c *fiber.Ctx) error {
	identity, _ := rbac.IdentityFrom(c)
	if err := h.svc.RemoveTenantMember(c.UserContext(), c.Params("tenantId"), c.Params("userId"), identity.ID); err != nil {
		return rbac.HTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) getRole(c *fiber.Ctx) error {
	role, err := h.svc.GetRoleByID(c.UserContext(), c.Params("roleId"))
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.JSON(role)
}

func (h *handlers) deleteRole(c *fiber.Ctx) error {
	identity, _ := rbac.IdentityFrom(c)
	if err := h.svc.DeleteRole(c.UserContext(), c.Params("roleId"), identity.ID); err != nil {
		return rbac.HTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) grant(c *fiber.Ctx) error {
	var req grantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	identity, _ := rbac.IdentityFrom(c)

	added, err := h.svc.Grant(c.UserContext(), c.Params("roleId"), req.Feature, req.Action, identity.ID)
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.JSON(fiber.Map{"added": added})
}

func (h *handlers) revoke(c *fiber.Ctx) error {
	identity, _ := rbac.IdentityFrom(c)
	removed, err := h.svc.Revoke(c.UserContext(), c.Params("roleId"), c.Params("feature"), c.Params("action"), identity.ID)
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.JSON(fiber.Map{"removed": removed})
}

func (h *handlers) enabledFeatures(c *fiber.Ctx) error {
	features, err := h.svc.EnabledFeatures(c.UserContext(), c.Params("roleId"))
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.JSON(features)
}

func (h *handlers) listAllFeatures(c *fiber.Ctx) error {
	caps, err := h.svc.ListAllFeatures(c.UserContext())
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.JSON(caps)
}

func (h *handlers) listAudit(c *fiber.Ctx) error {
	var actorID, targetID *string
	if v := c.Query("actorId"); v != "" {
		actorID = &v
	}
	if v := c.Query("targetId"); v != "" {
		targetID = &v
	}
	logs, err := h.svc.ListAuditLogs(c.UserContext(), actorID, targetID)
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.JSON(logs)
}

// me returns the caller's role in the tenant and its enabled features, for
// client-side capability gating.
func (h *handlers) me(c *fiber.Ctx) error {
	role, _ := rbac.TenantRoleFrom(c)
	features, err := h.svc.EnabledFeatures(c.UserContext(), role.ID)
	if err != nil {
		return rbac.HTTPError(err)
	}
	return c.JSON(fiber.Map{"role": role, "features": features})
}

// checkAccess answers ?key=FEATURE.ACTION (repeatable, or comma separated)
// for the caller in the tenant.
func (h *handlers) checkAccess(c *fiber.Ctx) error {
	identity, _ := rbac.IdentityFrom(c)

	var keys []string
	for _, raw := range c.Context().QueryArgs().PeekMulti("key") {
		keys = append(keys, strings.Split(string(raw), ",")...)
	}
	if len(keys) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "key is required")
	}

	decisions, err := h.svc.CheckAccessBulk(c.UserContext(), identity, c.Params("tenantId"), keys)
	if err != nil {
		return rbac.HTTPError(err)
	}

	out := make(map[string]bool, len(decisions))
	for key, d := range decisions {
		out[key] = d == rbac.Allowed
	}
	return c.JSON(out)
}
