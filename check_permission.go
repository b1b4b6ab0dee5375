package rbac

import (
	"context"
	"fmt"
	"strings"
)

// DefaultAction is implied by a feature key without an action part.
const DefaultAction = "VIEW"

// Decision is the outcome of an access check. Denied is a normal result,
// not an error.
type Decision int

const (
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// ParseFeatureKey splits "<feature>.<action>" on the first dot. A bare
// "<feature>" means DefaultAction. Nothing is trimmed or case-folded.
func ParseFeatureKey(key string) (feature, action string, err error) {
	feature, action, found := strings.Cut(key, ".")
	if !found {
		action = DefaultAction
	}
	if feature == "" || action == "" {
		return "", "", fmt.Errorf("%w: feature key %q", ErrInvalidInput, key)
	}
	return feature, action, nil
}

// CheckAccess decides whether the identity may use the capability named by
// key inside the tenant. There is no inheritance between roles: only the
// resolved role's own grants count, whatever its level. Standing is checked
// before the key, so a caller outside the tenant learns nothing from it.
func (r *RBAC) CheckAccess(ctx context.Context, identity *Identity, tenantID, key string) (Decision, error) {
	role, err := r.ResolveTenantRole(ctx, identity, tenantID)
	if err != nil {
		return Denied, err
	}

	feature, action, err := ParseFeatureKey(key)
	if err != nil {
		return Denied, err
	}

	return r.decide(ctx, role, feature, action)
}

func (r *RBAC) decide(ctx context.Context, role *TenantRole, feature, action string) (Decision, error) {
	ok, err := r.hasGrant(ctx, role.ID, feature, action)
	if err != nil {
		return Denied, err
	}

	d := Denied
	if ok {
		d = Allowed
	}
	decisionsTotal.WithLabelValues(d.String()).Inc()
	r.log.Debugw("access decision",
		"tenant_id", derefString(role.TenantID),
		"role", role.Identifier,
		"feature", feature,
		"action", action,
		"decision", d.String(),
	)
	return d, nil
}

// EnabledFeatures maps each granted feature to its permitted actions. It
// reads the matrix on every call, the same source CheckAccess uses.
func (r *RBAC) EnabledFeatures(ctx context.Context, roleID string) (map[string][]string, error) {
	if roleID == "" {
		return nil, ErrInvalidInput
	}
	if err := r.roleExists(ctx, roleID); err != nil {
		return nil, err
	}

	caps, err := r.ListByRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	features := make(map[string][]string)
	for _, c := range caps {
		features[c.Feature] = append(features[c.Feature], c.Action)
	}
	return features, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
