package rbac

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CheckAccessBulk evaluates several feature keys for one identity in one
// tenant. The tenant role is resolved once, before any key is parsed; the
// grant lookups run concurrently. Any error aborts the whole batch.
func (r *RBAC) CheckAccessBulk(ctx context.Context, identity *Identity, tenantID string, keys []string) (map[string]Decision, error) {
	role, err := r.ResolveTenantRole(ctx, identity, tenantID)
	if err != nil {
		return nil, err
	}

	type parsed struct {
		key, feature, action string
	}
	checks := make([]parsed, 0, len(keys))
	for _, key := range keys {
		feature, action, err := ParseFeatureKey(key)
		if err != nil {
			return nil, err
		}
		checks = append(checks, parsed{key: key, feature: feature, action: action})
	}

	results := make(map[string]Decision, len(checks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.bulkLimit)
	for _, c := range checks {
		g.Go(func() error {
			d, err := r.decide(gctx, role, c.feature, c.action)
			if err != nil {
				return err
			}
			mu.Lock()
			results[c.key] = d
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
