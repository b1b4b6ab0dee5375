package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis never holds grants. It only coordinates reconciliation runs and
// keeps the last report per identifier.

func (r *RBAC) lockKey(identifier string) string {
	return fmt.Sprintf("%s:reconcile:lock:%s", r.appName, identifier)
}

func (r *RBAC) reportKey(identifier string) string {
	return fmt.Sprintf("%s:reconcile:last:%s", r.appName, identifier)
}

// releaseLockScript deletes the lock only if this run still owns it.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// acquireRunLock takes the per-identifier reconcile lock. Without Redis it
// is a no-op.
func (r *RBAC) acquireRunLock(ctx context.Context, identifier string) (func(), error) {
	if r.redis == nil {
		return func() {}, nil
	}

	key := r.lockKey(identifier)
	token := uuid.NewString()
	ok, err := r.redis.SetNX(ctx, key, token, r.lockTTL).Result()
	if err != nil {
		return nil, internal("acquire reconcile lock", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReconcileInProgress, identifier)
	}

	return func() {
		if err := releaseLockScript.Run(context.Background(), r.redis, []string{key}, token).Err(); err != nil {
			r.log.Warnw("failed to release reconcile lock", "identifier", identifier, "error", err)
		}
	}, nil
}

func (r *RBAC) storeReport(ctx context.Context, report *ReconcileReport) {
	if r.redis == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		r.log.Warnw("failed to encode reconcile report", "error", err)
		return
	}
	if err := r.redis.Set(ctx, r.reportKey(report.Identifier), raw, 0).Err(); err != nil {
		r.log.Warnw("failed to store reconcile report", "identifier", report.Identifier, "error", err)
	}
}

// LastReconcileReport returns the report of the most recent completed run
// for the identifier.
func (r *RBAC) LastReconcileReport(ctx context.Context, identifier string) (*ReconcileReport, error) {
	if r.redis == nil {
		return nil, fmt.Errorf("%w: redis is not configured", ErrNotFound)
	}

	raw, err := r.redis.Get(ctx, r.reportKey(identifier)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: no reconcile report for %s", ErrNotFound, identifier)
	}
	if err != nil {
		return nil, internal("load reconcile report", err)
	}

	var report ReconcileReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, internal("decode reconcile report", err)
	}
	return &report, nil
}
