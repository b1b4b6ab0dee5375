package rbac

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbac_access_decisions_total",
		Help: "Access checks answered by the decision engine, by outcome",
	}, []string{"decision"})

	reconcileChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rbac_reconcile_changes_total",
		Help: "Grants added, removed or failed by reconciliation runs",
	}, []string{"identifier", "change"})
)
