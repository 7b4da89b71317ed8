package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "counter"

var (
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_total",
		Help:      "Counter mutations applied, by counter type prefix and operation.",
	}, []string{"type", "op"})

	HistoryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "history_failures_total",
		Help:      "Ledger entries that could not be written.",
	})

	CascadeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cascade_failures_total",
		Help:      "Failed cascade steps (user stats, membership removal).",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications by result: emitted, empty, published, failed.",
	}, []string{"result"})

	ContextsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contexts_reaped_total",
		Help:      "Update contexts dropped by the in-memory reaper.",
	})

	Recalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recalculations_total",
		Help:      "Recalculation runs by kind and result.",
	}, []string{"kind", "result"})
)

// Result 标签值
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
