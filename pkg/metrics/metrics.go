// Package metrics exposes Prometheus instrumentation for the workflow
// engine. Callers mount promhttp themselves; the engine only increments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts applied step transitions by step and target
	// status. Idempotent no-ops are not counted.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prodflow_step_transitions_total",
		Help: "The total number of applied step transitions",
	}, []string{"step", "status"})

	// ClaimConflictsTotal counts start attempts rejected because another
	// machine already held the claim.
	ClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodflow_machine_claim_conflicts_total",
		Help: "The total number of rejected competing machine claims",
	})

	// DispatchedQtyTotal accumulates actually dispatched quantity.
	DispatchedQtyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodflow_dispatched_quantity_total",
		Help: "The total quantity recorded as dispatched",
	})

	// FinishedGoodsConsumedTotal accumulates quantity drawn from the
	// finished-goods ledger during dispatch.
	FinishedGoodsConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodflow_finished_goods_consumed_total",
		Help: "The total finished-goods quantity consumed by dispatches",
	})

	// FinishedGoodsBankedTotal accumulates quantity added to the ledger,
	// from excess requests and reported leftovers.
	FinishedGoodsBankedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodflow_finished_goods_banked_total",
		Help: "The total finished-goods quantity banked into the ledger",
	})

	// LedgerShortfallsTotal counts soft ledger shortfalls logged during
	// dispatch consumption.
	LedgerShortfallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodflow_ledger_shortfalls_total",
		Help: "The total number of finished-goods ledger shortfalls",
	})

	// JobsArchivedTotal counts jobs archived by auto-completion.
	JobsArchivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prodflow_jobs_archived_total",
		Help: "The total number of jobs archived on completion",
	})
)
