// Package reconcile implements dispatch quantity reconciliation: it
// conserves quantity across quality-checked stock, purchase-order targets
// and the finished-goods ledger every time a dispatch is recorded.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/corrugo/prodflow/pkg/core"
	"github.com/corrugo/prodflow/pkg/dispatch"
	"github.com/corrugo/prodflow/pkg/internal/joblock"
	"github.com/corrugo/prodflow/pkg/metrics"
)

// Result reports what one dispatch call actually did.
type Result struct {
	Requested int
	Actual    int
	Excess    int
	NewTotal  int
	Consumed  int // drawn from the finished-goods ledger this call
	Shortfall int // ledger amount that could not be covered (soft)
	Accepted  bool
	Record    *core.DispatchRecord
}

// Engine applies the reconciliation algorithm. Concurrent dispatches for
// the same job are serialized through the lock registry: the algorithm
// reads three aggregates and writes two, so interleaving two partial
// dispatches could double-spend the finished-goods buffer.
type Engine struct {
	storage core.Storage
	locks   *joblock.Registry
	logger  *slog.Logger
}

// New creates an Engine. The lock registry is shared with the orchestrator
// so dispatch and completion serialize against each other per job.
func New(storage core.Storage, locks *joblock.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = joblock.NewRegistry()
	}
	return &Engine{storage: storage, locks: locks, logger: logger}
}

// Dispatch records one dispatch action for the planning.
//
// The requested quantity is capped at what the purchase order still needs
// plus the available finished-goods buffer, and at quality-checked stock
// plus that buffer. Any requested remainder is banked as a new available
// ledger entry rather than dispatched. Consumption beyond cumulative QC
// coverage is drawn from the ledger oldest-first; a shortfall there is
// logged and the dispatch proceeds. The record reaches accept once the
// cumulative total covers the purchase-order quantity.
func (e *Engine) Dispatch(ctx context.Context, planning *core.JobPlanning, req *dispatch.Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	defer e.locks.Lock(planning.NrcJobNo)()

	var res *Result
	err := e.storage.Transaction(ctx, func(tx core.Storage) error {
		var err error
		res, err = e.dispatchTx(ctx, tx, planning, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.DispatchedQtyTotal.Add(float64(res.Actual))
	if res.Consumed > 0 {
		metrics.FinishedGoodsConsumedTotal.Add(float64(res.Consumed))
	}
	if banked := res.Excess + req.LeftoverQty; banked > 0 {
		metrics.FinishedGoodsBankedTotal.Add(float64(banked))
	}
	if res.Shortfall > 0 {
		metrics.LedgerShortfallsTotal.Inc()
	}
	return res, nil
}

func (e *Engine) dispatchTx(ctx context.Context, tx core.Storage, planning *core.JobPlanning, req *dispatch.Request) (*Result, error) {
	rec, err := tx.DispatchRecordFor(ctx, planning.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &core.DispatchRecord{
			ID:         uuid.New().String(),
			PlanningID: planning.ID,
			NrcJobNo:   planning.NrcJobNo,
			Status:     core.DetailInProgress,
		}
	}

	total := rec.TotalDispatchedQty

	qcQty, err := e.qualityCheckedQty(ctx, tx, planning)
	if err != nil {
		return nil, err
	}
	poQty, err := e.purchaseOrderQty(ctx, tx, planning)
	if err != nil {
		return nil, err
	}

	entries, err := tx.AvailableFinishedGoods(ctx, planning.NrcJobNo)
	if err != nil {
		return nil, err
	}
	buffer := 0
	for i := range entries {
		if entries[i].RemainingQty < 0 {
			return nil, fmt.Errorf("%w: entry %s has remaining quantity %d",
				core.ErrLedgerInconsistency, entries[i].ID, entries[i].RemainingQty)
		}
		buffer += entries[i].RemainingQty
	}

	remainingPO := max(0, poQty-total)
	maxDispatchable := remainingPO + buffer
	maxFromQC := qcQty + buffer

	actual := min(req.Quantity, maxDispatchable, maxFromQC)
	excess := req.Quantity - actual
	newTotal := total + actual

	// Incremental ledger draw: the amount beyond cumulative QC coverage
	// introduced by this call alone.
	need := max(0, newTotal-qcQty) - max(0, total-qcQty)

	consumed, shortfall, err := e.consume(ctx, tx, entries, need)
	if err != nil {
		return nil, err
	}
	if shortfall > 0 {
		e.logger.Warn("finished goods ledger short, dispatch proceeds",
			"job", planning.NrcJobNo, "needed", need, "shortfall", shortfall,
			"error", core.ErrInsufficientFinishedGoods)
	}

	if excess > 0 {
		entry := &core.FinishedGoodsEntry{
			ID:              uuid.New().String(),
			NrcJobNo:        planning.NrcJobNo,
			PurchaseOrderID: planning.PurchaseOrderID,
			Status:          core.LedgerAvailable,
			RemainingQty:    excess,
			Remark: dispatch.SanitizeRemark(fmt.Sprintf(
				"excess from dispatch %s: requested %d, dispatched %d", req.DispatchNo, req.Quantity, actual)),
		}
		if err := tx.AddFinishedGoods(ctx, entry); err != nil {
			return nil, err
		}
	}

	if req.LeftoverQty > 0 {
		entry := &core.FinishedGoodsEntry{
			ID:              uuid.New().String(),
			NrcJobNo:        planning.NrcJobNo,
			PurchaseOrderID: planning.PurchaseOrderID,
			Status:          core.LedgerAvailable,
			RemainingQty:    req.LeftoverQty,
			Remark:          dispatch.SanitizeRemark(fmt.Sprintf("leftover reported with dispatch %s", req.DispatchNo)),
		}
		if err := tx.AddFinishedGoods(ctx, entry); err != nil {
			return nil, err
		}
	}

	if actual > 0 {
		if err := appendHistory(rec, core.DispatchEntry{
			Date:          req.Date,
			DispatchedQty: actual,
			DispatchNo:    req.DispatchNo,
			OperatorID:    req.OperatorID,
		}); err != nil {
			return nil, err
		}
	}
	rec.TotalDispatchedQty = newTotal
	if newTotal >= poQty {
		rec.Status = core.DetailAccept
	}
	if err := tx.SaveDispatchRecord(ctx, rec); err != nil {
		return nil, err
	}

	return &Result{
		Requested: req.Quantity,
		Actual:    actual,
		Excess:    excess,
		NewTotal:  newTotal,
		Consumed:  consumed,
		Shortfall: shortfall,
		Accepted:  rec.Status == core.DetailAccept,
		Record:    rec,
	}, nil
}

// consume draws need units from available entries oldest-first, reducing
// each entry in place or flipping it to consumed when exhausted. A
// shortfall is returned, not raised: blocking a physical dispatch over a
// bookkeeping gap is worse than a reconciling discrepancy.
func (e *Engine) consume(ctx context.Context, tx core.Storage, entries []core.FinishedGoodsEntry, need int) (consumed, shortfall int, err error) {
	remaining := need
	for i := range entries {
		if remaining <= 0 {
			break
		}
		entry := &entries[i]
		take := min(entry.RemainingQty, remaining)
		entry.RemainingQty -= take
		if entry.RemainingQty == 0 {
			entry.Status = core.LedgerConsumed
		}
		if err := tx.SaveFinishedGoods(ctx, entry); err != nil {
			return consumed, 0, err
		}
		consumed += take
		remaining -= take
	}
	return consumed, remaining, nil
}

// qualityCheckedQty sums the planning's QC pass quantities. A missing or
// unsigned QC record contributes nothing.
func (e *Engine) qualityCheckedQty(ctx context.Context, tx core.Storage, planning *core.JobPlanning) (int, error) {
	d, err := tx.DetailFor(ctx, planning.ID, core.StepQualityDept)
	if err != nil {
		return 0, err
	}
	if d == nil || d.PassQty == nil {
		return 0, nil
	}
	return *d.PassQty, nil
}

// purchaseOrderQty resolves the dispatch target: the linked purchase
// order's quantity, falling back to the planning's finished-goods
// reference quantity when no order is linked.
func (e *Engine) purchaseOrderQty(ctx context.Context, tx core.Storage, planning *core.JobPlanning) (int, error) {
	if planning.PurchaseOrderID == nil {
		return planning.FinishedGoodsQty, nil
	}
	po, err := tx.PurchaseOrderByID(ctx, *planning.PurchaseOrderID)
	if err != nil {
		return 0, err
	}
	return po.Quantity, nil
}

func appendHistory(rec *core.DispatchRecord, entry core.DispatchEntry) error {
	history, err := History(rec)
	if err != nil {
		return err
	}
	history = append(history, entry)
	raw, err := json.Marshal(history)
	if err != nil {
		return err
	}
	rec.History = raw
	return nil
}

// History decodes the record's append-only dispatch history.
func History(rec *core.DispatchRecord) ([]core.DispatchEntry, error) {
	if len(rec.History) == 0 {
		return nil, nil
	}
	var history []core.DispatchEntry
	if err := json.Unmarshal(rec.History, &history); err != nil {
		return nil, fmt.Errorf("prodflow: corrupt dispatch history for %s: %w", rec.NrcJobNo, err)
	}
	return history, nil
}
