package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/corrugo/prodflow/pkg/core"
	"github.com/corrugo/prodflow/pkg/dispatch"
	"github.com/corrugo/prodflow/pkg/storage"
)

type fixture struct {
	store    *storage.GormStorage
	engine   *Engine
	planning *core.JobPlanning
}

// newFixture seeds a job with a purchase order of poQty and a signed-off
// QC record passing qcQty. The database is a named shared in-memory
// instance so concurrent connections see the same tables.
func newFixture(t *testing.T, poQty, qcQty int) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.NewGormStorage(db)
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	require.NoError(t, store.CreateJob(ctx, &core.Job{NrcJobNo: "NRC-1"}))

	poID := "po-1"
	require.NoError(t, db.Create(&core.PurchaseOrder{ID: poID, NrcJobNo: "NRC-1", Quantity: poQty}).Error)

	planning := &core.JobPlanning{
		NrcJobNo:        "NRC-1",
		PurchaseOrderID: &poID,
		Active:          true,
		Steps: []core.Step{
			{StepNo: 1, Name: core.StepQualityDept, Status: core.StatusStop},
			{StepNo: 2, Name: core.StepDispatchProcess, Status: core.StatusStart},
		},
	}
	require.NoError(t, store.CreatePlanning(ctx, planning))

	reject := 0
	signed := time.Now()
	require.NoError(t, store.UpsertDetail(ctx, &core.StepDetail{
		PlanningID:  planning.ID,
		NrcJobNo:    "NRC-1",
		StepName:    core.StepQualityDept,
		Status:      core.DetailAccept,
		PassQty:     &qcQty,
		RejectedQty: &reject,
		CheckedBy:   "qc-1",
		CheckedAt:   &signed,
	}))

	return &fixture{
		store:    store,
		engine:   New(store, nil, nil),
		planning: planning,
	}
}

func (f *fixture) addAvailable(t *testing.T, qty int, createdAt time.Time) *core.FinishedGoodsEntry {
	t.Helper()
	entry := &core.FinishedGoodsEntry{
		NrcJobNo:     "NRC-1",
		Status:       core.LedgerAvailable,
		RemainingQty: qty,
		CreatedAt:    createdAt,
	}
	require.NoError(t, f.store.AddFinishedGoods(context.Background(), entry))
	return entry
}

func (f *fixture) request(qty int) *dispatch.Request {
	return &dispatch.Request{
		NrcJobNo:   "NRC-1",
		Quantity:   qty,
		DispatchNo: "DSP-1",
		OperatorID: "disp-1",
		Date:       time.Now(),
	}
}

func TestFullDispatchDrawsFromFinishedGoods(t *testing.T) {
	// PO 1000, QC 600, buffer 400: the full 1000 dispatches, 400 of it
	// covered by the ledger.
	f := newFixture(t, 1000, 600)
	f.addAvailable(t, 400, time.Now())

	res, err := f.engine.Dispatch(context.Background(), f.planning, f.request(1000))
	require.NoError(t, err)

	assert.Equal(t, 1000, res.Actual)
	assert.Equal(t, 0, res.Excess)
	assert.Equal(t, 400, res.Consumed)
	assert.Equal(t, 0, res.Shortfall)
	assert.True(t, res.Accepted)

	entries, err := f.store.AvailableFinishedGoods(context.Background(), "NRC-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "buffer fully consumed")
}

func TestExcessIsCappedAndBanked(t *testing.T) {
	// Requesting 1500 against PO 1000 + buffer 400: capped at the QC+buffer
	// ceiling of 1000; the remaining 500 is banked, not dispatched.
	f := newFixture(t, 1000, 600)
	f.addAvailable(t, 400, time.Now())

	res, err := f.engine.Dispatch(context.Background(), f.planning, f.request(1500))
	require.NoError(t, err)

	assert.Equal(t, 1000, res.Actual)
	assert.Equal(t, 500, res.Excess)
	assert.True(t, res.Accepted)

	entries, err := f.store.AvailableFinishedGoods(context.Background(), "NRC-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 500, entries[0].RemainingQty)
}

func TestPartialDispatchStaysInProgress(t *testing.T) {
	f := newFixture(t, 1000, 1000)

	res, err := f.engine.Dispatch(context.Background(), f.planning, f.request(300))
	require.NoError(t, err)

	assert.Equal(t, 300, res.Actual)
	assert.False(t, res.Accepted)
	assert.Equal(t, core.DetailInProgress, res.Record.Status)

	// A later call pushes it over the PO target.
	res, err = f.engine.Dispatch(context.Background(), f.planning, f.request(700))
	require.NoError(t, err)
	assert.Equal(t, 1000, res.NewTotal)
	assert.True(t, res.Accepted)

	history, err := History(res.Record)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 300, history[0].DispatchedQty)
	assert.Equal(t, 700, history[1].DispatchedQty)
}

func TestTotalEqualsHistorySum(t *testing.T) {
	f := newFixture(t, 2000, 2000)

	for _, qty := range []int{250, 400, 100} {
		_, err := f.engine.Dispatch(context.Background(), f.planning, f.request(qty))
		require.NoError(t, err)
	}

	rec, err := f.store.DispatchRecordFor(context.Background(), f.planning.ID)
	require.NoError(t, err)
	history, err := History(rec)
	require.NoError(t, err)

	sum := 0
	for _, h := range history {
		sum += h.DispatchedQty
	}
	assert.Equal(t, rec.TotalDispatchedQty, sum)
	assert.Equal(t, 750, sum)
}

func TestLedgerConsumedOldestFirst(t *testing.T) {
	// QC 600 of PO 1000: dispatching 1000 needs 400 from the ledger.
	f := newFixture(t, 1000, 600)
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	oldest := f.addAvailable(t, 150, base)
	newest := f.addAvailable(t, 500, base.Add(time.Hour))

	res, err := f.engine.Dispatch(context.Background(), f.planning, f.request(1000))
	require.NoError(t, err)
	assert.Equal(t, 400, res.Consumed)

	// The oldest entry is exhausted and flipped to consumed; the newer one
	// is reduced in place.
	entries, err := f.store.AvailableFinishedGoods(context.Background(), "NRC-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, newest.ID, entries[0].ID)
	assert.Equal(t, 250, entries[0].RemainingQty)
	assert.NotEqual(t, oldest.ID, entries[0].ID)
}

func TestLedgerShortfallIsSoft(t *testing.T) {
	// Everything QC-checked is already dispatched; the next call must draw
	// entirely from an empty ledger. Dispatch still proceeds.
	f := newFixture(t, 1000, 600)

	res, err := f.engine.Dispatch(context.Background(), f.planning, f.request(600))
	require.NoError(t, err)
	assert.Equal(t, 600, res.Actual)
	assert.Zero(t, res.Shortfall)

	res, err = f.engine.Dispatch(context.Background(), f.planning, f.request(400))
	require.NoError(t, err)
	assert.Equal(t, 400, res.Actual, "dispatch must not be blocked by the shortfall")
	assert.Equal(t, 1000, res.NewTotal)
	assert.True(t, res.Accepted)
	assert.Equal(t, 400, res.Shortfall)
}

func TestLeftoverBankedIndependently(t *testing.T) {
	f := newFixture(t, 1000, 1000)

	req := f.request(200)
	req.LeftoverQty = 75
	_, err := f.engine.Dispatch(context.Background(), f.planning, req)
	require.NoError(t, err)

	entries, err := f.store.AvailableFinishedGoods(context.Background(), "NRC-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 75, entries[0].RemainingQty)
}

func TestNegativeLedgerEntryIsFatal(t *testing.T) {
	f := newFixture(t, 1000, 600)
	entry := f.addAvailable(t, 100, time.Now())
	entry.RemainingQty = -5
	require.NoError(t, f.store.SaveFinishedGoods(context.Background(), entry))

	_, err := f.engine.Dispatch(context.Background(), f.planning, f.request(100))
	assert.ErrorIs(t, err, core.ErrLedgerInconsistency)
}

func TestInvalidRequestRejected(t *testing.T) {
	f := newFixture(t, 1000, 1000)

	_, err := f.engine.Dispatch(context.Background(), f.planning, f.request(0))
	assert.ErrorIs(t, err, dispatch.ErrNonPositiveQuantity)

	req := f.request(100)
	req.DispatchNo = ""
	_, err = f.engine.Dispatch(context.Background(), f.planning, req)
	assert.ErrorIs(t, err, dispatch.ErrMissingDispatchNo)
}

func TestConcurrentDispatchesDoNotDoubleSpend(t *testing.T) {
	// Two simultaneous 600-unit dispatches against a PO of 1000. Serialized
	// correctly, the second call sees the first one's total: it dispatches
	// only the remaining 400 and banks its excess 200. Interleaved reads
	// would dispatch 1200.
	f := newFixture(t, 1000, 600)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Dispatch(context.Background(), f.planning, f.request(600))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := f.store.DispatchRecordFor(context.Background(), f.planning.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, rec.TotalDispatchedQty)
	assert.Equal(t, core.DetailAccept, rec.Status)

	entries, err := f.store.AvailableFinishedGoods(context.Background(), "NRC-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 200, entries[0].RemainingQty)
}
