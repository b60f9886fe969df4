// Package prodflow provides the production workflow engine for corrugated
// packaging manufacturing: per-step state machines, inter-step dependency
// resolution, machine claim allocation and dispatch quantity
// reconciliation against the finished-goods ledger.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("prodflow.db"), &gorm.Config{})
//	store := prodflow.NewGormStorage(db)
//	store.Migrate(context.Background())
//	engine := prodflow.New(store)
//
//	// Start the printing step on a machine
//	engine.ApplyTransition(ctx, &prodflow.TransitionRequest{
//	    NrcJobNo:  "NRC-1042",
//	    StepNo:    2,
//	    Target:    prodflow.StatusStart,
//	    ActorID:   "op-17",
//	    Role:      "printer",
//	    MachineID: "PR-01",
//	})
package prodflow

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/corrugo/prodflow/pkg/allocator"
	"github.com/corrugo/prodflow/pkg/config"
	"github.com/corrugo/prodflow/pkg/core"
	"github.com/corrugo/prodflow/pkg/dispatch"
	"github.com/corrugo/prodflow/pkg/orchestrator"
	"github.com/corrugo/prodflow/pkg/reconcile"
	"github.com/corrugo/prodflow/pkg/storage"
	"github.com/corrugo/prodflow/pkg/sweep"
)

// Type aliases re-exported from pkg packages.
type (
	// Job is the planning subsystem's view of a job.
	Job = core.Job

	// JobPlanning is one planning version with its ordered steps.
	JobPlanning = core.JobPlanning

	// Step is one stage of a planning.
	Step = core.Step

	// MachineClaim associates a candidate or owning machine with a step.
	MachineClaim = core.MachineClaim

	// StepDetail is a step's per-type domain record.
	StepDetail = core.StepDetail

	// DispatchRecord tracks cumulative dispatched quantity and history.
	DispatchRecord = core.DispatchRecord

	// DispatchEntry is one appended dispatch action.
	DispatchEntry = core.DispatchEntry

	// FinishedGoodsEntry is banked over-produced or over-dispatched stock.
	FinishedGoodsEntry = core.FinishedGoodsEntry

	// PurchaseOrder supplies the dispatch target quantity.
	PurchaseOrder = core.PurchaseOrder

	// Machine is a machine registry row.
	Machine = core.Machine

	// CompletedJob is the immutable archival snapshot.
	CompletedJob = core.CompletedJob

	// ActivityLog is a best-effort audit row.
	ActivityLog = core.ActivityLog

	// StepName identifies a pipeline stage.
	StepName = core.StepName

	// StepStatus is a state-machine state.
	StepStatus = core.StepStatus

	// DetailStatus is a detail record's status.
	DetailStatus = core.DetailStatus

	// DemandClass distinguishes urgent jobs from normal ones.
	DemandClass = core.DemandClass

	// MachineType classifies registry machines.
	MachineType = core.MachineType

	// Storage defines the persistence contract.
	Storage = core.Storage

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage

	// Engine is the workflow orchestrator.
	Engine = orchestrator.Engine

	// Option configures an Engine.
	Option = orchestrator.Option

	// TransitionRequest is one external transition call.
	TransitionRequest = orchestrator.TransitionRequest

	// TransitionResult reports what a transition did.
	TransitionResult = orchestrator.TransitionResult

	// DetailUpdate is a per-field detail record write.
	DetailUpdate = orchestrator.DetailUpdate

	// DispatchRequest is a validated dispatch action.
	DispatchRequest = dispatch.Request

	// DispatchResult reports a dispatch reconciliation outcome.
	DispatchResult = reconcile.Result

	// Sweeper runs the background maintenance pass.
	Sweeper = sweep.Sweeper

	// Config holds runtime configuration.
	Config = config.Config
)

// Step name constants.
const (
	StepPaperStore                   = core.StepPaperStore
	StepPrintingDetails              = core.StepPrintingDetails
	StepCorrugation                  = core.StepCorrugation
	StepFluteLaminateBoardConversion = core.StepFluteLaminateBoardConversion
	StepPunching                     = core.StepPunching
	StepSideFlapPasting              = core.StepSideFlapPasting
	StepQualityDept                  = core.StepQualityDept
	StepDispatchProcess              = core.StepDispatchProcess
)

// Step status constants.
const (
	StatusPlanned   = core.StatusPlanned
	StatusStart     = core.StatusStart
	StatusStop      = core.StatusStop
	StatusMajorHold = core.StatusMajorHold
)

// Detail status constants.
const (
	DetailInProgress = core.DetailInProgress
	DetailAccept     = core.DetailAccept
)

// Demand class constants.
const (
	DemandNormal = core.DemandNormal
	DemandHigh   = core.DemandHigh
)

// New creates a workflow engine over the given storage backend.
func New(s Storage, opts ...Option) *Engine {
	return orchestrator.New(s, opts...)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewSweeper creates the background sweeper for an engine.
func NewSweeper(s Storage, engine *Engine, logger *slog.Logger) *Sweeper {
	return sweep.New(s, engine, logger)
}

// LoadConfig reads prodflow.yaml with environment overrides.
func LoadConfig() (*Config, error) {
	return config.Load()
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return orchestrator.WithLogger(logger)
}

// WithAuth installs the external role predicates.
func WithAuth(privileged func(role string) bool, allows func(role string, step StepName) bool) Option {
	return orchestrator.WithAuth(privileged, allows)
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return orchestrator.WithClock(now)
}

// EligibleMachines returns the machines whose type may work the step.
func EligibleMachines(step *Step, machines []Machine) []Machine {
	return allocator.Eligible(step, machines)
}

// VisibleMachines narrows the eligible set once a claim exists.
func VisibleMachines(step *Step, machines []Machine) []Machine {
	return allocator.Visible(step, machines)
}

// DispatchHistory decodes a dispatch record's append-only history.
func DispatchHistory(rec *DispatchRecord) ([]DispatchEntry, error) {
	return reconcile.History(rec)
}
