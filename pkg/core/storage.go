package core

import (
	"context"
	"time"
)

// StepUpdate carries the field changes applied together with a status
// transition. Nil pointer fields are left untouched.
type StepUpdate struct {
	Status      StepStatus
	StartDate   *time.Time
	EndDate     *time.Time
	StartedBy   string
	CompletedBy string

	// ClearStart wipes the start timestamp and operator, used when a step
	// reverts to planned. major_hold never sets it.
	ClearStart bool
}

// Storage defines the persistence contract for the workflow engine.
//
// Status-changing step writes are compare-and-set: they carry the status
// the caller observed, and fail with ErrConcurrentModification when the
// row no longer matches. Claim writes are atomic with the start transition.
type Storage interface {
	// Migrate creates the necessary tables.
	Migrate(ctx context.Context) error

	// Transaction runs fn against a transactional view of the storage.
	// Returning an error rolls everything back.
	Transaction(ctx context.Context, fn func(tx Storage) error) error

	// Jobs.
	CreateJob(ctx context.Context, job *Job) error
	JobByNo(ctx context.Context, nrcJobNo string) (*Job, error)
	ActiveJobs(ctx context.Context) ([]Job, error)
	SetJobStatus(ctx context.Context, nrcJobNo string, status JobStatus) error

	// Plannings. ActivePlanning preloads steps and claims and returns
	// ErrPlanningNotFound or ErrDuplicatePlanning when the single-active
	// invariant does not hold.
	CreatePlanning(ctx context.Context, planning *JobPlanning) error
	ActivePlanning(ctx context.Context, nrcJobNo string) (*JobPlanning, error)

	// Steps.
	StepByID(ctx context.Context, stepID string) (*Step, error)
	UpdateStepStatus(ctx context.Context, stepID string, from StepStatus, update StepUpdate) error
	StartStepWithClaim(ctx context.Context, stepID string, from StepStatus, update StepUpdate, machine Machine) error
	ReleaseClaim(ctx context.Context, stepID string) error
	ReleaseOrphanedClaims(ctx context.Context) (int64, error)
	SaveClaim(ctx context.Context, claim *MachineClaim) error

	// Step detail records. Missing records read back as (nil, nil).
	DetailFor(ctx context.Context, planningID string, name StepName) (*StepDetail, error)
	DetailsFor(ctx context.Context, planningID string) ([]StepDetail, error)
	UpsertDetail(ctx context.Context, detail *StepDetail) error

	// Dispatch record. Missing records read back as (nil, nil).
	DispatchRecordFor(ctx context.Context, planningID string) (*DispatchRecord, error)
	SaveDispatchRecord(ctx context.Context, rec *DispatchRecord) error

	// Finished-goods ledger. AvailableFinishedGoods returns entries
	// oldest-first for consumption order.
	AvailableFinishedGoods(ctx context.Context, nrcJobNo string) ([]FinishedGoodsEntry, error)
	AddFinishedGoods(ctx context.Context, entry *FinishedGoodsEntry) error
	SaveFinishedGoods(ctx context.Context, entry *FinishedGoodsEntry) error

	// Read-only collaborators.
	PurchaseOrderByID(ctx context.Context, id string) (*PurchaseOrder, error)
	Machines(ctx context.Context) ([]Machine, error)
	MachineByID(ctx context.Context, id string) (*Machine, error)

	// Activity log sink. Best-effort; callers must not propagate failures.
	LogActivity(ctx context.Context, entry *ActivityLog) error

	// Archival. ArchiveJob atomically writes the snapshot, deletes the
	// live step and detail rows, and marks the job inactive.
	ArchiveJob(ctx context.Context, snapshot *CompletedJob, planningID, nrcJobNo string) error
	CompletedJobByNo(ctx context.Context, nrcJobNo string) (*CompletedJob, error)
}
