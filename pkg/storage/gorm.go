// Package storage provides the GORM-backed persistence layer for the
// workflow engine.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corrugo/prodflow/pkg/core"
)

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Job{},
		&core.JobPlanning{},
		&core.Step{},
		&core.MachineClaim{},
		&core.StepDetail{},
		&core.DispatchRecord{},
		&core.FinishedGoodsEntry{},
		&core.PurchaseOrder{},
		&core.Machine{},
		&core.CompletedJob{},
		&core.ActivityLog{},
	)
}

// Transaction runs fn against a transactional storage view.
func (s *GormStorage) Transaction(ctx context.Context, fn func(tx core.Storage) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStorage{db: tx})
	})
}

// CreateJob inserts a job row.
func (s *GormStorage) CreateJob(ctx context.Context, job *core.Job) error {
	if job.Status == "" {
		job.Status = core.JobActive
	}
	if job.DemandClass == "" {
		job.DemandClass = core.DemandNormal
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// JobByNo retrieves a job by its number.
func (s *GormStorage) JobByNo(ctx context.Context, nrcJobNo string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "nrc_job_no = ?", nrcJobNo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ActiveJobs lists jobs that have not been archived or put on hold.
func (s *GormStorage) ActiveJobs(ctx context.Context) ([]core.Job, error) {
	var jobList []core.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", core.JobActive).
		Find(&jobList).Error
	return jobList, err
}

// SetJobStatus updates a job's lifecycle status.
func (s *GormStorage) SetJobStatus(ctx context.Context, nrcJobNo string, status core.JobStatus) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("nrc_job_no = ?", nrcJobNo).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// CreatePlanning inserts a planning with its steps and candidate claims.
func (s *GormStorage) CreatePlanning(ctx context.Context, planning *core.JobPlanning) error {
	if planning.ID == "" {
		planning.ID = uuid.New().String()
	}
	for i := range planning.Steps {
		step := &planning.Steps[i]
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		step.PlanningID = planning.ID
		if step.Status == "" {
			step.Status = core.StatusPlanned
		}
		for j := range step.Claims {
			claim := &step.Claims[j]
			if claim.ID == "" {
				claim.ID = uuid.New().String()
			}
			claim.StepID = step.ID
		}
	}
	return s.db.WithContext(ctx).Create(planning).Error
}

// ActivePlanning fetches the single active planning for a job, with steps
// ordered by step number and claims preloaded. The single-active invariant
// is enforced here instead of a first-match fallback.
func (s *GormStorage) ActivePlanning(ctx context.Context, nrcJobNo string) (*core.JobPlanning, error) {
	var plannings []core.JobPlanning
	err := s.db.WithContext(ctx).
		Where("nrc_job_no = ? AND active = ?", nrcJobNo, true).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("steps.step_no ASC")
		}).
		Preload("Steps.Claims").
		Find(&plannings).Error
	if err != nil {
		return nil, err
	}
	switch len(plannings) {
	case 0:
		return nil, core.ErrPlanningNotFound
	case 1:
		return &plannings[0], nil
	default:
		return nil, core.ErrDuplicatePlanning
	}
}

// StepByID retrieves a step with its claims.
func (s *GormStorage) StepByID(ctx context.Context, stepID string) (*core.Step, error) {
	var step core.Step
	err := s.db.WithContext(ctx).
		Preload("Claims").
		First(&step, "id = ?", stepID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrStepNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// UpdateStepStatus applies a transition's effects with a compare-and-set
// keyed on the status the caller observed.
func (s *GormStorage) UpdateStepStatus(ctx context.Context, stepID string, from core.StepStatus, update core.StepUpdate) error {
	result := s.db.WithContext(ctx).
		Model(&core.Step{}).
		Where("id = ? AND status = ?", stepID, from).
		Updates(stepUpdates(update))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&core.Step{}).Where("id = ?", stepID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return core.ErrStepNotFound
		}
		return core.ErrConcurrentModification
	}
	return nil
}

// StartStepWithClaim performs the start transition and the machine claim
// as one atomic operation, so two machines cannot both observe "unclaimed"
// and both claim.
func (s *GormStorage) StartStepWithClaim(ctx context.Context, stepID string, from core.StepStatus, update core.StepUpdate, machine core.Machine) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claimed int64
		err := tx.Model(&core.MachineClaim{}).
			Where("step_id = ? AND started_by_machine_id <> '' AND started_by_machine_id <> ?", stepID, machine.ID).
			Count(&claimed).Error
		if err != nil {
			return err
		}
		if claimed > 0 {
			return core.ErrMachineAlreadyClaimed
		}

		result := tx.Model(&core.Step{}).
			Where("id = ? AND status = ?", stepID, from).
			Updates(stepUpdates(update))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrConcurrentModification
		}

		now := time.Now()
		var claim core.MachineClaim
		err = tx.Where("step_id = ? AND machine_id = ?", stepID, machine.ID).First(&claim).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			claim = core.MachineClaim{
				ID:          uuid.New().String(),
				StepID:      stepID,
				MachineID:   machine.ID,
				MachineType: machine.Type,
				Unit:        machine.Unit,
				MachineCode: machine.Code,
			}
		} else if err != nil {
			return err
		}

		claim.StartedByMachineID = machine.ID
		claim.Status = core.ClaimInProgress
		claim.StartedAt = &now
		return tx.Save(&claim).Error
	})
}

// ReleaseClaim clears any started-by claim on the step.
func (s *GormStorage) ReleaseClaim(ctx context.Context, stepID string) error {
	return s.db.WithContext(ctx).
		Model(&core.MachineClaim{}).
		Where("step_id = ? AND started_by_machine_id <> ''", stepID).
		Updates(map[string]any{
			"started_by_machine_id": "",
			"status":                "",
			"started_at":            nil,
		}).Error
}

// ReleaseOrphanedClaims clears claims left on steps that reverted to
// planned, returning how many were cleared.
func (s *GormStorage) ReleaseOrphanedClaims(ctx context.Context) (int64, error) {
	sub := s.db.Model(&core.Step{}).
		Select("id").
		Where("status = ?", core.StatusPlanned)
	result := s.db.WithContext(ctx).
		Model(&core.MachineClaim{}).
		Where("started_by_machine_id <> '' AND step_id IN (?)", sub).
		Updates(map[string]any{
			"started_by_machine_id": "",
			"status":                "",
			"started_at":            nil,
		})
	return result.RowsAffected, result.Error
}

// SaveClaim persists claim bookkeeping fields.
func (s *GormStorage) SaveClaim(ctx context.Context, claim *core.MachineClaim) error {
	return s.db.WithContext(ctx).Save(claim).Error
}

// DetailFor retrieves the detail record for one step type, or (nil, nil)
// when it has not been created yet.
func (s *GormStorage) DetailFor(ctx context.Context, planningID string, name core.StepName) (*core.StepDetail, error) {
	var detail core.StepDetail
	err := s.db.WithContext(ctx).
		First(&detail, "planning_id = ? AND step_name = ?", planningID, name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// DetailsFor lists every detail record of a planning.
func (s *GormStorage) DetailsFor(ctx context.Context, planningID string) ([]core.StepDetail, error) {
	var details []core.StepDetail
	err := s.db.WithContext(ctx).
		Where("planning_id = ?", planningID).
		Find(&details).Error
	return details, err
}

// UpsertDetail creates or updates a detail record.
func (s *GormStorage) UpsertDetail(ctx context.Context, detail *core.StepDetail) error {
	if detail.ID == "" {
		detail.ID = uuid.New().String()
	}
	if detail.Status == "" {
		detail.Status = core.DetailInProgress
	}
	return s.db.WithContext(ctx).Save(detail).Error
}

// DispatchRecordFor retrieves the planning's dispatch record, or
// (nil, nil) when no dispatch has been recorded yet.
func (s *GormStorage) DispatchRecordFor(ctx context.Context, planningID string) (*core.DispatchRecord, error) {
	var rec core.DispatchRecord
	err := s.db.WithContext(ctx).
		First(&rec, "planning_id = ?", planningID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveDispatchRecord creates or updates the dispatch record.
func (s *GormStorage) SaveDispatchRecord(ctx context.Context, rec *core.DispatchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Save(rec).Error
}

// AvailableFinishedGoods lists available ledger entries oldest-first.
func (s *GormStorage) AvailableFinishedGoods(ctx context.Context, nrcJobNo string) ([]core.FinishedGoodsEntry, error) {
	var entries []core.FinishedGoodsEntry
	err := s.db.WithContext(ctx).
		Where("nrc_job_no = ? AND status = ?", nrcJobNo, core.LedgerAvailable).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// AddFinishedGoods appends a new ledger entry.
func (s *GormStorage) AddFinishedGoods(ctx context.Context, entry *core.FinishedGoodsEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = core.LedgerAvailable
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// SaveFinishedGoods persists changes to an existing ledger entry.
func (s *GormStorage) SaveFinishedGoods(ctx context.Context, entry *core.FinishedGoodsEntry) error {
	return s.db.WithContext(ctx).Save(entry).Error
}

// PurchaseOrderByID retrieves a purchase order.
func (s *GormStorage) PurchaseOrderByID(ctx context.Context, id string) (*core.PurchaseOrder, error) {
	var po core.PurchaseOrder
	err := s.db.WithContext(ctx).First(&po, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrPurchaseOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

// Machines lists the machine registry.
func (s *GormStorage) Machines(ctx context.Context) ([]core.Machine, error) {
	var machines []core.Machine
	err := s.db.WithContext(ctx).Find(&machines).Error
	return machines, err
}

// MachineByID retrieves one machine from the registry.
func (s *GormStorage) MachineByID(ctx context.Context, id string) (*core.Machine, error) {
	var machine core.Machine
	err := s.db.WithContext(ctx).First(&machine, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrMachineNotFound
	}
	if err != nil {
		return nil, err
	}
	return &machine, nil
}

// LogActivity inserts an audit row.
func (s *GormStorage) LogActivity(ctx context.Context, entry *core.ActivityLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// ArchiveJob snapshots a completed planning and removes its live rows as
// one atomic unit: either the whole archival happens or none of it does.
// The conditional planning deactivation makes the archival fire at most
// once; a second attempt fails with ErrJobNotFound.
func (s *GormStorage) ArchiveJob(ctx context.Context, snapshot *core.CompletedJob, planningID, nrcJobNo string) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.JobPlanning{}).
			Where("id = ? AND active = ?", planningID, true).
			Update("active", false)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrJobNotFound
		}

		if err := tx.Create(snapshot).Error; err != nil {
			return err
		}

		stepIDs := tx.Model(&core.Step{}).Select("id").Where("planning_id = ?", planningID)
		if err := tx.Where("step_id IN (?)", stepIDs).Delete(&core.MachineClaim{}).Error; err != nil {
			return err
		}
		if err := tx.Where("planning_id = ?", planningID).Delete(&core.Step{}).Error; err != nil {
			return err
		}
		if err := tx.Where("planning_id = ?", planningID).Delete(&core.StepDetail{}).Error; err != nil {
			return err
		}
		if err := tx.Where("planning_id = ?", planningID).Delete(&core.DispatchRecord{}).Error; err != nil {
			return err
		}

		return tx.Model(&core.Job{}).
			Where("nrc_job_no = ?", nrcJobNo).
			Update("status", core.JobInactive).Error
	})
}

// CompletedJobByNo retrieves the archival snapshot for a job, or
// (nil, nil) when the job has not completed.
func (s *GormStorage) CompletedJobByNo(ctx context.Context, nrcJobNo string) (*core.CompletedJob, error) {
	var completed core.CompletedJob
	err := s.db.WithContext(ctx).First(&completed, "nrc_job_no = ?", nrcJobNo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &completed, nil
}

// stepUpdates converts a StepUpdate into a column map for Updates.
func stepUpdates(update core.StepUpdate) map[string]any {
	updates := map[string]any{"status": update.Status}
	if update.StartDate != nil {
		updates["start_date"] = update.StartDate
	}
	if update.EndDate != nil {
		updates["end_date"] = update.EndDate
	}
	if update.StartedBy != "" {
		updates["started_by"] = update.StartedBy
	}
	if update.CompletedBy != "" {
		updates["completed_by"] = update.CompletedBy
	}
	if update.ClearStart {
		updates["start_date"] = nil
		updates["started_by"] = ""
	}
	return updates
}
