package core

import (
	"time"

	"gorm.io/datatypes"
)

// Job is the planning subsystem's view of a job. The engine references it
// and flips its status to inactive on archival, but never mutates anything
// else.
type Job struct {
	NrcJobNo    string      `gorm:"primaryKey;size:64"`
	CustomerID  string      `gorm:"size:64"`
	DemandClass DemandClass `gorm:"size:10;default:'normal'"`
	Status      JobStatus   `gorm:"index;size:10;default:'active'"`
	CreatedAt   time.Time   `gorm:"autoCreateTime"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime"`
}

// JobPlanning is one planning version for a job. Exactly one planning per
// job may be active; the engine refuses to operate when that invariant is
// broken rather than falling back to a first-match guess.
type JobPlanning struct {
	ID               string  `gorm:"primaryKey;size:36"`
	NrcJobNo         string  `gorm:"index;size:64;not null"`
	Active           bool    `gorm:"index;default:true"`
	PurchaseOrderID  *string `gorm:"index;size:36"`
	FinishedGoodsQty int     `gorm:"default:0"`

	Steps []Step `gorm:"foreignKey:PlanningID"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Step is one stage of a planning. StepNo values are unique and increasing
// within a planning; terminal timestamps are only ever set by the matching
// transition.
type Step struct {
	ID         string     `gorm:"primaryKey;size:36"`
	PlanningID string     `gorm:"size:36;not null;uniqueIndex:idx_planning_step"`
	StepNo     int        `gorm:"not null;uniqueIndex:idx_planning_step"`
	Name       StepName   `gorm:"size:40;not null"`
	Status     StepStatus `gorm:"index;size:12;default:'planned'"`
	StartDate  *time.Time
	EndDate    *time.Time
	StartedBy   string `gorm:"size:64"`
	CompletedBy string `gorm:"size:64"`

	Claims []MachineClaim `gorm:"foreignKey:StepID"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Claimed returns the claim that has started this step, or nil if the step
// is still open to every eligible machine.
func (s *Step) Claimed() *MachineClaim {
	for i := range s.Claims {
		if s.Claims[i].StartedByMachineID != "" {
			return &s.Claims[i]
		}
	}
	return nil
}

// MachineClaim associates a candidate machine with a step. A claim whose
// StartedByMachineID is set marks exclusive ownership; at most one claim
// per step may hold it, and it must equal the claim's own MachineID.
type MachineClaim struct {
	ID          string      `gorm:"primaryKey;size:36"`
	StepID      string      `gorm:"index;size:36;not null"`
	MachineID   string      `gorm:"size:64;not null"`
	MachineType MachineType `gorm:"size:40"`
	Unit        string      `gorm:"size:40"`
	MachineCode string      `gorm:"size:40"`

	StartedByMachineID string     `gorm:"size:64"`
	Status             string     `gorm:"size:16"`
	StartedAt          *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// StepDetail is the per-step, per-type domain record. It is created lazily
// on the first status-affecting write and upserted thereafter. Downstream
// dependency checks require DetailAccept for most step types.
type StepDetail struct {
	ID         string       `gorm:"primaryKey;size:36"`
	PlanningID string       `gorm:"size:36;not null;uniqueIndex:idx_planning_detail"`
	NrcJobNo   string       `gorm:"index;size:64;not null"`
	StepName   StepName     `gorm:"size:40;not null;uniqueIndex:idx_planning_detail"`
	Status     DetailStatus `gorm:"size:12;default:'in_progress'"`
	Quantity   int          `gorm:"default:0"`
	Remarks    string       `gorm:"type:text"`

	// Quality-check fields, populated only for QualityDept records. A QC
	// record is sign-off-complete when both quantities and both sign-off
	// fields are present; accept status alone does not satisfy dispatch.
	PassQty     *int
	RejectedQty *int
	CheckedBy   string     `gorm:"size:64"`
	CheckedAt   *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// QCSignedOff reports whether a QualityDept detail carries a complete
// sign-off: both quantity fields plus signer identity and timestamp.
func (d *StepDetail) QCSignedOff() bool {
	return d.PassQty != nil && d.RejectedQty != nil &&
		d.CheckedBy != "" && d.CheckedAt != nil
}

// DispatchEntry is one appended dispatch action.
type DispatchEntry struct {
	Date          time.Time `json:"date"`
	DispatchedQty int       `json:"dispatchedQty"`
	DispatchNo    string    `json:"dispatchNo"`
	OperatorID    string    `json:"operatorId"`
}

// DispatchRecord is the dispatch step's detail record. TotalDispatchedQty
// is monotonically non-decreasing and always equals the sum of the history
// entries' quantities.
type DispatchRecord struct {
	ID                 string         `gorm:"primaryKey;size:36"`
	PlanningID         string         `gorm:"size:36;not null;uniqueIndex"`
	NrcJobNo           string         `gorm:"index;size:64;not null"`
	Status             DetailStatus   `gorm:"size:12;default:'in_progress'"`
	TotalDispatchedQty int            `gorm:"default:0"`
	History            datatypes.JSON `gorm:"type:json"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// FinishedGoodsEntry is a quantity of over-produced or over-dispatched
// stock banked against a job. Available entries are consumed oldest-first:
// partially reduced in place or flipped to consumed when exhausted.
type FinishedGoodsEntry struct {
	ID              string       `gorm:"primaryKey;size:36"`
	NrcJobNo        string       `gorm:"index;size:64;not null"`
	PurchaseOrderID *string      `gorm:"size:36"`
	Status          LedgerStatus `gorm:"index;size:12;default:'available'"`
	RemainingQty    int          `gorm:"default:0"`
	Remark          string       `gorm:"type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// PurchaseOrder supplies the target quantity for dispatch reconciliation.
// Read-only from the engine's point of view.
type PurchaseOrder struct {
	ID        string    `gorm:"primaryKey;size:36"`
	NrcJobNo  string    `gorm:"index;size:64"`
	Quantity  int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Machine is a row of the read-only machine registry.
type Machine struct {
	ID          string      `gorm:"primaryKey;size:64"`
	Type        MachineType `gorm:"index;size:40;not null"`
	Unit        string      `gorm:"size:40"`
	Code        string      `gorm:"size:40"`
	Description string      `gorm:"size:255"`
}

// CompletedJob is the immutable archival snapshot written when every step
// of a planning reaches stop and dispatch is accepted.
type CompletedJob struct {
	ID          string         `gorm:"primaryKey;size:36"`
	NrcJobNo    string         `gorm:"uniqueIndex;size:64;not null"`
	Snapshot    datatypes.JSON `gorm:"type:json"`
	CompletedAt time.Time      `gorm:"not null"`
}

// JobSnapshot is the JSON payload stored in CompletedJob.Snapshot.
type JobSnapshot struct {
	Planning JobPlanning     `json:"planning"`
	Details  []StepDetail    `json:"details"`
	Dispatch *DispatchRecord `json:"dispatch,omitempty"`
}

// ActivityLog is a best-effort audit row written after successful
// transitions. Failures to write it never roll back the transition.
type ActivityLog struct {
	ID        string    `gorm:"primaryKey;size:36"`
	NrcJobNo  string    `gorm:"index;size:64"`
	StepName  StepName  `gorm:"size:40"`
	Action    string    `gorm:"size:64"`
	ActorID   string    `gorm:"size:64"`
	Detail    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
