package core

// StepStatus represents the state-machine state of a step.
type StepStatus string

const (
	StatusPlanned   StepStatus = "planned"
	StatusStart     StepStatus = "start"
	StatusStop      StepStatus = "stop"
	StatusMajorHold StepStatus = "major_hold"
)

// Terminal reports whether the status ends the normal flow. major_hold is a
// side-state, not a terminal one.
func (s StepStatus) Terminal() bool {
	return s == StatusStop
}

// DetailStatus is the status of a per-step detail record.
type DetailStatus string

const (
	DetailInProgress DetailStatus = "in_progress"
	DetailAccept     DetailStatus = "accept"
)

// Claim statuses kept on historical claim rows. The allocator's tie-break
// prefers in_progress over stop over anything else.
const (
	ClaimInProgress = "in_progress"
	ClaimStopped    = "stop"
)

// LedgerStatus is the status of a finished-goods ledger entry.
type LedgerStatus string

const (
	LedgerAvailable LedgerStatus = "available"
	LedgerConsumed  LedgerStatus = "consumed"
)

// DemandClass distinguishes urgent jobs from normal ones. High-demand jobs
// bypass role gating on machine-backed steps; dependency rules and claim
// exclusivity apply to both classes.
type DemandClass string

const (
	DemandNormal DemandClass = "normal"
	DemandHigh   DemandClass = "high"
)

// JobStatus is the lifecycle status of a job. Jobs become inactive when the
// engine archives them on completion.
type JobStatus string

const (
	JobActive   JobStatus = "active"
	JobHold     JobStatus = "hold"
	JobInactive JobStatus = "inactive"
)
