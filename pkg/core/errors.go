package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the engine packages.
var (
	ErrJobNotFound            = errors.New("prodflow: job not found")
	ErrPlanningNotFound       = errors.New("prodflow: no active planning for job")
	ErrDuplicatePlanning      = errors.New("prodflow: multiple active plannings for job")
	ErrStepNotFound           = errors.New("prodflow: step not found")
	ErrUnknownStepName        = errors.New("prodflow: unknown step name")
	ErrMachineNotFound        = errors.New("prodflow: machine not found in registry")
	ErrPurchaseOrderNotFound  = errors.New("prodflow: purchase order not found")
	ErrMachineNotEligible     = errors.New("prodflow: machine type not eligible for step")
	ErrMachineAlreadyClaimed  = errors.New("prodflow: step already claimed by another machine")
	ErrClaimOwnerMismatch     = errors.New("prodflow: claim owner differs from claiming machine")
	ErrAccessDenied           = errors.New("prodflow: role not permitted for this step")
	ErrConcurrentModification = errors.New("prodflow: step was modified concurrently")
	ErrLedgerInconsistency    = errors.New("prodflow: finished goods ledger inconsistent")
	ErrJobOnHold              = errors.New("prodflow: job is on hold")
)

// ErrInsufficientFinishedGoods marks a ledger shortfall during dispatch
// consumption. It is a soft condition: reconciliation logs it and lets the
// dispatch proceed, it is never returned to the caller of ApplyTransition.
var ErrInsufficientFinishedGoods = errors.New("prodflow: finished goods ledger short")

// InvalidTransitionError reports a disallowed state-machine edge.
type InvalidTransitionError struct {
	Step StepName
	From StepStatus
	To   StepStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("prodflow: invalid transition for %s: %s -> %s", e.Step, e.From, e.To)
}

// DependencyError reports unmet predecessors for a requested transition.
// Unmet holds one human-readable entry per unsatisfied predecessor.
type DependencyError struct {
	Step  StepName
	Unmet []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("prodflow: dependencies not satisfied for %s: [%s]",
		e.Step, strings.Join(e.Unmet, ", "))
}
