// Package fsm implements the per-step state machine. It validates a
// requested transition against the fixed edge table and computes the field
// effects to persist; it does not touch storage itself.
package fsm

import (
	"log/slog"
	"time"

	"github.com/corrugo/prodflow/pkg/core"
)

// transitions is the edge table: current status -> allowed next statuses.
// planned -> stop is additionally gated on the step type being skippable,
// and major_hold resumes back to start only.
var transitions = map[core.StepStatus]map[core.StepStatus]bool{
	core.StatusPlanned: {
		core.StatusStart: true,
		core.StatusStop:  true, // skippable step types only
	},
	core.StatusStart: {
		core.StatusStop:      true,
		core.StatusMajorHold: true,
		core.StatusPlanned:   true, // revert, releases any machine claim
	},
	core.StatusStop: {
		core.StatusMajorHold: true,
	},
	core.StatusMajorHold: {
		core.StatusStart: true,
	},
}

// Outcome describes the result of applying a transition.
type Outcome struct {
	// Changed is false for idempotent re-issues of the current status and
	// for ignored generic stops on machine-backed steps.
	Changed bool

	// IgnoredStop is set when a non-privileged caller issued a generic
	// stop for a machine-backed step. The request succeeds as a no-op.
	IgnoredStop bool

	// Update holds the persisted effects when Changed is true.
	Update core.StepUpdate
}

// Machine applies transitions to steps.
type Machine struct {
	logger *slog.Logger
}

// New returns a state machine logging through the given logger, or
// slog.Default() when nil.
func New(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{logger: logger}
}

// Apply validates the requested transition and returns its effects.
//
// Re-issuing the current status is an idempotent success. Machine-backed
// step types do not accept a generic stop from non-privileged callers:
// their completion is driven by the allocator, so the request is accepted
// as a no-op and logged as ignored. Any other disallowed edge fails with
// *core.InvalidTransitionError.
func (m *Machine) Apply(step *core.Step, target core.StepStatus, actorID string, privileged bool, now time.Time) (Outcome, error) {
	if step.Status == target {
		return Outcome{Changed: false}, nil
	}

	if target == core.StatusStop && step.Name.MachineBacked() && !privileged {
		m.logger.Info("ignoring generic stop for machine-backed step",
			"step", step.Name, "stepNo", step.StepNo, "actor", actorID)
		return Outcome{Changed: false, IgnoredStop: true}, nil
	}

	if !transitions[step.Status][target] {
		return Outcome{}, &core.InvalidTransitionError{Step: step.Name, From: step.Status, To: target}
	}
	if step.Status == core.StatusPlanned && target == core.StatusStop && !step.Name.Skippable() {
		return Outcome{}, &core.InvalidTransitionError{Step: step.Name, From: step.Status, To: target}
	}

	update := core.StepUpdate{Status: target}
	switch target {
	case core.StatusStart:
		if step.Status == core.StatusMajorHold {
			// Resuming from hold keeps the original timestamps.
			break
		}
		update.StartDate = &now
		update.StartedBy = actorID
	case core.StatusStop:
		update.EndDate = &now
		update.CompletedBy = actorID
	case core.StatusPlanned:
		update.ClearStart = true
	case core.StatusMajorHold:
		// Side-state: status only, timestamps untouched.
	}

	return Outcome{Changed: true, Update: update}, nil
}

// CanTransition reports whether the edge exists without computing effects.
func (m *Machine) CanTransition(step *core.Step, target core.StepStatus) bool {
	if step.Status == target {
		return true
	}
	if !transitions[step.Status][target] {
		return false
	}
	if step.Status == core.StatusPlanned && target == core.StatusStop {
		return step.Name.Skippable()
	}
	return true
}
