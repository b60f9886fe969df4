// Package resolver decides whether a step transition is currently allowed
// given the rest of its planning. It is a pure function over the planning's
// step list and detail records; it never touches storage and is evaluated
// independently of the state machine's own edge check.
package resolver

import (
	"fmt"

	"github.com/corrugo/prodflow/pkg/core"
)

// Phase selects which side of a transition is being checked. Predecessors
// must be started before a step may start, and completed before it may
// stop.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseStop
)

func (p Phase) String() string {
	if p == PhaseStop {
		return "stop"
	}
	return "start"
}

// Check reports whether the target step's predecessors permit a transition
// in the given phase. A nil return means the transition is allowed. An
// unsatisfied rule returns *core.DependencyError listing every unmet
// predecessor; predecessors absent from the planning are treated as
// satisfied.
func Check(steps []core.Step, details map[core.StepName]*core.StepDetail, target *core.Step, phase Phase) error {
	var unmet []string

	switch target.Name {
	case core.StepPaperStore:
		// Entry step, always eligible.

	case core.StepPrintingDetails, core.StepCorrugation:
		// Parallel group: each leg depends only on PaperStore, never on
		// the other leg.
		unmet = appendUnmet(unmet, steps, details, core.StepPaperStore, phase)

	case core.StepFluteLaminateBoardConversion, core.StepPunching,
		core.StepSideFlapPasting, core.StepQualityDept:
		// Everything downstream of the parallel group waits for every
		// planned leg of it.
		unmet = appendUnmet(unmet, steps, details, core.StepPrintingDetails, phase)
		unmet = appendUnmet(unmet, steps, details, core.StepCorrugation, phase)

	case core.StepDispatchProcess:
		if s := stepNamed(steps, core.StepQualityDept); s != nil {
			d := details[core.StepQualityDept]
			if d == nil || !d.QCSignedOff() {
				unmet = append(unmet, fmt.Sprintf("%s (awaiting QC sign-off)", core.StepQualityDept))
			} else if phase == PhaseStop && s.Status != core.StatusStop {
				unmet = append(unmet, fmt.Sprintf("%s (must be completed)", s.Name))
			}
		}

	default:
		// Closed enum upstream; kept as the documented fallback rule for
		// the immediately preceding step number.
		if prev := precedingStep(steps, target.StepNo); prev != nil {
			unmet = appendUnmet(unmet, steps, details, prev.Name, phase)
		}
	}

	if len(unmet) > 0 {
		return &core.DependencyError{Step: target.Name, Unmet: unmet}
	}
	return nil
}

// appendUnmet evaluates one predecessor rule and appends at most one entry
// for it. The detail-record requirement dominates: a predecessor whose
// detail has not reached accept is reported as such even if its step row
// has already started.
func appendUnmet(unmet []string, steps []core.Step, details map[core.StepName]*core.StepDetail, name core.StepName, phase Phase) []string {
	s := stepNamed(steps, name)
	if s == nil {
		// Not planned for this job; the leg is simply not required.
		return unmet
	}

	d := details[name]
	if d == nil || d.Status != core.DetailAccept {
		return append(unmet, fmt.Sprintf("%s (must be accepted)", name))
	}

	switch phase {
	case PhaseStart:
		if s.Status != core.StatusStart && s.Status != core.StatusStop {
			return append(unmet, fmt.Sprintf("%s (must be started)", name))
		}
	case PhaseStop:
		if s.Status != core.StatusStop {
			return append(unmet, fmt.Sprintf("%s (must be completed)", name))
		}
	}
	return unmet
}

func stepNamed(steps []core.Step, name core.StepName) *core.Step {
	for i := range steps {
		if steps[i].Name == name {
			return &steps[i]
		}
	}
	return nil
}

func precedingStep(steps []core.Step, stepNo int) *core.Step {
	var prev *core.Step
	for i := range steps {
		if steps[i].StepNo < stepNo && (prev == nil || steps[i].StepNo > prev.StepNo) {
			prev = &steps[i]
		}
	}
	return prev
}
