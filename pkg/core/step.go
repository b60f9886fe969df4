package core

import "fmt"

// StepName identifies one stage of the manufacturing pipeline. The set is
// fixed: plannings may omit steps, but they may not invent new ones.
type StepName string

const (
	StepPaperStore                   StepName = "PaperStore"
	StepPrintingDetails              StepName = "PrintingDetails"
	StepCorrugation                  StepName = "Corrugation"
	StepFluteLaminateBoardConversion StepName = "FluteLaminateBoardConversion"
	StepPunching                     StepName = "Punching"
	StepSideFlapPasting              StepName = "SideFlapPasting"
	StepQualityDept                  StepName = "QualityDept"
	StepDispatchProcess              StepName = "DispatchProcess"
)

// AllStepNames lists every step type in canonical pipeline order.
var AllStepNames = []StepName{
	StepPaperStore,
	StepPrintingDetails,
	StepCorrugation,
	StepFluteLaminateBoardConversion,
	StepPunching,
	StepSideFlapPasting,
	StepQualityDept,
	StepDispatchProcess,
}

// ParseStepName validates a step name against the fixed set.
func ParseStepName(s string) (StepName, error) {
	for _, n := range AllStepNames {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStepName, s)
}

// MachineBacked reports whether the step runs on a physical machine and is
// therefore subject to claim exclusivity. Completion of these steps is
// driven by the allocator, not by the generic status-update path.
func (s StepName) MachineBacked() bool {
	switch s {
	case StepPrintingDetails, StepCorrugation, StepFluteLaminateBoardConversion,
		StepPunching, StepSideFlapPasting:
		return true
	}
	return false
}

// Skippable reports whether the step may go straight from planned to stop.
// Only steps without physical machine work can be skipped, and dispatch
// always requires an explicit quantity.
func (s StepName) Skippable() bool {
	return !s.MachineBacked() && s != StepDispatchProcess
}

// MachineType classifies machines in the registry.
type MachineType string

const (
	MachinePrinting          MachineType = "Printing"
	MachineCorrugation       MachineType = "Corrugation"
	MachineFluteLaminator    MachineType = "Flute Laminator"
	MachineAutoPunching      MachineType = "Auto Punching"
	MachineManualPunching    MachineType = "Manual Punching"
	MachineAutoFlapPasting   MachineType = "Auto Flap Pasting"
	MachineManualFlapPasting MachineType = "Manual Flap Pasting"
)

// stepMachineTypes maps each machine-backed step to the machine types that
// may work it. Punching and SideFlapPasting accept both their auto and
// manual variants.
var stepMachineTypes = map[StepName][]MachineType{
	StepPrintingDetails:              {MachinePrinting},
	StepCorrugation:                  {MachineCorrugation},
	StepFluteLaminateBoardConversion: {MachineFluteLaminator},
	StepPunching:                     {MachineAutoPunching, MachineManualPunching},
	StepSideFlapPasting:              {MachineAutoFlapPasting, MachineManualFlapPasting},
}

// AllowedMachineTypes returns the machine types eligible to work the step,
// or nil for steps that do not run on machines.
func (s StepName) AllowedMachineTypes() []MachineType {
	return stepMachineTypes[s]
}

// AcceptsMachineType reports whether a machine of the given type may work
// the step.
func (s StepName) AcceptsMachineType(t MachineType) bool {
	for _, mt := range stepMachineTypes[s] {
		if mt == t {
			return true
		}
	}
	return false
}
