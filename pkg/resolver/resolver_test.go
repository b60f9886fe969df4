package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corrugo/prodflow/pkg/core"
)

func fullPlanSteps(statuses map[core.StepName]core.StepStatus) []core.Step {
	steps := make([]core.Step, 0, len(core.AllStepNames))
	for i, name := range core.AllStepNames {
		status := core.StatusPlanned
		if s, ok := statuses[name]; ok {
			status = s
		}
		steps = append(steps, core.Step{
			ID:     string(name),
			StepNo: i + 1,
			Name:   name,
			Status: status,
		})
	}
	return steps
}

func acceptedDetail(name core.StepName) *core.StepDetail {
	return &core.StepDetail{StepName: name, Status: core.DetailAccept}
}

func stepFor(steps []core.Step, name core.StepName) *core.Step {
	for i := range steps {
		if steps[i].Name == name {
			return &steps[i]
		}
	}
	return nil
}

func TestPaperStoreAlwaysEligible(t *testing.T) {
	steps := fullPlanSteps(nil)
	err := Check(steps, nil, stepFor(steps, core.StepPaperStore), PhaseStart)
	assert.NoError(t, err)

	err = Check(steps, nil, stepFor(steps, core.StepPaperStore), PhaseStop)
	assert.NoError(t, err)
}

func TestParallelGroupDependsOnPaperStoreOnly(t *testing.T) {
	steps := fullPlanSteps(map[core.StepName]core.StepStatus{
		core.StepPaperStore: core.StatusStop,
	})

	// No detail record yet: blocked.
	err := Check(steps, nil, stepFor(steps, core.StepPrintingDetails), PhaseStart)
	var depErr *core.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"PaperStore (must be accepted)"}, depErr.Unmet)

	// Accepted paper store unlocks both legs, independent of each other.
	details := map[core.StepName]*core.StepDetail{
		core.StepPaperStore: acceptedDetail(core.StepPaperStore),
	}
	assert.NoError(t, Check(steps, details, stepFor(steps, core.StepPrintingDetails), PhaseStart))
	assert.NoError(t, Check(steps, details, stepFor(steps, core.StepCorrugation), PhaseStart))
}

func TestPrintingDoesNotDependOnCorrugation(t *testing.T) {
	steps := fullPlanSteps(map[core.StepName]core.StepStatus{
		core.StepPaperStore:  core.StatusStop,
		core.StepCorrugation: core.StatusPlanned,
	})
	details := map[core.StepName]*core.StepDetail{
		core.StepPaperStore: acceptedDetail(core.StepPaperStore),
	}
	assert.NoError(t, Check(steps, details, stepFor(steps, core.StepPrintingDetails), PhaseStart))
}

func TestDownstreamRequiresBothParallelLegsAccepted(t *testing.T) {
	steps := fullPlanSteps(map[core.StepName]core.StepStatus{
		core.StepPaperStore:      core.StatusStop,
		core.StepPrintingDetails: core.StatusStart,
		core.StepCorrugation:     core.StatusStart,
	})
	details := map[core.StepName]*core.StepDetail{
		core.StepPaperStore:      acceptedDetail(core.StepPaperStore),
		core.StepPrintingDetails: acceptedDetail(core.StepPrintingDetails),
		core.StepCorrugation:     {StepName: core.StepCorrugation, Status: core.DetailInProgress},
	}

	err := Check(steps, details, stepFor(steps, core.StepFluteLaminateBoardConversion), PhaseStart)
	var depErr *core.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"Corrugation (must be accepted)"}, depErr.Unmet)
	assert.Equal(t, core.StepFluteLaminateBoardConversion, depErr.Step)
}

func TestDownstreamListsEveryUnmetPredecessor(t *testing.T) {
	steps := fullPlanSteps(nil)
	err := Check(steps, nil, stepFor(steps, core.StepQualityDept), PhaseStart)
	var depErr *core.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{
		"PrintingDetails (must be accepted)",
		"Corrugation (must be accepted)",
	}, depErr.Unmet)
}

func TestAbsentLegIsNotRequired(t *testing.T) {
	// Planning without Corrugation: only the printing leg gates downstream.
	steps := []core.Step{
		{StepNo: 1, Name: core.StepPaperStore, Status: core.StatusStop},
		{StepNo: 2, Name: core.StepPrintingDetails, Status: core.StatusStop},
		{StepNo: 3, Name: core.StepPunching, Status: core.StatusPlanned},
	}
	details := map[core.StepName]*core.StepDetail{
		core.StepPaperStore:      acceptedDetail(core.StepPaperStore),
		core.StepPrintingDetails: acceptedDetail(core.StepPrintingDetails),
	}
	assert.NoError(t, Check(steps, details, &steps[2], PhaseStart))
}

func TestStopPhaseRequiresCompletedPredecessor(t *testing.T) {
	steps := fullPlanSteps(map[core.StepName]core.StepStatus{
		core.StepPaperStore:      core.StatusStop,
		core.StepPrintingDetails: core.StatusStart,
		core.StepCorrugation:     core.StatusStop,
	})
	details := map[core.StepName]*core.StepDetail{
		core.StepPaperStore:      acceptedDetail(core.StepPaperStore),
		core.StepPrintingDetails: acceptedDetail(core.StepPrintingDetails),
		core.StepCorrugation:     acceptedDetail(core.StepCorrugation),
	}

	// Started predecessor is enough to start, not to stop.
	assert.NoError(t, Check(steps, details, stepFor(steps, core.StepQualityDept), PhaseStart))

	err := Check(steps, details, stepFor(steps, core.StepQualityDept), PhaseStop)
	var depErr *core.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"PrintingDetails (must be completed)"}, depErr.Unmet)
}

func TestDispatchRequiresQCSignOff(t *testing.T) {
	steps := fullPlanSteps(map[core.StepName]core.StepStatus{
		core.StepQualityDept: core.StatusStop,
	})

	pass, reject := 600, 40
	signed := time.Now()

	cases := []struct {
		name   string
		detail *core.StepDetail
		ok     bool
	}{
		{"no record", nil, false},
		{"accept without sign-off", &core.StepDetail{
			StepName: core.StepQualityDept, Status: core.DetailAccept,
		}, false},
		{"quantities without signer", &core.StepDetail{
			StepName: core.StepQualityDept, Status: core.DetailAccept,
			PassQty: &pass, RejectedQty: &reject,
		}, false},
		{"full sign-off", &core.StepDetail{
			StepName: core.StepQualityDept, Status: core.DetailAccept,
			PassQty: &pass, RejectedQty: &reject,
			CheckedBy: "qc-1", CheckedAt: &signed,
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			details := map[core.StepName]*core.StepDetail{}
			if tc.detail != nil {
				details[core.StepQualityDept] = tc.detail
			}
			err := Check(steps, details, stepFor(steps, core.StepDispatchProcess), PhaseStop)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			var depErr *core.DependencyError
			require.ErrorAs(t, err, &depErr)
			assert.Contains(t, depErr.Unmet, "QualityDept (awaiting QC sign-off)")
		})
	}
}

func TestDispatchWithUnplannedQualityDept(t *testing.T) {
	// QualityDept absent from the plan: dispatch has nothing to wait for.
	steps := []core.Step{
		{StepNo: 1, Name: core.StepPaperStore, Status: core.StatusStop},
		{StepNo: 2, Name: core.StepDispatchProcess, Status: core.StatusPlanned},
	}
	assert.NoError(t, Check(steps, nil, &steps[1], PhaseStop))
}
