package prodflow

import "github.com/corrugo/prodflow/pkg/core"

// Error variables re-exported from pkg/core.
var (
	ErrJobNotFound            = core.ErrJobNotFound
	ErrPlanningNotFound       = core.ErrPlanningNotFound
	ErrDuplicatePlanning      = core.ErrDuplicatePlanning
	ErrStepNotFound           = core.ErrStepNotFound
	ErrUnknownStepName        = core.ErrUnknownStepName
	ErrMachineNotFound        = core.ErrMachineNotFound
	ErrMachineNotEligible     = core.ErrMachineNotEligible
	ErrMachineAlreadyClaimed  = core.ErrMachineAlreadyClaimed
	ErrClaimOwnerMismatch     = core.ErrClaimOwnerMismatch
	ErrAccessDenied           = core.ErrAccessDenied
	ErrConcurrentModification = core.ErrConcurrentModification
	ErrLedgerInconsistency    = core.ErrLedgerInconsistency
	ErrJobOnHold              = core.ErrJobOnHold
)

// Typed errors carrying detail.
type (
	// InvalidTransitionError reports a disallowed state-machine edge.
	InvalidTransitionError = core.InvalidTransitionError

	// DependencyError reports unmet predecessors for a transition.
	DependencyError = core.DependencyError
)
