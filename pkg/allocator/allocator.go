// Package allocator tracks which machines may see and work a step. Any
// idle machine of the right type may pick up an unstarted step; the first
// machine to start it owns it exclusively until the claim is released.
package allocator

import (
	"context"
	"log/slog"

	"github.com/corrugo/prodflow/pkg/core"
)

// Tracker performs claim reads and writes for machine-backed steps.
type Tracker struct {
	storage core.Storage
	logger  *slog.Logger
}

// New returns a Tracker backed by the given storage.
func New(storage core.Storage, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{storage: storage, logger: logger}
}

// Eligible returns every machine from the catalog whose declared type
// matches the step's required machine type. Non machine-backed steps have
// no eligible set.
func Eligible(step *core.Step, machines []core.Machine) []core.Machine {
	var out []core.Machine
	for _, m := range machines {
		if step.Name.AcceptsMachineType(m.Type) {
			out = append(out, m)
		}
	}
	return out
}

// Visible computes the machine set shown to a requesting machine or
// operator. Before any claim exists the full eligible set is visible to
// everyone; once one machine has started the step, only that machine's
// entry is shown to anyone.
func Visible(step *core.Step, machines []core.Machine) []core.Machine {
	claim := step.Claimed()
	if claim == nil {
		return Eligible(step, machines)
	}
	for _, m := range machines {
		if m.ID == claim.StartedByMachineID {
			return []core.Machine{m}
		}
	}
	return nil
}

// LatestClaim picks the authoritative claim from historical claim rows:
// prefer status in_progress over stop over any other value, then the most
// recent start time.
func LatestClaim(claims []core.MachineClaim) *core.MachineClaim {
	var best *core.MachineClaim
	for i := range claims {
		c := &claims[i]
		if best == nil || claimRank(c.Status) > claimRank(best.Status) {
			best = c
			continue
		}
		if claimRank(c.Status) == claimRank(best.Status) && startedAfter(c, best) {
			best = c
		}
	}
	return best
}

func claimRank(status string) int {
	switch status {
	case core.ClaimInProgress:
		return 2
	case core.ClaimStopped:
		return 1
	}
	return 0
}

func startedAfter(a, b *core.MachineClaim) bool {
	if a.StartedAt == nil {
		return false
	}
	if b.StartedAt == nil {
		return true
	}
	return a.StartedAt.After(*b.StartedAt)
}

// Claim records machine ownership atomically with the step's start
// transition. It enforces the self-consistency invariant that the claim's
// owning machine and its started-by machine are the same, and fails with
// ErrMachineAlreadyClaimed when another machine got there first.
func (t *Tracker) Claim(ctx context.Context, step *core.Step, machine core.Machine, update core.StepUpdate) error {
	if !step.Name.AcceptsMachineType(machine.Type) {
		return core.ErrMachineNotEligible
	}
	if existing := step.Claimed(); existing != nil {
		if existing.StartedByMachineID != existing.MachineID {
			// Corrupt claim row; refuse to build on it.
			return core.ErrClaimOwnerMismatch
		}
		if existing.StartedByMachineID != machine.ID {
			return core.ErrMachineAlreadyClaimed
		}
	}
	return t.storage.StartStepWithClaim(ctx, step.ID, step.Status, update, machine)
}

// CheckOwner verifies that the given machine holds the step's claim. Steps
// without a claim are not owned by anyone.
func (t *Tracker) CheckOwner(step *core.Step, machineID string) error {
	claim := step.Claimed()
	if claim == nil {
		return nil
	}
	if claim.StartedByMachineID != claim.MachineID {
		return core.ErrClaimOwnerMismatch
	}
	if claim.StartedByMachineID != machineID {
		return core.ErrMachineAlreadyClaimed
	}
	return nil
}

// Release clears the claim on a step reverting to planned. Claims are
// never transferred implicitly; release is the only way another machine
// may claim the step.
func (t *Tracker) Release(ctx context.Context, step *core.Step) error {
	if err := t.storage.ReleaseClaim(ctx, step.ID); err != nil {
		return err
	}
	t.logger.Info("released machine claim", "step", step.Name, "stepNo", step.StepNo)
	return nil
}

// MarkStopped flips the owning claim's historical status to stop when the
// machine finishes its work. Best-effort bookkeeping for the tie-break.
func (t *Tracker) MarkStopped(ctx context.Context, step *core.Step) {
	claim := step.Claimed()
	if claim == nil {
		return
	}
	claim.Status = core.ClaimStopped
	if err := t.storage.SaveClaim(ctx, claim); err != nil {
		t.logger.Warn("failed to mark claim stopped", "step", step.Name, "error", err)
	}
}
