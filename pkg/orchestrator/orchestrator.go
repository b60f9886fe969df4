// Package orchestrator composes the workflow engine: it receives transition
// requests, consults the dependency resolver and the machine allocation
// tracker, applies the state machine, triggers dispatch reconciliation and
// archives jobs when every step is terminal.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corrugo/prodflow/pkg/activity"
	"github.com/corrugo/prodflow/pkg/allocator"
	"github.com/corrugo/prodflow/pkg/core"
	"github.com/corrugo/prodflow/pkg/dispatch"
	"github.com/corrugo/prodflow/pkg/fsm"
	"github.com/corrugo/prodflow/pkg/internal/joblock"
	"github.com/corrugo/prodflow/pkg/metrics"
	"github.com/corrugo/prodflow/pkg/reconcile"
	"github.com/corrugo/prodflow/pkg/resolver"
)

// TransitionRequest is one external "apply transition" call, with the
// caller's identity resolved by the authentication layer before it reaches
// the engine.
type TransitionRequest struct {
	NrcJobNo string
	StepNo   int
	Target   core.StepStatus

	ActorID string
	Role    string

	// MachineID identifies the machine acting on a machine-backed step.
	MachineID string

	// Dispatch carries the validated dispatch fields when stopping a
	// DispatchProcess step.
	Dispatch *dispatch.Request
}

// TransitionResult reports what a transition request did.
type TransitionResult struct {
	Step        *core.Step
	Changed     bool
	IgnoredStop bool
	Dispatch    *reconcile.Result
	Archived    bool
}

// DetailUpdate carries a per-field write to a step's detail record. Nil
// pointers leave the stored value untouched.
type DetailUpdate struct {
	Status      core.DetailStatus
	Quantity    *int
	Remarks     *string
	PassQty     *int
	RejectedQty *int
	CheckedBy   string
	CheckedAt   *time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithAuth installs the external role predicates: privileged reports
// whether a role may use the generic update path on machine-backed steps,
// and allows reports whether a role may work a step type at all.
func WithAuth(privileged func(role string) bool, allows func(role string, step core.StepName) bool) Option {
	return func(e *Engine) {
		e.privileged = privileged
		e.roleAllows = allows
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the workflow orchestrator.
type Engine struct {
	storage    core.Storage
	machine    *fsm.Machine
	tracker    *allocator.Tracker
	reconciler *reconcile.Engine
	sink       *activity.Sink
	locks      *joblock.Registry
	logger     *slog.Logger

	privileged func(role string) bool
	roleAllows func(role string, step core.StepName) bool
	now        func() time.Time
}

// New creates an Engine over the given storage.
func New(storage core.Storage, opts ...Option) *Engine {
	e := &Engine{
		storage:    storage,
		locks:      joblock.NewRegistry(),
		logger:     slog.Default(),
		privileged: defaultPrivileged,
		roleAllows: func(string, core.StepName) bool { return true },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.machine = fsm.New(e.logger)
	e.tracker = allocator.New(storage, e.logger)
	e.reconciler = reconcile.New(storage, e.locks, e.logger)
	e.sink = activity.NewSink(storage, e.logger)
	return e
}

// defaultPrivileged treats admins and planners as privileged.
func defaultPrivileged(role string) bool {
	return role == "admin" || role == "planner"
}

// Reconciler exposes the dispatch reconciliation engine.
func (e *Engine) Reconciler() *reconcile.Engine {
	return e.reconciler
}

// ApplyTransition applies one requested transition end to end. A losing
// compare-and-set is retried once against fresh state before failing with
// ErrConcurrentModification.
func (e *Engine) ApplyTransition(ctx context.Context, req *TransitionRequest) (*TransitionResult, error) {
	res, err := e.applyOnce(ctx, req)
	if errors.Is(err, core.ErrConcurrentModification) {
		res, err = e.applyOnce(ctx, req)
	}
	return res, err
}

func (e *Engine) applyOnce(ctx context.Context, req *TransitionRequest) (*TransitionResult, error) {
	job, err := e.storage.JobByNo(ctx, req.NrcJobNo)
	if err != nil {
		return nil, err
	}
	if job.Status == core.JobHold {
		return nil, core.ErrJobOnHold
	}
	if job.Status == core.JobInactive {
		return nil, core.ErrJobNotFound
	}

	planning, err := e.storage.ActivePlanning(ctx, req.NrcJobNo)
	if err != nil {
		return nil, err
	}
	step := stepByNo(planning, req.StepNo)
	if step == nil {
		return nil, core.ErrStepNotFound
	}

	if err := e.authorize(job, step, req); err != nil {
		return nil, err
	}

	details, err := e.detailMap(ctx, planning.ID)
	if err != nil {
		return nil, err
	}

	switch req.Target {
	case core.StatusStart:
		if err := resolver.Check(planning.Steps, details, step, resolver.PhaseStart); err != nil {
			return nil, err
		}
	case core.StatusStop:
		if err := resolver.Check(planning.Steps, details, step, resolver.PhaseStop); err != nil {
			return nil, err
		}
	}

	if step.Name == core.StepDispatchProcess && req.Target == core.StatusStop {
		return e.applyDispatchStop(ctx, job, planning, step, req)
	}

	privileged := e.privileged(req.Role)
	// A caller identifying its machine drives the step directly rather
	// than through the generic path; ownership is still checked on persist.
	directStop := privileged || req.MachineID != ""
	outcome, err := e.machine.Apply(step, req.Target, req.ActorID, directStop, e.now())
	if err != nil {
		return nil, err
	}
	if !outcome.Changed {
		return &TransitionResult{Step: step, Changed: false, IgnoredStop: outcome.IgnoredStop}, nil
	}

	if err := e.persist(ctx, step, req, outcome.Update, privileged); err != nil {
		if errors.Is(err, core.ErrMachineAlreadyClaimed) {
			metrics.ClaimConflictsTotal.Inc()
		}
		return nil, err
	}
	step.Status = outcome.Update.Status

	e.logTransition(ctx, job, step, req)
	metrics.TransitionsTotal.WithLabelValues(string(step.Name), string(req.Target)).Inc()

	result := &TransitionResult{Step: step, Changed: true}
	if req.Target == core.StatusStop {
		archived, err := e.CheckCompletion(ctx, req.NrcJobNo)
		if err != nil {
			return nil, err
		}
		result.Archived = archived
	}
	return result, nil
}

// persist writes the transition, claiming the machine atomically when a
// machine-backed step starts.
func (e *Engine) persist(ctx context.Context, step *core.Step, req *TransitionRequest, update core.StepUpdate, privileged bool) error {
	if step.Name.MachineBacked() {
		switch update.Status {
		case core.StatusStart:
			machine, err := e.storage.MachineByID(ctx, req.MachineID)
			if err != nil {
				return err
			}
			return e.tracker.Claim(ctx, step, *machine, update)
		case core.StatusStop:
			if !privileged {
				if err := e.tracker.CheckOwner(step, req.MachineID); err != nil {
					return err
				}
			}
			if err := e.storage.UpdateStepStatus(ctx, step.ID, step.Status, update); err != nil {
				return err
			}
			e.tracker.MarkStopped(ctx, step)
			return nil
		case core.StatusPlanned:
			if err := e.storage.UpdateStepStatus(ctx, step.ID, step.Status, update); err != nil {
				return err
			}
			return e.tracker.Release(ctx, step)
		}
	}
	return e.storage.UpdateStepStatus(ctx, step.ID, step.Status, update)
}

// applyDispatchStop handles the one step type that may stay non-terminal
// across multiple stop calls. Reconciliation decides whether the record
// reaches accept; the step row only stops once it does.
func (e *Engine) applyDispatchStop(ctx context.Context, job *core.Job, planning *core.JobPlanning, step *core.Step, req *TransitionRequest) (*TransitionResult, error) {
	if req.Dispatch == nil {
		return nil, fmt.Errorf("prodflow: dispatch fields required to stop %s", core.StepDispatchProcess)
	}
	if step.Status == core.StatusStop {
		// Terminal already; idempotent no-op.
		return &TransitionResult{Step: step, Changed: false}, nil
	}

	now := e.now()
	if step.Status == core.StatusPlanned {
		update := core.StepUpdate{Status: core.StatusStart, StartDate: &now, StartedBy: req.ActorID}
		if err := e.storage.UpdateStepStatus(ctx, step.ID, core.StatusPlanned, update); err != nil {
			return nil, err
		}
		step.Status = core.StatusStart
	}

	res, err := e.reconciler.Dispatch(ctx, planning, req.Dispatch)
	if err != nil {
		return nil, err
	}

	result := &TransitionResult{Step: step, Changed: true, Dispatch: res}
	if res.Accepted {
		update := core.StepUpdate{Status: core.StatusStop, EndDate: &now, CompletedBy: req.ActorID}
		if err := e.storage.UpdateStepStatus(ctx, step.ID, step.Status, update); err != nil {
			return nil, err
		}
		step.Status = core.StatusStop
		metrics.TransitionsTotal.WithLabelValues(string(step.Name), string(core.StatusStop)).Inc()

		archived, err := e.CheckCompletion(ctx, req.NrcJobNo)
		if err != nil {
			return nil, err
		}
		result.Archived = archived
	}

	e.logTransition(ctx, job, step, req)
	return result, nil
}

// authorize applies the external role predicates. High-demand jobs bypass
// the role gate so any qualified machine can work them immediately;
// dependency rules and claim exclusivity still apply.
func (e *Engine) authorize(job *core.Job, step *core.Step, req *TransitionRequest) error {
	if e.privileged(req.Role) || job.DemandClass == core.DemandHigh {
		return nil
	}
	if !e.roleAllows(req.Role, step.Name) {
		return core.ErrAccessDenied
	}
	return nil
}

// RecordDetail upserts a step's detail record, creating it lazily on the
// first status-affecting write. Detail records feed the dependency
// resolver; most step types must reach accept before downstream steps may
// proceed.
func (e *Engine) RecordDetail(ctx context.Context, nrcJobNo string, name core.StepName, update DetailUpdate) (*core.StepDetail, error) {
	planning, err := e.storage.ActivePlanning(ctx, nrcJobNo)
	if err != nil {
		return nil, err
	}
	if stepNamed(planning, name) == nil {
		return nil, core.ErrStepNotFound
	}

	detail, err := e.storage.DetailFor(ctx, planning.ID, name)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		detail = &core.StepDetail{
			PlanningID: planning.ID,
			NrcJobNo:   nrcJobNo,
			StepName:   name,
			Status:     core.DetailInProgress,
		}
	}

	if update.Status != "" {
		detail.Status = update.Status
	}
	if update.Quantity != nil {
		detail.Quantity = *update.Quantity
	}
	if update.Remarks != nil {
		detail.Remarks = *update.Remarks
	}
	if update.PassQty != nil {
		detail.PassQty = update.PassQty
	}
	if update.RejectedQty != nil {
		detail.RejectedQty = update.RejectedQty
	}
	if update.CheckedBy != "" {
		detail.CheckedBy = update.CheckedBy
	}
	if update.CheckedAt != nil {
		detail.CheckedAt = update.CheckedAt
	}

	if err := e.storage.UpsertDetail(ctx, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// VisibleMachines returns the machine set a requesting machine or operator
// may see for a step: the full eligible set while unclaimed, or only the
// claimer once one machine has started the step.
func (e *Engine) VisibleMachines(ctx context.Context, nrcJobNo string, stepNo int) ([]core.Machine, error) {
	planning, err := e.storage.ActivePlanning(ctx, nrcJobNo)
	if err != nil {
		return nil, err
	}
	step := stepByNo(planning, stepNo)
	if step == nil {
		return nil, core.ErrStepNotFound
	}
	machines, err := e.storage.Machines(ctx)
	if err != nil {
		return nil, err
	}
	return allocator.Visible(step, machines), nil
}

// CheckCompletion archives the job if every step of its planning is
// stopped and the dispatch record is accepted. It fires at most once per
// job: the check-and-archive sequence runs under the per-job lock, and a
// job already archived reads back as not found, which is a no-op here.
func (e *Engine) CheckCompletion(ctx context.Context, nrcJobNo string) (bool, error) {
	defer e.locks.Lock(nrcJobNo)()

	planning, err := e.storage.ActivePlanning(ctx, nrcJobNo)
	if errors.Is(err, core.ErrPlanningNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for i := range planning.Steps {
		if planning.Steps[i].Status != core.StatusStop {
			return false, nil
		}
	}

	rec, err := e.storage.DispatchRecordFor(ctx, planning.ID)
	if err != nil {
		return false, err
	}
	if hasStep(planning, core.StepDispatchProcess) && (rec == nil || rec.Status != core.DetailAccept) {
		return false, nil
	}

	details, err := e.storage.DetailsFor(ctx, planning.ID)
	if err != nil {
		return false, err
	}

	snapshot, err := json.Marshal(core.JobSnapshot{
		Planning: *planning,
		Details:  details,
		Dispatch: rec,
	})
	if err != nil {
		return false, err
	}

	completed := &core.CompletedJob{
		NrcJobNo:    nrcJobNo,
		Snapshot:    snapshot,
		CompletedAt: e.now(),
	}
	err = e.storage.ArchiveJob(ctx, completed, planning.ID, nrcJobNo)
	if errors.Is(err, core.ErrJobNotFound) {
		// Lost the race to another completion check.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.JobsArchivedTotal.Inc()
	e.logger.Info("job completed and archived", "job", nrcJobNo)
	return true, nil
}

// logTransition writes the best-effort audit entry after a successful
// transition.
func (e *Engine) logTransition(ctx context.Context, job *core.Job, step *core.Step, req *TransitionRequest) {
	entry := &core.ActivityLog{
		NrcJobNo: job.NrcJobNo,
		StepName: step.Name,
		Action:   string(req.Target),
		ActorID:  req.ActorID,
	}
	if req.MachineID != "" {
		entry.Detail = "machine " + req.MachineID
	}
	e.sink.Record(ctx, entry)
}

func (e *Engine) detailMap(ctx context.Context, planningID string) (map[core.StepName]*core.StepDetail, error) {
	details, err := e.storage.DetailsFor(ctx, planningID)
	if err != nil {
		return nil, err
	}
	m := make(map[core.StepName]*core.StepDetail, len(details))
	for i := range details {
		m[details[i].StepName] = &details[i]
	}

	// The dispatch record stands in as the DispatchProcess detail.
	rec, err := e.storage.DispatchRecordFor(ctx, planningID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		m[core.StepDispatchProcess] = &core.StepDetail{
			PlanningID: rec.PlanningID,
			NrcJobNo:   rec.NrcJobNo,
			StepName:   core.StepDispatchProcess,
			Status:     rec.Status,
			Quantity:   rec.TotalDispatchedQty,
		}
	}
	return m, nil
}

func stepByNo(planning *core.JobPlanning, stepNo int) *core.Step {
	for i := range planning.Steps {
		if planning.Steps[i].StepNo == stepNo {
			return &planning.Steps[i]
		}
	}
	return nil
}

func stepNamed(planning *core.JobPlanning, name core.StepName) *core.Step {
	for i := range planning.Steps {
		if planning.Steps[i].Name == name {
			return &planning.Steps[i]
		}
	}
	return nil
}

func hasStep(planning *core.JobPlanning, name core.StepName) bool {
	return stepNamed(planning, name) != nil
}
