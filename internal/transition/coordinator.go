package transition

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"stagewright/internal/actor"
	"stagewright/internal/cache"
	"stagewright/internal/ledger"
	"stagewright/internal/logging"
	"stagewright/internal/notifications"
	"stagewright/internal/prereq"
	"stagewright/internal/project"
	"stagewright/internal/stages"
	"stagewright/internal/store"
)

const (
	defaultMutationTimeout = 10 * time.Second
	defaultLedgerTimeout   = 10 * time.Second
)

// Backend is the store surface the coordinator depends on.
type Backend interface {
	ReadProject(ctx context.Context, id string) (project.Project, error)
	MutateProjectStage(ctx context.Context, m project.StageMutation) (project.Project, error)
	ledger.Store
}

// Deps are the collaborators a Coordinator is built from. Graph, Backend and
// Checker are required.
type Deps struct {
	Graph    *stages.Graph
	Backend  Backend
	Checker  *prereq.Checker
	Ledger   *ledger.Ledger
	Cache    *cache.Cache
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Options control a single transition.
type Options struct {
	BypassValidation  bool
	BypassReason      string
	Reason            string
	EstimatedDuration time.Duration
}

// Outcome describes what a transition did. MutationCommitted and
// LedgerRecorded tell UIs which side succeeded so they never re-attempt a
// transition that already happened.
type Outcome struct {
	Applied           bool
	MutationCommitted bool
	LedgerRecorded    bool
	LedgerErr         error
	Project           project.Project
	Record            project.TransitionRecord
	Result            *prereq.Result
	Phase             Phase
}

// Coordinator executes and answers questions about transitions.
type Coordinator struct {
	graph           *stages.Graph
	backend         Backend
	checker         *prereq.Checker
	ledger          *ledger.Ledger
	cache           *cache.Cache
	notifier        notifications.Service
	logger          *slog.Logger
	inflight        *inflight
	mutationTimeout time.Duration
	ledgerTimeout   time.Duration
	now             func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithMutationTimeout bounds the stage mutation.
func WithMutationTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.mutationTimeout = d
		}
	}
}

// WithLedgerTimeout bounds the history write.
func WithLedgerTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.ledgerTimeout = d
		}
	}
}

// WithClock overrides the time source used for stage entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPhaseObserver registers a callback invoked on every phase change.
func WithPhaseObserver(fn func(projectID string, phase Phase)) Option {
	return func(c *Coordinator) {
		c.inflight.observer = fn
	}
}

// New wires a Coordinator. A missing Ledger or Cache is built over Backend.
func New(deps Deps, opts ...Option) (*Coordinator, error) {
	if deps.Graph == nil {
		return nil, errors.New("transition: graph is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("transition: backend is required")
	}
	if deps.Checker == nil {
		return nil, errors.New("transition: prerequisite checker is required")
	}
	logger := logging.NewComponentLogger(deps.Logger, "transition")
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.Noop()
	}
	l := deps.Ledger
	if l == nil {
		l = ledger.New(deps.Backend, ledger.WithNotifier(notifier), ledger.WithLogger(deps.Logger))
	}
	cc := deps.Cache
	if cc == nil {
		cc = cache.New(deps.Backend, cache.WithLogger(deps.Logger))
	}
	c := &Coordinator{
		graph:           deps.Graph,
		backend:         deps.Backend,
		checker:         deps.Checker,
		ledger:          l,
		cache:           cc,
		notifier:        notifier,
		logger:          logger,
		inflight:        newInflight(),
		mutationTimeout: defaultMutationTimeout,
		ledgerTimeout:   defaultLedgerTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Graph returns the workflow the coordinator enforces.
func (c *Coordinator) Graph() *stages.Graph { return c.graph }

// Cache returns the read cache kept coherent by the coordinator.
func (c *Coordinator) Cache() *cache.Cache { return c.cache }

// Phase reports the in-flight phase for a project; PhaseIdle when none.
func (c *Coordinator) Phase(projectID string) Phase {
	return c.inflight.get(projectID)
}

// Project loads a project through the cache and checks the caller may see it.
func (c *Coordinator) Project(ctx context.Context, id string) (project.Project, error) {
	p, err := c.load(ctx, id)
	if err != nil {
		return project.Project{}, err
	}
	if _, err := c.authorize(ctx, p, false); err != nil {
		return project.Project{}, err
	}
	return p, nil
}

func (c *Coordinator) load(ctx context.Context, id string) (project.Project, error) {
	p, err := c.cache.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return project.Project{}, newError(KindNotFound, err, reasonf("project %s does not exist", id))
		}
		return project.Project{}, newError(KindBackendFailure, err, reasonf("could not read project %s", id))
	}
	return p, nil
}

// ExecuteByID loads the project through the cache and executes the transition.
func (c *Coordinator) ExecuteByID(ctx context.Context, projectID, targetStageID string, opts Options) (Outcome, error) {
	p, err := c.load(ctx, projectID)
	if err != nil {
		return Outcome{Phase: PhaseIdle}, err
	}
	return c.Execute(ctx, p, targetStageID, opts)
}

// Execute moves p to targetStageID. p is the caller's view of the project;
// the mutation only applies while the store still matches its stage and
// version.
func (c *Coordinator) Execute(ctx context.Context, p project.Project, targetStageID string, opts Options) (Outcome, error) {
	targetStageID = strings.TrimSpace(targetStageID)
	out := Outcome{Phase: PhaseIdle}
	if err := validateOptions(p, targetStageID, opts); err != nil {
		return out, err
	}
	who, err := c.authorize(ctx, p, true)
	if err != nil {
		return out, err
	}
	if !c.inflight.acquire(p.ID) {
		return out, newError(KindConcurrencyConflict, nil, reasonf("a transition is already in progress for %s", p.ID))
	}
	defer c.inflight.release(p.ID)

	ctx = actor.WithStage(actor.WithProject(ctx, p.ID), p.CurrentStageID)
	logger := logging.WithContext(ctx, c.logger).With(logging.String(logging.FieldTargetStage, targetStageID))

	reject := func(e *Error) (Outcome, error) {
		c.inflight.set(p.ID, PhaseRejected)
		out.Phase = PhaseRejected
		logger.Info("transition rejected",
			logging.String("kind", string(e.Kind)),
			logging.String("reasons", strings.Join(e.Reasons, "; ")),
		)
		return out, e
	}

	target, current, serr := c.structural(p, targetStageID)
	if serr != nil {
		return reject(serr)
	}

	if opts.BypassValidation {
		// Approval-gated stages may only be bypassed by a manager.
		if c.checker.RequiresApproval(target) && !who.Privilege.AtLeast(actor.PrivilegeManager) {
			return reject(newError(KindForbidden, nil, reasonf("bypassing %s requires manager privilege; %s is %s", target.ID, who.ID, who.Privilege)))
		}
	} else {
		result, cerr := c.checker.Check(ctx, p, target, current)
		out.Result = &result
		if cerr != nil {
			return reject(newError(KindBackendFailure, cerr, "prerequisite lookup failed"))
		}
		if !result.Valid {
			return reject(newError(KindPrerequisiteFailure, nil, result.Errors...))
		}
	}

	c.inflight.set(p.ID, PhaseMutating)
	out.Phase = PhaseMutating
	enteredAt := c.now().UTC()
	if enteredAt.Before(p.StageEnteredAt) {
		enteredAt = p.StageEnteredAt
	}
	proposed := p.Clone()
	proposed.CurrentStageID = target.ID
	proposed.StageEnteredAt = enteredAt
	proposed.Status = project.DeriveStatus(p.Status, target.Terminal())
	pending := c.cache.Provisional(proposed)

	mutCtx, cancel := context.WithTimeout(ctx, c.mutationTimeout)
	committed, merr := c.backend.MutateProjectStage(mutCtx, project.StageMutation{
		ProjectID:       p.ID,
		FromStageID:     p.CurrentStageID,
		ExpectedVersion: p.Version,
		ToStageID:       target.ID,
		EnteredAt:       enteredAt,
		Status:          proposed.Status,
	})
	timedOut := errors.Is(mutCtx.Err(), context.DeadlineExceeded)
	cancel()
	if merr != nil {
		pending.Rollback()
		c.inflight.set(p.ID, PhaseMutationFailed)
		out.Phase = PhaseMutationFailed
		e := c.classifyMutation(p, merr, timedOut)
		logging.WarnWithContext(logger, "stage mutation failed", "transition_mutation_failed",
			logging.String("kind", string(e.Kind)),
			logging.String(logging.FieldErrorHint, "reload the project and retry"),
			logging.String(logging.FieldImpact, "project stage unchanged"),
			logging.Error(merr),
		)
		return out, e
	}

	c.inflight.set(p.ID, PhaseRecording)
	out.Phase = PhaseRecording
	out.Applied = true
	out.MutationCommitted = true
	out.Project = committed

	ledgerCtx, cancelLedger := context.WithTimeout(context.WithoutCancel(ctx), c.ledgerTimeout)
	rec, lerr := c.ledger.Record(ledgerCtx, project.TransitionRecord{
		ProjectID:         p.ID,
		Organization:      p.Organization,
		FromStageID:       p.CurrentStageID,
		ToStageID:         target.ID,
		ActorID:           who.ID,
		Reason:            strings.TrimSpace(opts.Reason),
		BypassReason:      bypassReason(opts),
		EstimatedDuration: opts.EstimatedDuration,
		Timestamp:         enteredAt,
	})
	cancelLedger()
	pending.Confirm(committed)
	if lerr != nil {
		out.LedgerErr = &Error{Kind: KindLedgerWriteFailure, Err: lerr, MutationCommitted: true,
			Reasons: []string{"stage changed but the history entry was not written"}}
	} else {
		out.LedgerRecorded = true
		out.Record = rec
	}

	c.announce(ctx, logger, p, committed, who, opts)
	return out, nil
}

func validateOptions(p project.Project, targetStageID string, opts Options) error {
	var reasons []string
	if strings.TrimSpace(p.ID) == "" {
		reasons = append(reasons, "project id is required")
	}
	if targetStageID == "" {
		reasons = append(reasons, "target stage is required")
	}
	if opts.BypassValidation && strings.TrimSpace(opts.BypassReason) == "" {
		reasons = append(reasons, "bypassing validation requires a bypass reason")
	}
	if opts.EstimatedDuration < 0 {
		reasons = append(reasons, "estimated duration cannot be negative")
	}
	if len(reasons) > 0 {
		return newError(KindInvalidOptions, nil, reasons...)
	}
	return nil
}

func bypassReason(opts Options) string {
	if !opts.BypassValidation {
		return ""
	}
	return strings.TrimSpace(opts.BypassReason)
}

// authorize resolves the caller from ctx and checks organization scope.
// Writes additionally exclude viewers.
func (c *Coordinator) authorize(ctx context.Context, p project.Project, write bool) (actor.Actor, error) {
	who, ok := actor.FromContext(ctx)
	if !ok || !who.Valid() {
		return actor.Actor{}, newError(KindForbidden, nil, "actor identity is required")
	}
	if !who.CanAccess(p.Organization) {
		return actor.Actor{}, newError(KindForbidden, nil, reasonf("%s cannot access projects in organization %q", who.ID, p.Organization))
	}
	if write && !who.Privilege.AtLeast(actor.PrivilegeOperator) {
		return actor.Actor{}, newError(KindForbidden, nil, reasonf("%s is read-only", who.ID))
	}
	return who, nil
}

// structural resolves the target and current stages and checks the edge.
func (c *Coordinator) structural(p project.Project, targetStageID string) (stages.Stage, *stages.Stage, *Error) {
	target, err := c.graph.Stage(targetStageID)
	if err != nil {
		return stages.Stage{}, nil, newError(KindStructuralViolation, err, reasonf("stage %q is not part of the workflow", targetStageID))
	}
	if p.Status == project.StatusCancelled {
		return target, nil, newError(KindStructuralViolation, nil, reasonf("project %s is cancelled", p.ID))
	}
	var current *stages.Stage
	if p.HasStage() {
		stg, err := c.graph.Stage(p.CurrentStageID)
		if err != nil {
			return target, nil, newError(KindStructuralViolation, err, reasonf("current stage %q is not part of the workflow", p.CurrentStageID))
		}
		current = &stg
	}
	if !c.graph.CanReach(p.CurrentStageID, target.ID) {
		if current == nil {
			return target, nil, newError(KindStructuralViolation, nil, reasonf("%s is not an entry stage", target.ID))
		}
		return target, current, newError(KindStructuralViolation, nil, reasonf("%s cannot move from %s to %s", p.ID, current.ID, target.ID))
	}
	return target, current, nil
}

func (c *Coordinator) classifyMutation(p project.Project, err error, timedOut bool) *Error {
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		c.cache.Invalidate(p.ID)
		return newError(KindConcurrencyConflict, err, reasonf("%s was changed by someone else; reload and retry", p.ID))
	case errors.Is(err, store.ErrNotFound):
		c.cache.Invalidate(p.ID)
		return newError(KindNotFound, err, reasonf("project %s does not exist", p.ID))
	case timedOut:
		return newError(KindBackendFailure, err, reasonf("store did not answer within %s", c.mutationTimeout))
	default:
		return newError(KindBackendFailure, err, "stage mutation failed")
	}
}

func (c *Coordinator) announce(ctx context.Context, logger *slog.Logger, before, after project.Project, who actor.Actor, opts Options) {
	attrs := []logging.Attr{
		logging.String(logging.FieldActorID, who.ID),
		logging.String("status", string(after.Status)),
		logging.Int64("version", after.Version),
	}
	if opts.BypassValidation {
		attrs = append(attrs, logging.Alert("validation_bypassed"), logging.String("bypass_reason", strings.TrimSpace(opts.BypassReason)))
	}
	logger.Info("stage transition applied", logging.Args(attrs...)...)

	payload := notifications.Payload{
		"projectID":    before.ID,
		"organization": before.Organization,
		"from":         before.CurrentStageID,
		"to":           after.CurrentStageID,
		"actor":        who.ID,
		"reason":       strings.TrimSpace(opts.Reason),
	}
	event := notifications.EventTransitionApplied
	if opts.BypassValidation {
		event = notifications.EventValidationBypassed
		payload["bypassReason"] = strings.TrimSpace(opts.BypassReason)
	}
	if err := c.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logger, "transition notification not delivered", "notification_failed",
			logging.String(logging.FieldErrorHint, "check ntfy topic configuration"),
			logging.String(logging.FieldImpact, "operators were not alerted"),
			logging.Error(err),
		)
	}
}

// History returns the project's ledger entries, oldest first.
func (c *Coordinator) History(ctx context.Context, projectID string) ([]project.TransitionRecord, error) {
	if _, err := c.Project(ctx, projectID); err != nil {
		return nil, err
	}
	records, err := c.ledger.History(ctx, projectID)
	if err != nil {
		return nil, newError(KindBackendFailure, err, "could not read history")
	}
	return records, nil
}

// VerifyHistory checks the project's hash chain.
func (c *Coordinator) VerifyHistory(ctx context.Context, projectID string) (ledger.Report, error) {
	if _, err := c.Project(ctx, projectID); err != nil {
		return ledger.Report{}, err
	}
	report, err := c.ledger.Verify(ctx, projectID)
	if err != nil {
		return ledger.Report{}, newError(KindBackendFailure, err, "could not read history")
	}
	return report, nil
}
