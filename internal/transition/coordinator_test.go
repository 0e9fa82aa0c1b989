package transition_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stagewright/internal/actor"
	"stagewright/internal/cache"
	"stagewright/internal/ledger"
	"stagewright/internal/prereq"
	"stagewright/internal/project"
	"stagewright/internal/stages"
	"stagewright/internal/testsupport"
	"stagewright/internal/transition"
)

func TestScenarioAllowedTransitionRecordsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	graph := testsupport.MustGraph(t, testsupport.ScenarioWorkflow)
	prj := testsupport.NewProject(t, st, "PRJ-1", "acme", "s2")
	coord := newCoordinator(t, graph, st, prereq.From(st))
	ctx := asActor(actor.PrivilegeOperator)

	out, err := coord.Execute(ctx, prj, "s3", transition.Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Applied || !out.MutationCommitted || !out.LedgerRecorded {
		t.Fatalf("unexpected outcome %+v", out)
	}
	stored, err := st.ReadProject(context.Background(), "PRJ-1")
	if err != nil {
		t.Fatalf("ReadProject: %v", err)
	}
	if stored.CurrentStageID != "s3" {
		t.Fatalf("expected s3, got %q", stored.CurrentStageID)
	}
	history, err := coord.History(ctx, "PRJ-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(history))
	}
	rec := history[0]
	if rec.FromStageID != "s2" || rec.ToStageID != "s3" || rec.BypassReason != "" || rec.ActorID != "dana" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if coord.Phase("PRJ-1") != transition.PhaseIdle {
		t.Fatal("lock must be released after success")
	}
}

func TestScenarioUnreachableStageIsStructural(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	graph := testsupport.MustGraph(t, testsupport.ScenarioWorkflow)
	prj := testsupport.NewProject(t, st, "PRJ-1", "acme", "s2")
	coord := newCoordinator(t, graph, st, prereq.From(st))
	ctx := asActor(actor.PrivilegeAdmin)

	for _, opts := range []transition.Options{{}, {BypassValidation: true, BypassReason: "rush job"}} {
		out, err := coord.Execute(ctx, prj, "s5", opts)
		if !errors.Is(err, transition.ErrStructuralViolation) {
			t.Fatalf("expected structural violation, got %v", err)
		}
		if out.Applied || out.Phase != transition.PhaseRejected {
			t.Fatalf("unexpected outcome %+v", out)
		}
	}
	history, err := st.QueryHistory(context.Background(), "PRJ-1")
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history, got %d", len(history))
	}
	stored, _ := st.ReadProject(context.Background(), "PRJ-1")
	if stored.CurrentStageID != "s2" || stored.Version != prj.Version {
		t.Fatalf("project must be untouched, got %+v", stored)
	}
}

func TestPrerequisiteFailureReportsAllBlockers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	prj := testsupport.NewProject(t, st, "PRJ-7", "acme", "review")
	ctx := context.Background()
	if _, err := st.AddReviewItem(ctx, "PRJ-7", "bore tolerance unclear"); err != nil {
		t.Fatalf("AddReviewItem: %v", err)
	}
	coord := newCoordinator(t, stages.MustDefault(), st, prereq.From(st))

	out, err := coord.Execute(asActor(actor.PrivilegeOperator), prj, "quote", transition.Options{})
	if !errors.Is(err, transition.ErrPrerequisiteFailure) {
		t.Fatalf("expected prerequisite failure, got %v", err)
	}
	reasons := transition.Reasons(err)
	if len(reasons) != 2 {
		t.Fatalf("expected review item and missing quote, got %v", reasons)
	}
	if out.Result == nil || out.Result.Valid {
		t.Fatalf("expected invalid result on outcome, got %+v", out.Result)
	}
	stored, _ := st.ReadProject(ctx, "PRJ-7")
	if stored.CurrentStageID != "review" {
		t.Fatalf("stage changed despite failure: %q", stored.CurrentStageID)
	}
}

func TestBypassRequiresReasonRegardlessOfPrerequisites(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "s2"})
	coord := newCoordinator(t, testsupport.MustGraph(t, testsupport.ScenarioWorkflow), backend, prereq.From(noopCollaborators{}))

	_, err := coord.Execute(asActor(actor.PrivilegeAdmin), project.Project{ID: "P", Organization: "acme", CurrentStageID: "s2", Version: 1}, "s3",
		transition.Options{BypassValidation: true, BypassReason: "   "})
	if transition.KindOf(err) != transition.KindInvalidOptions {
		t.Fatalf("expected invalid options, got %v", err)
	}
	if backend.mutations != 0 {
		t.Fatal("no mutation may happen")
	}
}

func TestBypassOfApprovalGatedStageNeedsManager(t *testing.T) {
	graph := stages.MustDefault()
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "production"})
	collab := prereq.From(missingEverything{})
	coord := newCoordinator(t, graph, backend, collab)
	p, _ := backend.ReadProject(context.Background(), "P")
	opts := transition.Options{BypassValidation: true, BypassReason: "customer accepted without report"}

	if _, err := coord.Execute(asActor(actor.PrivilegeOperator), p, "completion", opts); !errors.Is(err, transition.ErrForbidden) {
		t.Fatalf("expected forbidden for operator bypass of a gated stage, got %v", err)
	}
	out, err := coord.Execute(asActor(actor.PrivilegeManager), p, "completion", opts)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Project.Status != project.StatusCompleted {
		t.Fatalf("terminal stage should complete the project, got %q", out.Project.Status)
	}
	if !out.Record.Overridden() || out.Record.BypassReason != opts.BypassReason {
		t.Fatalf("bypass not recorded: %+v", out.Record)
	}
}

func TestOperatorMayBypassUngatedStage(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "review"})
	coord := newCoordinator(t, stages.MustDefault(), backend, prereq.From(missingEverything{}))
	p, _ := backend.ReadProject(context.Background(), "P")
	ctx := asActor(actor.PrivilegeOperator)

	if _, err := coord.Execute(ctx, p, "quote", transition.Options{}); !errors.Is(err, transition.ErrPrerequisiteFailure) {
		t.Fatalf("expected prerequisite failure without bypass, got %v", err)
	}
	out, err := coord.Execute(ctx, p, "quote", transition.Options{BypassValidation: true, BypassReason: "quote sent by phone"})
	if err != nil {
		t.Fatalf("operator bypass of ungated stage: %v", err)
	}
	if out.Project.CurrentStageID != "quote" || !out.Record.Overridden() {
		t.Fatalf("unexpected outcome: project=%+v record=%+v", out.Project, out.Record)
	}
}

type missingEverything struct{ noopCollaborators }

func (missingEverything) MissingDocuments(_ context.Context, _ string, kinds ...string) ([]string, error) {
	return kinds, nil
}

func TestApprovalGatedStageAllowsPassingOperator(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "quote"})
	coord := newCoordinator(t, stages.MustDefault(), backend, prereq.From(noopCollaborators{}))
	p, _ := backend.ReadProject(context.Background(), "P")
	ctx := asActor(actor.PrivilegeOperator)

	result, err := coord.Validate(ctx, p, "confirmation")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid || !result.RequiresManagerApproval {
		t.Fatalf("expected a valid, approval-gated result, got %+v", result)
	}
	ok, err := coord.CanTransitionTo(ctx, p, "confirmation")
	if err != nil || !ok {
		t.Fatalf("CanTransitionTo should agree with Validate: ok=%v err=%v", ok, err)
	}
	out, err := coord.Execute(ctx, p, "confirmation", transition.Options{})
	if err != nil {
		t.Fatalf("operator Execute with passing prerequisites: %v", err)
	}
	if out.Project.CurrentStageID != "confirmation" || out.Record.Overridden() {
		t.Fatalf("unexpected outcome: project=%+v record=%+v", out.Project, out.Record)
	}
}

func TestSecondCallWhileInFlightIsConflict(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "s3"})
	backend.block = make(chan struct{})
	backend.entered = make(chan struct{}, 1)
	coord := newCoordinator(t, testsupport.MustGraph(t, testsupport.ScenarioWorkflow), backend, prereq.From(noopCollaborators{}))
	p, _ := backend.ReadProject(context.Background(), "P")
	ctx := asActor(actor.PrivilegeOperator)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = coord.Execute(ctx, p, "s4", transition.Options{})
	}()
	<-backend.entered
	if phase := coord.Phase("P"); phase != transition.PhaseMutating {
		t.Fatalf("expected mutating phase, got %s", phase)
	}
	_, err := coord.Execute(ctx, p, "s2", transition.Options{})
	if !errors.Is(err, transition.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	close(backend.block)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first Execute: %v", firstErr)
	}
	stored, _ := backend.ReadProject(context.Background(), "P")
	if stored.CurrentStageID != "s4" || backend.mutations != 1 {
		t.Fatalf("expected exactly one mutation to s4, got %q after %d", stored.CurrentStageID, backend.mutations)
	}
}

func TestStaleProjectIsConflictAndInvalidatesCache(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "s2"})
	coord := newCoordinator(t, testsupport.MustGraph(t, testsupport.ScenarioWorkflow), backend, prereq.From(noopCollaborators{}))
	ctx := asActor(actor.PrivilegeOperator)
	stale, err := coord.Project(ctx, "P")
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if _, err := coord.Execute(ctx, stale, "s3", transition.Options{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	_, err = coord.Execute(ctx, stale, "s3", transition.Options{})
	if !errors.Is(err, transition.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict from stale version, got %v", err)
	}
	if coord.Cache().IsValid("P") {
		t.Fatal("conflict should invalidate the cached entry")
	}
}

func TestMutationTimeoutIsBackendFailure(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "s1"})
	backend.block = make(chan struct{})
	defer close(backend.block)
	graph := testsupport.MustGraph(t, testsupport.ScenarioWorkflow)
	coord := newCoordinator(t, graph, backend, prereq.From(noopCollaborators{}), transition.WithMutationTimeout(20*time.Millisecond))
	p, _ := backend.ReadProject(context.Background(), "P")

	out, err := coord.Execute(asActor(actor.PrivilegeOperator), p, "s2", transition.Options{})
	if !errors.Is(err, transition.ErrBackendFailure) {
		t.Fatalf("expected backend failure, got %v", err)
	}
	if out.Applied || out.MutationCommitted || out.Phase != transition.PhaseMutationFailed {
		t.Fatalf("timeout must never look like success: %+v", out)
	}
	if len(backend.historyFor("P")) != 0 {
		t.Fatal("no ledger entry after a failed mutation")
	}
	if got, ok := coord.Cache().GetProvisional("P"); ok && got.CurrentStageID == "s2" {
		t.Fatal("provisional value must be rolled back")
	}
}

func TestLedgerFailureDoesNotUndoTransition(t *testing.T) {
	mem := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "s1"})
	backend := failingHistory{mem}
	coord := newCoordinator(t, testsupport.MustGraph(t, testsupport.ScenarioWorkflow), backend, prereq.From(noopCollaborators{}))
	p, _ := mem.ReadProject(context.Background(), "P")

	out, err := coord.Execute(asActor(actor.PrivilegeOperator), p, "s2", transition.Options{})
	if err != nil {
		t.Fatalf("ledger failures are not call errors: %v", err)
	}
	if !out.Applied || !out.MutationCommitted || out.LedgerRecorded {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !errors.Is(out.LedgerErr, transition.ErrLedgerWrite) || !errors.Is(out.LedgerErr, ledger.ErrLedgerWrite) {
		t.Fatalf("expected ledger error on outcome, got %v", out.LedgerErr)
	}
	if transition.KindOf(out.LedgerErr) != transition.KindLedgerWriteFailure {
		t.Fatalf("unexpected kind %q", transition.KindOf(out.LedgerErr))
	}
}

func TestSuccessUpdatesCacheWithoutRefetch(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "s1"})
	counting := &countingBackend{memBackend: backend}
	graph := testsupport.MustGraph(t, testsupport.ScenarioWorkflow)
	checker, _ := prereq.NewChecker(graph, prereq.From(noopCollaborators{}))
	c := cache.New(counting)
	coord, err := transition.New(transition.Deps{Graph: graph, Backend: counting, Checker: checker, Cache: c})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := asActor(actor.PrivilegeOperator)
	p, err := coord.Project(ctx, "P")
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if _, err := coord.Execute(ctx, p, "s2", transition.Options{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	cached, ok := c.Get("P")
	if !ok || cached.CurrentStageID != "s2" {
		t.Fatalf("expected cached s2, got %+v ok=%v", cached, ok)
	}
	if counting.reads != 1 {
		t.Fatalf("expected a single read, got %d", counting.reads)
	}
}

type countingBackend struct {
	*memBackend
	mu    sync.Mutex
	reads int
}

func (c *countingBackend) ReadProject(ctx context.Context, id string) (project.Project, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.memBackend.ReadProject(ctx, id)
}

func TestStageEnteredAtNeverMovesBackwards(t *testing.T) {
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "s1", StageEnteredAt: future})
	coord := newCoordinator(t, testsupport.MustGraph(t, testsupport.ScenarioWorkflow), backend, prereq.From(noopCollaborators{}),
		transition.WithClock(fixedClock(future.Add(-time.Hour))))
	p, _ := backend.ReadProject(context.Background(), "P")
	out, err := coord.Execute(asActor(actor.PrivilegeOperator), p, "s2", transition.Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Project.StageEnteredAt.Before(future) {
		t.Fatalf("stage entry time went backwards: %v", out.Project.StageEnteredAt)
	}
}

func TestActorScopeIsEnforced(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "globex", CurrentStageID: "s1"})
	coord := newCoordinator(t, testsupport.MustGraph(t, testsupport.ScenarioWorkflow), backend, prereq.From(noopCollaborators{}))
	p, _ := backend.ReadProject(context.Background(), "P")

	if _, err := coord.Execute(context.Background(), p, "s2", transition.Options{}); !errors.Is(err, transition.ErrForbidden) {
		t.Fatalf("missing actor should be forbidden, got %v", err)
	}
	if _, err := coord.Execute(asActor(actor.PrivilegeAdmin), p, "s2", transition.Options{}); !errors.Is(err, transition.ErrForbidden) {
		t.Fatalf("other organization should be forbidden, got %v", err)
	}
	viewer := actor.WithActor(context.Background(), actor.Actor{ID: "v", Organization: "globex", Privilege: actor.PrivilegeViewer})
	if _, err := coord.Execute(viewer, p, "s2", transition.Options{}); !errors.Is(err, transition.ErrForbidden) {
		t.Fatalf("viewer should be forbidden, got %v", err)
	}
	if _, err := coord.Validate(viewer, p, "s2"); err != nil {
		t.Fatalf("viewer may validate: %v", err)
	}
}

func TestCancelledProjectCannotMove(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "s1", Status: project.StatusCancelled})
	coord := newCoordinator(t, testsupport.MustGraph(t, testsupport.ScenarioWorkflow), backend, prereq.From(noopCollaborators{}))
	p, _ := backend.ReadProject(context.Background(), "P")
	if _, err := coord.Execute(asActor(actor.PrivilegeAdmin), p, "s2", transition.Options{BypassValidation: true, BypassReason: "x"}); !errors.Is(err, transition.ErrStructuralViolation) {
		t.Fatalf("expected structural violation, got %v", err)
	}
	avail, err := coord.AvailableTransitions(asActor(actor.PrivilegeAdmin), p)
	if err != nil || len(avail) != 0 {
		t.Fatalf("cancelled projects have no transitions: %v %v", avail, err)
	}
}

func TestFirstTransitionUsesEntryStages(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme"})
	coord := newCoordinator(t, testsupport.MustGraph(t, testsupport.ScenarioWorkflow), backend, prereq.From(noopCollaborators{}))
	p, _ := backend.ReadProject(context.Background(), "P")
	ctx := asActor(actor.PrivilegeOperator)

	avail, err := coord.AvailableTransitions(ctx, p)
	if err != nil {
		t.Fatalf("AvailableTransitions: %v", err)
	}
	if len(avail) != 1 || avail[0].Stage.ID != "s1" || !avail[0].Result.Valid {
		t.Fatalf("unexpected availability %+v", avail)
	}
	if _, err := coord.Execute(ctx, p, "s2", transition.Options{}); !errors.Is(err, transition.ErrStructuralViolation) {
		t.Fatalf("non-entry first stage should be structural, got %v", err)
	}
	out, err := coord.Execute(ctx, p, "s1", transition.Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Record.FromStageID != "" || out.Record.Sequence != 1 {
		t.Fatalf("unexpected first record %+v", out.Record)
	}
}

func TestAutoAdvance(t *testing.T) {
	backend := newMemBackend(project.Project{
		ID: "P", Organization: "acme", CurrentStageID: "inquiry",
		Metadata: map[string]string{prereq.MetadataCustomer: "Initech"},
	})
	coord := newCoordinator(t, stages.MustDefault(), backend, prereq.From(noopCollaborators{}))
	system := actor.WithActor(context.Background(), actor.Actor{ID: "autoadvance", Organization: "acme", Privilege: actor.PrivilegeSystem})

	p, _ := backend.ReadProject(context.Background(), "P")
	out, err := coord.AutoAdvance(system, p)
	if err != nil {
		t.Fatalf("AutoAdvance: %v", err)
	}
	if out.Project.CurrentStageID != "review" {
		t.Fatalf("expected review, got %q", out.Project.CurrentStageID)
	}

	p, _ = backend.ReadProject(context.Background(), "P")
	p.CurrentStageID = "production"
	p.Metadata[prereq.MetadataMaterialsConfirmed] = "true"
	backend.projects["P"] = p
	if _, err := coord.AutoAdvance(system, p); !errors.Is(err, transition.ErrPrerequisiteFailure) {
		t.Fatalf("approval-gated completion must not auto advance, got %v", err)
	}
}

func TestVerifyHistoryThroughCoordinator(t *testing.T) {
	backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: "s1"})
	coord := newCoordinator(t, testsupport.MustGraph(t, testsupport.ScenarioWorkflow), backend, prereq.From(noopCollaborators{}))
	ctx := asActor(actor.PrivilegeOperator)
	for _, target := range []string{"s2", "s3", "s2"} {
		if _, err := coord.ExecuteByID(ctx, "P", target, transition.Options{Reason: "step"}); err != nil {
			t.Fatalf("ExecuteByID %s: %v", target, err)
		}
	}
	report, err := coord.VerifyHistory(ctx, "P")
	if err != nil {
		t.Fatalf("VerifyHistory: %v", err)
	}
	if !report.Intact || report.Records != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, err := coord.ExecuteByID(ctx, "missing", "s1", transition.Options{}); !errors.Is(err, transition.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
