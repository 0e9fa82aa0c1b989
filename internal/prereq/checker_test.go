package prereq_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stagewright/internal/prereq"
	"stagewright/internal/project"
	"stagewright/internal/stages"
)

type fakeCollaborators struct {
	missing   map[string]bool
	open      []project.ReviewItem
	rfq       project.RFQSummary
	docErr    error
	supplyErr error
	calls     []string
}

func (f *fakeCollaborators) MissingDocuments(_ context.Context, _ string, kinds ...string) ([]string, error) {
	f.calls = append(f.calls, "documents:"+strings.Join(kinds, ","))
	if f.docErr != nil {
		return nil, f.docErr
	}
	var out []string
	for _, kind := range kinds {
		if f.missing[kind] {
			out = append(out, kind)
		}
	}
	return out, nil
}

func (f *fakeCollaborators) OpenReviewItems(context.Context, string) ([]project.ReviewItem, error) {
	f.calls = append(f.calls, "reviews")
	return f.open, nil
}

func (f *fakeCollaborators) RFQSummary(context.Context, string) (project.RFQSummary, error) {
	f.calls = append(f.calls, "suppliers")
	if f.supplyErr != nil {
		return project.RFQSummary{}, f.supplyErr
	}
	return f.rfq, nil
}

func newChecker(t *testing.T, fake *fakeCollaborators) (*prereq.Checker, *stages.Graph) {
	t.Helper()
	graph := stages.MustDefault()
	checker, err := prereq.NewChecker(graph, prereq.From(fake))
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	return checker, graph
}

func mustStage(t *testing.T, g *stages.Graph, id string) stages.Stage {
	t.Helper()
	stg, err := g.Stage(id)
	if err != nil {
		t.Fatalf("Stage(%q): %v", id, err)
	}
	return stg
}

func TestCheckReportsEveryFailureWithoutShortCircuit(t *testing.T) {
	fake := &fakeCollaborators{
		missing: map[string]bool{project.DocumentQuote: true},
		open:    []project.ReviewItem{{ID: 1, Summary: "tolerance on flange"}},
		rfq:     project.RFQSummary{Sent: 3, Responded: 1},
	}
	checker, graph := newChecker(t, fake)
	review := mustStage(t, graph, "review")
	p := project.Project{ID: "PRJ-1", Organization: "acme", CurrentStageID: "review", Status: project.StatusOnHold}

	result, err := checker.Check(context.Background(), p, mustStage(t, graph, "quote"), &review)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Valid {
		t.Fatal("expected invalid result")
	}
	if len(result.Errors) != 3 {
		t.Fatalf("expected 3 errors (hold, review, quote), got %v", result.Errors)
	}
	if result.Errors[0] != "project is on hold" {
		t.Fatalf("expected global rule first, got %q", result.Errors[0])
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "2 of 3") {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
	if len(result.Findings) != 4 {
		t.Fatalf("expected 4 findings, got %d", len(result.Findings))
	}
	order := []string{prereq.RuleProjectActive, prereq.RuleReviewItemsClosed, prereq.RuleSupplierQuotesReceived, prereq.RuleQuoteDocument}
	for i, f := range result.Findings {
		if f.Rule != order[i] {
			t.Fatalf("finding %d: expected %s, got %s", i, order[i], f.Rule)
		}
	}
	if result.CanAutoAdvance {
		t.Fatal("invalid results never auto advance")
	}
}

func TestCheckWarningsDoNotInvalidate(t *testing.T) {
	fake := &fakeCollaborators{}
	checker, graph := newChecker(t, fake)
	p := project.Project{
		ID:       "PRJ-2",
		Status:   project.StatusActive,
		Priority: project.PriorityNone,
		Metadata: map[string]string{prereq.MetadataCustomer: "Globex"},
	}
	result, err := checker.Check(context.Background(), p, mustStage(t, graph, "inquiry"), nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Valid || !result.CanAutoAdvance {
		t.Fatalf("expected valid auto-advanceable result, got %+v", result)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected priority warning, got %v", result.Warnings)
	}
}

func TestApprovalGatedRuleFlagsEvenWhenPassing(t *testing.T) {
	fake := &fakeCollaborators{}
	checker, graph := newChecker(t, fake)
	confirmation := mustStage(t, graph, "confirmation")
	quote := mustStage(t, graph, "quote")
	p := project.Project{ID: "PRJ-3", Status: project.StatusActive}

	result, err := checker.Check(context.Background(), p, confirmation, &quote)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Valid || !result.RequiresManagerApproval {
		t.Fatalf("expected valid approval-gated result, got %+v", result)
	}
	if !checker.RequiresApproval(confirmation) {
		t.Fatal("RequiresApproval should report the gated rule")
	}
	if checker.RequiresApproval(mustStage(t, graph, "review")) {
		t.Fatal("review has no approval-gated rule")
	}
}

func TestManualConfirmationBlocksAutoAdvance(t *testing.T) {
	fake := &fakeCollaborators{}
	checker, graph := newChecker(t, fake)
	p := project.Project{
		ID:       "PRJ-4",
		Status:   project.StatusActive,
		Metadata: map[string]string{prereq.MetadataMaterialsConfirmed: "true"},
	}
	result, err := checker.Check(context.Background(), p, mustStage(t, graph, "production"), nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result, got %v", result.Errors)
	}
	if result.CanAutoAdvance {
		t.Fatal("manual confirmation rule must block auto advance")
	}
}

func TestCollaboratorFailureStillRunsRemainingRules(t *testing.T) {
	boom := errors.New("supplier service down")
	fake := &fakeCollaborators{
		supplyErr: boom,
		missing:   map[string]bool{project.DocumentQuote: true},
	}
	checker, graph := newChecker(t, fake)
	p := project.Project{ID: "PRJ-5", Status: project.StatusActive}

	result, err := checker.Check(context.Background(), p, mustStage(t, graph, "quote"), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
	if result.Valid {
		t.Fatal("a rule that could not run must not pass")
	}
	if got := fake.calls[len(fake.calls)-1]; got != "documents:quote" {
		t.Fatalf("expected later rules to run, last call %q", got)
	}
}

func TestMissingCollaboratorIsAnError(t *testing.T) {
	checker, err := prereq.NewChecker(stages.MustDefault(), prereq.Collaborators{})
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	graph := stages.MustDefault()
	_, err = checker.Check(context.Background(), project.Project{ID: "x"}, mustStage(t, graph, "review"), nil)
	if !errors.Is(err, prereq.ErrCollaboratorUnavailable) {
		t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
	}
}

func TestNewCheckerRejectsUnknownRule(t *testing.T) {
	graph, err := stages.Parse([]byte(`
stages:
  - id: a
    entry: true
    next: [b]
  - id: b
    prerequisites: [telepathy]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := prereq.NewChecker(graph, prereq.Collaborators{}); err == nil || !strings.Contains(err.Error(), "telepathy") {
		t.Fatalf("expected unknown rule error, got %v", err)
	}
}

func TestWithRulesRegistersCustomRule(t *testing.T) {
	graph, err := stages.Parse([]byte(`
stages:
  - id: a
    entry: true
    next: [b]
  - id: b
    prerequisites: [always_warn]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	custom := prereq.Rule{
		ID: "always_warn",
		Evaluate: func(context.Context, prereq.Input, prereq.Collaborators) (prereq.Verdict, error) {
			return prereq.Warn("heads up"), nil
		},
	}
	checker, err := prereq.NewChecker(graph, prereq.Collaborators{}, prereq.WithRules(custom))
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	result, err := checker.Check(context.Background(), project.Project{ID: "x", Status: project.StatusActive}, mustStage(t, graph, "b"), nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Valid || len(result.Warnings) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}
