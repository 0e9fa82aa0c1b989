package transition_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"stagewright/internal/actor"
	"stagewright/internal/prereq"
	"stagewright/internal/project"
	"stagewright/internal/stages"
	"stagewright/internal/transition"
)

var gateRule = prereq.Rule{
	ID: "gate",
	Evaluate: func(_ context.Context, in prereq.Input, _ prereq.Collaborators) (prereq.Verdict, error) {
		if in.Project.MetadataValue("blocked") == "true" {
			return prereq.Fail("gate closed"), nil
		}
		return prereq.Pass(), nil
	},
}

func drawGraph(rt *rapid.T) *stages.Graph {
	n := rapid.IntRange(2, 7).Draw(rt, "stages")
	def := stages.Definition{ID: "random"}
	for i := 0; i < n; i++ {
		sd := stages.StageDefinition{ID: fmt.Sprintf("s%d", i), Order: i + 1, Entry: i == 0}
		for j := 0; j < n; j++ {
			if j != i && rapid.Bool().Draw(rt, fmt.Sprintf("edge_%d_%d", i, j)) {
				sd.Next = append(sd.Next, fmt.Sprintf("s%d", j))
			}
		}
		if rapid.Bool().Draw(rt, fmt.Sprintf("gated_%d", i)) {
			sd.Prerequisites = []string{"gate"}
		}
		def.Stages = append(def.Stages, sd)
	}
	g, err := stages.New(def)
	if err != nil {
		rt.Fatalf("stages.New: %v", err)
	}
	return g
}

func propertyCoordinator(rt *rapid.T, g *stages.Graph, backend transition.Backend) *transition.Coordinator {
	checker, err := prereq.NewChecker(g, prereq.Collaborators{}, prereq.WithRules(gateRule))
	if err != nil {
		rt.Fatalf("NewChecker: %v", err)
	}
	coord, err := transition.New(transition.Deps{Graph: g, Backend: backend, Checker: checker})
	if err != nil {
		rt.Fatalf("New: %v", err)
	}
	return coord
}

func TestPropertyTransitionOutcomes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := drawGraph(rt)
		all := g.Stages()
		current := rapid.SampledFrom(all).Draw(rt, "current")
		target := rapid.SampledFrom(all).Draw(rt, "target")
		blocked := rapid.Bool().Draw(rt, "blocked")
		bypass := rapid.Bool().Draw(rt, "bypass")
		reason := rapid.SampledFrom([]string{"", "  ", "rush order"}).Draw(rt, "bypass_reason")
		entered := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		backend := newMemBackend(project.Project{
			ID: "P", Organization: "acme", CurrentStageID: current.ID, StageEnteredAt: entered,
			Metadata: map[string]string{"blocked": fmt.Sprint(blocked)},
		})
		coord := propertyCoordinator(rt, g, backend)
		before, _ := backend.ReadProject(context.Background(), "P")

		out, err := coord.Execute(asActor(actor.PrivilegeAdmin), before, target.ID,
			transition.Options{BypassValidation: bypass, BypassReason: reason})
		after, _ := backend.ReadProject(context.Background(), "P")
		history := backend.historyFor("P")

		bypassOK := bypass && reason == "rush order"
		gateFails := blocked && len(target.Prerequisites) > 0
		switch {
		case bypass && !bypassOK:
			if transition.KindOf(err) != transition.KindInvalidOptions {
				rt.Fatalf("bypass without reason: expected invalid options, got %v", err)
			}
		case !current.Allows(target.ID):
			if !errors.Is(err, transition.ErrStructuralViolation) {
				rt.Fatalf("unreachable target: expected structural violation, got %v", err)
			}
		case !bypassOK && gateFails:
			if !errors.Is(err, transition.ErrPrerequisiteFailure) {
				rt.Fatalf("failing gate: expected prerequisite failure, got %v", err)
			}
			if len(transition.Reasons(err)) == 0 {
				rt.Fatal("prerequisite failures carry reasons")
			}
		default:
			if err != nil {
				rt.Fatalf("expected success, got %v", err)
			}
			if after.CurrentStageID != target.ID || after.StageEnteredAt.Before(before.StageEnteredAt) {
				rt.Fatalf("unexpected project after success: %+v", after)
			}
			if len(history) != 1 || history[0].ToStageID != target.ID {
				rt.Fatalf("expected exactly one record to %s, got %+v", target.ID, history)
			}
			if bypassOK != history[0].Overridden() {
				rt.Fatalf("override flag mismatch: %+v", history[0])
			}
			return
		}
		if out.Applied || after.CurrentStageID != before.CurrentStageID || backend.mutations != 0 || len(history) != 0 {
			rt.Fatalf("rejected transition left side effects: out=%+v project=%+v history=%d", out, after, len(history))
		}
	})
}

func TestPropertyConcurrentTransitionsApplyOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := drawGraph(rt)
		var candidates []stages.Stage
		for _, stg := range g.Stages() {
			if len(stg.AllowedNext) > 0 {
				candidates = append(candidates, stg)
			}
		}
		if len(candidates) == 0 {
			rt.Skip("graph without edges")
		}
		current := rapid.SampledFrom(candidates).Draw(rt, "current")
		targetA := rapid.SampledFrom(current.AllowedNext).Draw(rt, "target_a")
		targetB := rapid.SampledFrom(current.AllowedNext).Draw(rt, "target_b")

		backend := newMemBackend(project.Project{ID: "P", Organization: "acme", CurrentStageID: current.ID})
		coord := propertyCoordinator(rt, g, backend)
		snapshot, _ := backend.ReadProject(context.Background(), "P")
		ctx := asActor(actor.PrivilegeOperator)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, target := range []string{targetA, targetB} {
			wg.Add(1)
			go func(i int, target string) {
				defer wg.Done()
				_, errs[i] = coord.Execute(ctx, snapshot, target, transition.Options{})
			}(i, target)
		}
		wg.Wait()

		applied := 0
		for _, err := range errs {
			switch {
			case err == nil:
				applied++
			case errors.Is(err, transition.ErrConcurrencyConflict):
			default:
				rt.Fatalf("unexpected error %v", err)
			}
		}
		if applied != 1 || backend.mutations != 1 {
			rt.Fatalf("expected exactly one applied transition, got %d (mutations %d)", applied, backend.mutations)
		}
		after, _ := backend.ReadProject(context.Background(), "P")
		if after.CurrentStageID != targetA && after.CurrentStageID != targetB {
			rt.Fatalf("project shows %q which no call targeted", after.CurrentStageID)
		}
		if len(backend.historyFor("P")) != 1 {
			rt.Fatalf("expected one history record, got %d", len(backend.historyFor("P")))
		}
	})
}
