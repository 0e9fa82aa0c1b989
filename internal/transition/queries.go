package transition

import (
	"context"
	"strings"

	"stagewright/internal/actor"
	"stagewright/internal/prereq"
	"stagewright/internal/project"
	"stagewright/internal/stages"
)

// Validate runs the structural and prerequisite checks for moving p to
// targetStageID without changing anything. Structural problems are returned
// as a *Error; a failed prerequisite check is reported in the Result.
func (c *Coordinator) Validate(ctx context.Context, p project.Project, targetStageID string) (prereq.Result, error) {
	if _, err := c.authorize(ctx, p, false); err != nil {
		return prereq.Result{}, err
	}
	target, current, serr := c.structural(p, strings.TrimSpace(targetStageID))
	if serr != nil {
		return prereq.Result{}, serr
	}
	result, err := c.checker.Check(ctx, p, target, current)
	if err != nil {
		return result, newError(KindBackendFailure, err, "prerequisite lookup failed")
	}
	return result, nil
}

// Availability is one reachable stage and whether it can be entered now.
type Availability struct {
	Stage  stages.Stage
	Result prereq.Result
}

// AvailableTransitions lists the stages reachable from p's current stage with
// their validation results. Cancelled projects have none.
func (c *Coordinator) AvailableTransitions(ctx context.Context, p project.Project) ([]Availability, error) {
	if _, err := c.authorize(ctx, p, false); err != nil {
		return nil, err
	}
	if p.Status == project.StatusCancelled {
		return nil, nil
	}
	next, err := c.graph.AllowedTransitions(p.CurrentStageID)
	if err != nil {
		return nil, newError(KindStructuralViolation, err, reasonf("current stage %q is not part of the workflow", p.CurrentStageID))
	}
	var current *stages.Stage
	if p.HasStage() {
		stg, _ := c.graph.Stage(p.CurrentStageID)
		current = &stg
	}
	out := make([]Availability, 0, len(next))
	for _, stg := range next {
		result, err := c.checker.Check(ctx, p, stg, current)
		if err != nil {
			return nil, newError(KindBackendFailure, err, "prerequisite lookup failed")
		}
		out = append(out, Availability{Stage: stg, Result: result})
	}
	return out, nil
}

// CanTransitionTo reports whether Execute without a bypass would pass
// validation. Only backend and authorization failures are returned as errors.
func (c *Coordinator) CanTransitionTo(ctx context.Context, p project.Project, targetStageID string) (bool, error) {
	result, err := c.Validate(ctx, p, targetStageID)
	if err != nil {
		if KindOf(err) == KindStructuralViolation {
			return false, nil
		}
		return false, err
	}
	return result.Valid, nil
}

// AutoAdvance moves p to its next stage by order when every rule passes and
// none requires manual confirmation. Approval-gated stages are never entered
// automatically.
func (c *Coordinator) AutoAdvance(ctx context.Context, p project.Project) (Outcome, error) {
	next, ok := c.graph.NextByOrder(p.CurrentStageID)
	if !ok {
		return Outcome{Phase: PhaseIdle}, newError(KindStructuralViolation, nil, reasonf("%s has no forward stage", p.ID))
	}
	result, err := c.Validate(ctx, p, next.ID)
	if err != nil {
		return Outcome{Phase: PhaseIdle}, err
	}
	if !result.CanAutoAdvance || result.RequiresManagerApproval {
		reasons := append([]string(nil), result.Errors...)
		if result.Valid && !result.CanAutoAdvance {
			reasons = append(reasons, reasonf("entering %s requires manual confirmation", next.ID))
		}
		if result.Valid && result.RequiresManagerApproval {
			reasons = append(reasons, reasonf("%s is approval-gated and must be entered explicitly", next.ID))
		}
		return Outcome{Phase: PhaseIdle, Result: &result}, newError(KindPrerequisiteFailure, nil, reasons...)
	}
	who, _ := actor.FromContext(ctx)
	return c.Execute(ctx, p, next.ID, Options{Reason: "automatic advance by " + who.ID})
}
