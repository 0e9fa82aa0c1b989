package api

import (
	"context"
	"strings"
	"time"

	"stagewright/internal/transition"
)

// Operations is the set of project operations offered both in-process by
// Service and over HTTP by Client.
type Operations interface {
	Workflow(ctx context.Context) (Workflow, error)
	Describe(ctx context.Context, id string) (Project, error)
	Invalidate(ctx context.Context, id string) error
	History(ctx context.Context, id string, verify bool) (HistoryResponse, error)
	Available(ctx context.Context, id string) (AvailabilityResponse, error)
	Validate(ctx context.Context, id, stage string) (ValidationResult, error)
	CanTransition(ctx context.Context, id, stage string) (CanTransitionResponse, error)
	Transition(ctx context.Context, id string, req TransitionRequest) (TransitionOutcome, error)
}

var (
	_ Operations = (*Service)(nil)
	_ Operations = (*Client)(nil)
)

// Service exposes transition operations returning API DTOs. The caller
// identity travels in ctx.
type Service struct {
	coord *transition.Coordinator
}

// NewService constructs a Service around the coordinator.
func NewService(coord *transition.Coordinator) *Service {
	if coord == nil {
		return nil
	}
	return &Service{coord: coord}
}

// Workflow returns the stage graph.
func (s *Service) Workflow(context.Context) (Workflow, error) {
	return FromWorkflow(s.coord.Graph()), nil
}

// Describe fetches a single project.
func (s *Service) Describe(ctx context.Context, id string) (Project, error) {
	p, err := s.coord.Project(ctx, id)
	if err != nil {
		return Project{}, err
	}
	return FromProject(p, s.coord.Graph(), s.coord.Phase(p.ID)), nil
}

// Invalidate drops the cached copy of a project after checking access.
func (s *Service) Invalidate(ctx context.Context, id string) error {
	if _, err := s.coord.Project(ctx, id); err != nil {
		return err
	}
	s.coord.Cache().Invalidate(id)
	return nil
}

// History returns the project's ledger, optionally with a chain check.
func (s *Service) History(ctx context.Context, id string, verify bool) (HistoryResponse, error) {
	records, err := s.coord.History(ctx, id)
	if err != nil {
		return HistoryResponse{}, err
	}
	resp := HistoryResponse{ProjectID: id, Records: FromRecords(records)}
	if verify {
		report, err := s.coord.VerifyHistory(ctx, id)
		if err != nil {
			return HistoryResponse{}, err
		}
		resp.Verification = FromReport(report)
	}
	return resp, nil
}

// Available lists reachable stages with their validation results.
func (s *Service) Available(ctx context.Context, id string) (AvailabilityResponse, error) {
	p, err := s.coord.Project(ctx, id)
	if err != nil {
		return AvailabilityResponse{}, err
	}
	items, err := s.coord.AvailableTransitions(ctx, p)
	if err != nil {
		return AvailabilityResponse{}, err
	}
	return FromAvailability(id, items), nil
}

// Validate checks a proposed move without applying it.
func (s *Service) Validate(ctx context.Context, id, stage string) (ValidationResult, error) {
	p, err := s.coord.Project(ctx, id)
	if err != nil {
		return ValidationResult{}, err
	}
	result, err := s.coord.Validate(ctx, p, stage)
	if err != nil {
		return ValidationResult{}, err
	}
	return FromResult(result), nil
}

// CanTransition answers whether the caller could move the project to stage now.
func (s *Service) CanTransition(ctx context.Context, id, stage string) (CanTransitionResponse, error) {
	p, err := s.coord.Project(ctx, id)
	if err != nil {
		return CanTransitionResponse{}, err
	}
	ok, err := s.coord.CanTransitionTo(ctx, p, stage)
	if err != nil {
		return CanTransitionResponse{}, err
	}
	return CanTransitionResponse{ProjectID: id, Stage: strings.TrimSpace(stage), Allowed: ok}, nil
}

// Transition executes the request. The outcome is returned alongside a
// failure so callers can see whether the mutation committed.
func (s *Service) Transition(ctx context.Context, id string, req TransitionRequest) (TransitionOutcome, error) {
	if req.Auto {
		if strings.TrimSpace(req.Stage) != "" {
			return TransitionOutcome{Phase: string(transition.PhaseIdle)}, &transition.Error{
				Kind:    transition.KindInvalidOptions,
				Reasons: []string{"auto advance cannot name a target stage"},
			}
		}
		p, err := s.coord.Project(ctx, id)
		if err != nil {
			return TransitionOutcome{Phase: string(transition.PhaseIdle)}, err
		}
		out, err := s.coord.AutoAdvance(ctx, p)
		return FromOutcome(out, s.coord.Graph()), err
	}
	out, err := s.coord.ExecuteByID(ctx, id, req.Stage, transition.Options{
		BypassValidation:  req.BypassValidation,
		BypassReason:      req.BypassReason,
		Reason:            req.Reason,
		EstimatedDuration: time.Duration(req.EstimatedDurationMS) * time.Millisecond,
	})
	return FromOutcome(out, s.coord.Graph()), err
}

// CachedEntries reports how many projects the read cache holds.
func (s *Service) CachedEntries() int {
	return s.coord.Cache().Len()
}
