package api

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"stagewright/internal/ledger"
	"stagewright/internal/prereq"
	"stagewright/internal/project"
	"stagewright/internal/stages"
	"stagewright/internal/transition"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return slices.Clone(values)
}

// FromProject converts a project to its API representation. The stage name is
// resolved from graph when it knows the stage.
func FromProject(p project.Project, graph *stages.Graph, phase transition.Phase) Project {
	dto := Project{
		ID:             p.ID,
		Organization:   p.Organization,
		CurrentStage:   p.CurrentStageID,
		Status:         string(p.Status),
		Priority:       string(p.Priority),
		StageEnteredAt: formatTime(p.StageEnteredAt),
		Tags:           nonNil(p.Tags),
		Version:        p.Version,
		CreatedAt:      formatTime(p.CreatedAt),
		UpdatedAt:      formatTime(p.UpdatedAt),
		Phase:          string(phase),
	}
	if dto.Phase == "" {
		dto.Phase = string(transition.PhaseIdle)
	}
	if len(p.Metadata) > 0 {
		dto.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			dto.Metadata[k] = v
		}
	}
	if graph != nil && p.HasStage() {
		if stg, err := graph.Stage(p.CurrentStageID); err == nil {
			dto.StageName = stg.Name
		}
	}
	return dto
}

// FromStage converts a workflow stage.
func FromStage(s stages.Stage) Stage {
	return Stage{
		ID:            s.ID,
		Name:          s.Name,
		Order:         s.Order,
		Entry:         s.Entry,
		Terminal:      s.Terminal(),
		AllowedNext:   nonNil(s.AllowedNext),
		Prerequisites: nonNil(s.Prerequisites),
	}
}

// FromWorkflow converts the whole graph, stages in order.
func FromWorkflow(g *stages.Graph) Workflow {
	if g == nil {
		return Workflow{Stages: []Stage{}}
	}
	all := g.Stages()
	out := Workflow{ID: g.ID(), Name: g.Name(), Stages: make([]Stage, 0, len(all))}
	for _, s := range all {
		out.Stages = append(out.Stages, FromStage(s))
	}
	return out
}

// FromResult converts a prerequisite result.
func FromResult(r prereq.Result) ValidationResult {
	dto := ValidationResult{
		Valid:                   r.Valid,
		Errors:                  nonNil(r.Errors),
		Warnings:                nonNil(r.Warnings),
		CanAutoAdvance:          r.CanAutoAdvance,
		RequiresManagerApproval: r.RequiresManagerApproval,
	}
	for _, f := range r.Findings {
		dto.Findings = append(dto.Findings, Finding{
			Rule:               f.Rule,
			Passed:             f.Passed,
			Errors:             slices.Clone(f.Errors),
			Warnings:           slices.Clone(f.Warnings),
			ApprovalGated:      f.ApprovalGated,
			ManualConfirmation: f.ManualConfirmation,
		})
	}
	return dto
}

// FromAvailability converts reachable stages and their results.
func FromAvailability(projectID string, items []transition.Availability) AvailabilityResponse {
	out := AvailabilityResponse{ProjectID: projectID, Transitions: make([]Availability, 0, len(items))}
	for _, item := range items {
		out.Transitions = append(out.Transitions, Availability{
			Stage:  FromStage(item.Stage),
			Result: FromResult(item.Result),
		})
	}
	return out
}

// FromRecord converts a ledger entry.
func FromRecord(r project.TransitionRecord) TransitionRecord {
	return TransitionRecord{
		ID:                  r.ID,
		ProjectID:           r.ProjectID,
		Sequence:            r.Sequence,
		FromStage:           r.FromStageID,
		ToStage:             r.ToStageID,
		ActorID:             r.ActorID,
		Reason:              r.Reason,
		BypassReason:        r.BypassReason,
		Overridden:          r.Overridden(),
		EstimatedDurationMS: r.EstimatedDuration.Milliseconds(),
		Timestamp:           formatTime(r.Timestamp),
		PrevHash:            r.PrevHash,
		Hash:                r.Hash,
	}
}

// FromRecords converts a slice of ledger entries.
func FromRecords(records []project.TransitionRecord) []TransitionRecord {
	out := make([]TransitionRecord, 0, len(records))
	for _, r := range records {
		out = append(out, FromRecord(r))
	}
	return out
}

// FromReport converts a hash-chain verification report.
func FromReport(r ledger.Report) *Verification {
	return &Verification{Intact: r.Intact, Records: r.Records, BrokenAt: r.BrokenAt, Problem: r.Problem}
}

// FromOutcome converts a transition outcome.
func FromOutcome(o transition.Outcome, graph *stages.Graph) TransitionOutcome {
	dto := TransitionOutcome{
		Applied:           o.Applied,
		MutationCommitted: o.MutationCommitted,
		LedgerRecorded:    o.LedgerRecorded,
		Phase:             string(o.Phase),
	}
	if o.MutationCommitted {
		p := FromProject(o.Project, graph, transition.PhaseIdle)
		dto.Project = &p
	}
	if o.LedgerRecorded {
		rec := FromRecord(o.Record)
		dto.Record = &rec
	}
	if o.Result != nil {
		res := FromResult(*o.Result)
		dto.Result = &res
	}
	if o.LedgerErr != nil {
		e := FromError(o.LedgerErr)
		dto.LedgerError = &e
	}
	return dto
}

// FromError converts a failure to its structured form. Errors that did not
// come from the transition engine are reported as backend failures.
func FromError(err error) Error {
	if err == nil {
		return Error{}
	}
	var te *transition.Error
	if errors.As(err, &te) {
		return Error{
			Kind:              string(te.Kind),
			Message:           te.Error(),
			Reasons:           slices.Clone(te.Reasons),
			MutationCommitted: te.MutationCommitted,
			LedgerRecorded:    te.LedgerRecorded,
		}
	}
	return Error{Kind: string(transition.KindBackendFailure), Message: err.Error()}
}

var kindStatus = map[transition.Kind]int{
	transition.KindInvalidOptions:      http.StatusBadRequest,
	transition.KindForbidden:           http.StatusForbidden,
	transition.KindNotFound:            http.StatusNotFound,
	transition.KindStructuralViolation: http.StatusConflict,
	transition.KindConcurrencyConflict: http.StatusConflict,
	transition.KindPrerequisiteFailure: http.StatusUnprocessableEntity,
	transition.KindBackendFailure:      http.StatusServiceUnavailable,
	transition.KindLedgerWriteFailure:  http.StatusInternalServerError,
}

// StatusCode maps an error to the HTTP status the API answers with.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if code, ok := kindStatus[transition.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}
