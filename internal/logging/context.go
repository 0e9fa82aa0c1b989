package logging

import (
	"context"
	"log/slog"

	"stagewright/internal/actor"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldProjectID is the standardized structured logging key for project identifiers.
	FieldProjectID = "project_id"
	// FieldStage is the standardized structured logging key for a project's current stage.
	FieldStage = "stage"
	// FieldTargetStage is the standardized structured logging key for a transition target.
	FieldTargetStage = "target_stage"
	// FieldActorID is the standardized structured logging key for the acting user.
	FieldActorID = "actor_id"
	// FieldOrganization is the standardized structured logging key for organization scope.
	FieldOrganization = "organization"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies WARN/ERROR records for alerting.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := actor.ProjectFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldProjectID, id))
	}
	if stage, ok := actor.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if a, ok := actor.FromContext(ctx); ok {
		if a.ID != "" {
			fields = append(fields, slog.String(FieldActorID, a.ID))
		}
		if a.Organization != "" {
			fields = append(fields, slog.String(FieldOrganization, a.Organization))
		}
	}
	if rid, ok := actor.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
