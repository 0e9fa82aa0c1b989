package actor

import (
	"context"
	"strings"
)

// Privilege ranks what an actor may do to a project.
type Privilege string

const (
	PrivilegeViewer   Privilege = "viewer"
	PrivilegeOperator Privilege = "operator"
	PrivilegeManager  Privilege = "manager"
	PrivilegeAdmin    Privilege = "admin"
	// PrivilegeSystem identifies automation jobs (auto-advance, reconciliation).
	PrivilegeSystem Privilege = "system"
)

var privilegeRank = map[Privilege]int{
	PrivilegeViewer:   0,
	PrivilegeOperator: 1,
	PrivilegeManager:  2,
	PrivilegeAdmin:    3,
	PrivilegeSystem:   3,
}

// ParsePrivilege converts a string into a known Privilege.
func ParsePrivilege(value string) (Privilege, bool) {
	normalized := Privilege(strings.ToLower(strings.TrimSpace(value)))
	_, ok := privilegeRank[normalized]
	return normalized, ok
}

// AtLeast reports whether p grants at least the privileges of min.
func (p Privilege) AtLeast(min Privilege) bool {
	have, ok := privilegeRank[p]
	if !ok {
		return false
	}
	return have >= privilegeRank[min]
}

// Actor is the caller identity supplied by the authentication layer.
type Actor struct {
	ID           string
	Organization string
	Privilege    Privilege
}

// Valid reports whether the identity carries the fields the engine requires.
func (a Actor) Valid() bool {
	if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Organization) == "" {
		return false
	}
	_, ok := privilegeRank[a.Privilege]
	return ok
}

// CanAccess reports whether the actor may see projects in the organization.
func (a Actor) CanAccess(organization string) bool {
	return a.Organization != "" && a.Organization == organization
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
	projectKey   contextKey = "project_id"
	stageKey     contextKey = "stage"
)

// WithActor annotates context with the caller identity.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// FromContext extracts the caller identity if present.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithProject annotates context with the project being operated on.
func WithProject(ctx context.Context, projectID string) context.Context {
	if projectID == "" {
		return ctx
	}
	return context.WithValue(ctx, projectKey, projectID)
}

// ProjectFromContext extracts the project identifier if present.
func ProjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(projectKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the target stage of an operation.
func WithStage(ctx context.Context, stageID string) context.Context {
	if stageID == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stageID)
}

// StageFromContext extracts the stage identifier if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
