package testsupport

import (
	"context"
	"testing"

	"stagewright/internal/config"
	"stagewright/internal/project"
	"stagewright/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// ProjectOption customizes a seeded project.
type ProjectOption func(*project.Project)

// WithMetadata sets a metadata key on the seeded project.
func WithMetadata(key, value string) ProjectOption {
	return func(p *project.Project) {
		if p.Metadata == nil {
			p.Metadata = make(map[string]string)
		}
		p.Metadata[key] = value
	}
}

// WithPriority sets the seeded project's priority.
func WithPriority(priority project.Priority) ProjectOption {
	return func(p *project.Project) {
		p.Priority = priority
	}
}

// WithStatus sets the seeded project's status.
func WithStatus(status project.Status) ProjectOption {
	return func(p *project.Project) {
		p.Status = status
	}
}

// WithTags sets the seeded project's tags.
func WithTags(tags ...string) ProjectOption {
	return func(p *project.Project) {
		p.Tags = tags
	}
}

// NewProject creates a project at the given stage for tests.
func NewProject(t testing.TB, st *store.Store, id, org, stageID string, opts ...ProjectOption) project.Project {
	t.Helper()

	p := project.Project{
		ID:             id,
		Organization:   org,
		CurrentStageID: stageID,
	}
	for _, opt := range opts {
		opt(&p)
	}
	created, err := st.CreateProject(context.Background(), p)
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	return created
}
