package transition_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stagewright/internal/actor"
	"stagewright/internal/prereq"
	"stagewright/internal/project"
	"stagewright/internal/stages"
	"stagewright/internal/store"
	"stagewright/internal/transition"
)

func asActor(privilege actor.Privilege) context.Context {
	return actor.WithActor(context.Background(), actor.Actor{ID: "dana", Organization: "acme", Privilege: privilege})
}

// memBackend is an in-memory Backend with the same conditional-update rules
// as the SQL stores.
type memBackend struct {
	mu        sync.Mutex
	projects  map[string]project.Project
	history   []project.TransitionRecord
	mutations int
	mutateErr error
	// block, when set, holds MutateProjectStage until closed.
	block chan struct{}
	// entered is signalled when MutateProjectStage starts.
	entered chan struct{}
}

func newMemBackend(projects ...project.Project) *memBackend {
	b := &memBackend{projects: make(map[string]project.Project)}
	for _, p := range projects {
		if p.Version == 0 {
			p.Version = 1
		}
		if p.Status == "" {
			p.Status = project.StatusActive
		}
		p.Complete = true
		b.projects[p.ID] = p
	}
	return b
}

func (b *memBackend) ReadProject(_ context.Context, id string) (project.Project, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.projects[id]
	if !ok {
		return project.Project{}, store.ErrNotFound
	}
	return p.Clone(), nil
}

func (b *memBackend) MutateProjectStage(ctx context.Context, m project.StageMutation) (project.Project, error) {
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return project.Project{}, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mutateErr != nil {
		return project.Project{}, b.mutateErr
	}
	p, ok := b.projects[m.ProjectID]
	if !ok {
		return project.Project{}, store.ErrNotFound
	}
	if p.Version != m.ExpectedVersion || p.CurrentStageID != m.FromStageID {
		return project.Project{}, store.ErrVersionConflict
	}
	b.mutations++
	p.CurrentStageID = m.ToStageID
	p.StageEnteredAt = m.EnteredAt
	if m.Status != "" {
		p.Status = m.Status
	}
	p.Version++
	b.projects[p.ID] = p
	return p.Clone(), nil
}

func (b *memBackend) AppendHistory(_ context.Context, rec project.TransitionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.history {
		if existing.ProjectID == rec.ProjectID && existing.Sequence == rec.Sequence {
			return store.ErrDuplicateSequence
		}
	}
	b.history = append(b.history, rec)
	return nil
}

func (b *memBackend) QueryHistory(_ context.Context, id string) ([]project.TransitionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []project.TransitionRecord
	for _, rec := range b.history {
		if rec.ProjectID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (b *memBackend) LastHistory(ctx context.Context, id string) (project.TransitionRecord, bool, error) {
	records, _ := b.QueryHistory(ctx, id)
	if len(records) == 0 {
		return project.TransitionRecord{}, false, nil
	}
	return records[len(records)-1], true, nil
}

func (b *memBackend) historyFor(id string) []project.TransitionRecord {
	records, _ := b.QueryHistory(context.Background(), id)
	return records
}

// failingHistory wraps a backend whose history writes always fail.
type failingHistory struct {
	*memBackend
}

func (f failingHistory) AppendHistory(context.Context, project.TransitionRecord) error {
	return errors.New("history table locked")
}

type noopCollaborators struct{}

func (noopCollaborators) MissingDocuments(context.Context, string, ...string) ([]string, error) {
	return nil, nil
}

func (noopCollaborators) OpenReviewItems(context.Context, string) ([]project.ReviewItem, error) {
	return nil, nil
}

func (noopCollaborators) RFQSummary(context.Context, string) (project.RFQSummary, error) {
	return project.RFQSummary{}, nil
}

func newCoordinator(t *testing.T, graph *stages.Graph, backend transition.Backend, collab prereq.Collaborators, opts ...transition.Option) *transition.Coordinator {
	t.Helper()
	checker, err := prereq.NewChecker(graph, collab)
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	coord, err := transition.New(transition.Deps{Graph: graph, Backend: backend, Checker: checker}, opts...)
	if err != nil {
		t.Fatalf("transition.New: %v", err)
	}
	return coord
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}
