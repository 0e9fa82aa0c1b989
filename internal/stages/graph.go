package stages

import (
	"errors"
	"fmt"
	"sort"
)

// ErrStageNotFound indicates a stage id that is not part of the loaded graph.
// It always points at a caller or data-integrity problem and is never retried.
var ErrStageNotFound = errors.New("stage not found")

// Stage is an immutable node in the workflow graph.
type Stage struct {
	ID            string
	Name          string
	Order         int
	Entry         bool
	AllowedNext   []string
	Prerequisites []string
}

// Terminal reports whether no transitions leave the stage.
func (s Stage) Terminal() bool {
	return len(s.AllowedNext) == 0
}

// Allows reports whether target is a direct successor of the stage.
func (s Stage) Allows(target string) bool {
	for _, next := range s.AllowedNext {
		if next == target {
			return true
		}
	}
	return false
}

func (s Stage) clone() Stage {
	out := s
	if s.AllowedNext != nil {
		out.AllowedNext = append([]string(nil), s.AllowedNext...)
	}
	if s.Prerequisites != nil {
		out.Prerequisites = append([]string(nil), s.Prerequisites...)
	}
	return out
}

// Graph is the loaded, read-only workflow. Every accessor returns copies so a
// single Graph can be shared by any number of goroutines.
type Graph struct {
	id      string
	name    string
	stages  []Stage
	byID    map[string]int
	initial []string
}

// New builds a graph from a definition after validating it.
func New(def Definition) (*Graph, error) {
	normalized, err := def.normalized()
	if err != nil {
		return nil, err
	}
	g := &Graph{
		id:     normalized.ID,
		name:   normalized.Name,
		stages: make([]Stage, 0, len(normalized.Stages)),
		byID:   make(map[string]int, len(normalized.Stages)),
	}
	for _, sd := range normalized.Stages {
		g.stages = append(g.stages, Stage{
			ID:            sd.ID,
			Name:          sd.Name,
			Order:         sd.Order,
			Entry:         sd.Entry,
			AllowedNext:   sd.Next,
			Prerequisites: sd.Prerequisites,
		})
	}
	sort.SliceStable(g.stages, func(i, j int) bool {
		if g.stages[i].Order != g.stages[j].Order {
			return g.stages[i].Order < g.stages[j].Order
		}
		return g.stages[i].ID < g.stages[j].ID
	})
	for idx, stg := range g.stages {
		g.byID[stg.ID] = idx
	}
	g.initial = g.computeInitial()
	return g, nil
}

// computeInitial returns flagged entry stages, falling back to the stages that
// share the lowest order when nothing is flagged.
func (g *Graph) computeInitial() []string {
	var out []string
	for _, stg := range g.stages {
		if stg.Entry {
			out = append(out, stg.ID)
		}
	}
	if len(out) > 0 {
		return out
	}
	lowest := g.stages[0].Order
	for _, stg := range g.stages {
		if stg.Order != lowest {
			break
		}
		out = append(out, stg.ID)
	}
	return out
}

// ID returns the workflow identifier.
func (g *Graph) ID() string { return g.id }

// Name returns the workflow display name.
func (g *Graph) Name() string { return g.name }

// Stages returns every stage in pipeline order.
func (g *Graph) Stages() []Stage {
	out := make([]Stage, len(g.stages))
	for i, stg := range g.stages {
		out[i] = stg.clone()
	}
	return out
}

// Stage resolves a stage by id.
func (g *Graph) Stage(id string) (Stage, error) {
	idx, ok := g.byID[id]
	if !ok {
		return Stage{}, fmt.Errorf("%w: %q", ErrStageNotFound, id)
	}
	return g.stages[idx].clone(), nil
}

// Has reports whether id names a stage in the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.byID[id]
	return ok
}

// InitialStages returns the valid entry points of the pipeline.
func (g *Graph) InitialStages() []Stage {
	out := make([]Stage, 0, len(g.initial))
	for _, id := range g.initial {
		out = append(out, g.stages[g.byID[id]].clone())
	}
	return out
}

// IsInitial reports whether id is a valid first stage.
func (g *Graph) IsInitial(id string) bool {
	for _, candidate := range g.initial {
		if candidate == id {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the stages reachable directly from fromID. An
// empty fromID (a project without a stage) yields the initial stages.
func (g *Graph) AllowedTransitions(fromID string) ([]Stage, error) {
	if fromID == "" {
		return g.InitialStages(), nil
	}
	from, err := g.Stage(fromID)
	if err != nil {
		return nil, err
	}
	out := make([]Stage, 0, len(from.AllowedNext))
	for _, id := range from.AllowedNext {
		out = append(out, g.stages[g.byID[id]].clone())
	}
	return out, nil
}

// CanReach reports whether toID is a direct successor of fromID (or an entry
// stage when fromID is empty).
func (g *Graph) CanReach(fromID, toID string) bool {
	if !g.Has(toID) {
		return false
	}
	if fromID == "" {
		return g.IsInitial(toID)
	}
	idx, ok := g.byID[fromID]
	if !ok {
		return false
	}
	return g.stages[idx].Allows(toID)
}

// NextByOrder returns the allowed successor with the smallest order greater
// than the current stage's, which is the default forward progression.
func (g *Graph) NextByOrder(fromID string) (Stage, bool) {
	if fromID == "" {
		initial := g.InitialStages()
		if len(initial) == 0 {
			return Stage{}, false
		}
		return initial[0], true
	}
	from, err := g.Stage(fromID)
	if err != nil {
		return Stage{}, false
	}
	var (
		best  Stage
		found bool
	)
	for _, id := range from.AllowedNext {
		candidate := g.stages[g.byID[id]]
		if candidate.Order <= from.Order {
			continue
		}
		if !found || candidate.Order < best.Order {
			best = candidate
			found = true
		}
	}
	if !found {
		return Stage{}, false
	}
	return best.clone(), true
}
