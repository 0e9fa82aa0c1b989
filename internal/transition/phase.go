package transition

import "sync"

// Phase is where a project's in-flight transition currently is.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseValidating     Phase = "validating"
	PhaseMutating       Phase = "mutating"
	PhaseRecording      Phase = "recording"
	PhaseRejected       Phase = "rejected"
	PhaseMutationFailed Phase = "mutation_failed"
)

// inflight guards the one-transition-per-project rule. Projects at Idle are
// absent from the map.
type inflight struct {
	mu       sync.Mutex
	phases   map[string]Phase
	observer func(projectID string, phase Phase)
}

func newInflight() *inflight {
	return &inflight{phases: make(map[string]Phase)}
}

func (f *inflight) acquire(id string) bool {
	f.mu.Lock()
	if _, busy := f.phases[id]; busy {
		f.mu.Unlock()
		return false
	}
	f.phases[id] = PhaseValidating
	f.mu.Unlock()
	f.notify(id, PhaseValidating)
	return true
}

func (f *inflight) set(id string, phase Phase) {
	f.mu.Lock()
	f.phases[id] = phase
	f.mu.Unlock()
	f.notify(id, phase)
}

func (f *inflight) release(id string) {
	f.mu.Lock()
	delete(f.phases, id)
	f.mu.Unlock()
	f.notify(id, PhaseIdle)
}

func (f *inflight) get(id string) Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	if phase, ok := f.phases[id]; ok {
		return phase
	}
	return PhaseIdle
}

func (f *inflight) notify(id string, phase Phase) {
	if f.observer != nil {
		f.observer(id, phase)
	}
}
