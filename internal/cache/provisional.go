package cache

import (
	"sync"

	"stagewright/internal/project"
)

// Pending is an uncommitted local change. Exactly one of Confirm or Rollback
// takes effect; later calls are no-ops.
type Pending struct {
	cache *Cache
	value project.Project
	once  sync.Once
}

// Provisional records value as the pending state of its project. The current
// entry is left untouched until Confirm.
func (c *Cache) Provisional(value project.Project) *Pending {
	p := &Pending{cache: c, value: value.Clone()}
	c.mu.Lock()
	c.pending[value.ID] = p
	c.mu.Unlock()
	return p
}

// Value returns the pending project.
func (p *Pending) Value() project.Project {
	return p.value.Clone()
}

// Confirm installs the committed record as the current entry without a
// refetch.
func (p *Pending) Confirm(committed project.Project) {
	p.once.Do(func() {
		c := p.cache
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.pending[committed.ID] == p {
			delete(c.pending, committed.ID)
		}
		c.entries[committed.ID] = c.newEntry(committed)
	})
}

// Rollback drops the pending value; the prior entry remains.
func (p *Pending) Rollback() {
	p.once.Do(func() {
		c := p.cache
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.pending[p.value.ID] == p {
			delete(c.pending, p.value.ID)
		}
	})
}

// GetProvisional returns the pending value when a local change is in flight,
// otherwise the current value as Get would.
func (c *Cache) GetProvisional(id string) (project.Project, bool) {
	c.mu.RLock()
	p, ok := c.pending[id]
	c.mu.RUnlock()
	if ok {
		return p.Value(), true
	}
	return c.Get(id)
}
