package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"stagewright/internal/logging"
	"stagewright/internal/project"
)

const (
	defaultStaleness      = 30 * time.Second
	defaultRefreshTimeout = 10 * time.Second
)

// Loader reads the authoritative project record.
type Loader interface {
	ReadProject(ctx context.Context, id string) (project.Project, error)
}

// Entry is one cached project.
type Entry struct {
	Project     project.Project
	FetchedAt   time.Time
	Version     int64
	Invalidated bool
}

// Cache is safe for concurrent use.
type Cache struct {
	loader         Loader
	staleness      time.Duration
	refreshTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
	pending map[string]*Pending

	group singleflight.Group
	wg    sync.WaitGroup
}

// Option customizes a Cache.
type Option func(*Cache)

// WithStaleness sets how long an entry is served without a refresh.
func WithStaleness(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.staleness = d
		}
	}
}

// WithRefreshTimeout bounds background refreshes.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logging.NewComponentLogger(logger, "cache")
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a cache reading through loader.
func New(loader Loader, opts ...Option) *Cache {
	c := &Cache{
		loader:         loader,
		staleness:      defaultStaleness,
		refreshTimeout: defaultRefreshTimeout,
		logger:         logging.NewNop(),
		now:            time.Now,
		entries:        make(map[string]*Entry),
		pending:        make(map[string]*Pending),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Cache) fresh(e *Entry) bool {
	return e != nil && !e.Invalidated && e.Project.Complete && c.now().Sub(e.FetchedAt) <= c.staleness
}

// Get returns the cached project when it can be served as current. An entry
// that has aged past the staleness window is refreshed in the background and
// reported as a miss.
func (c *Cache) Get(id string) (project.Project, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	var (
		hit   bool
		aged  bool
		value project.Project
	)
	if ok {
		hit = c.fresh(e)
		aged = !hit && !e.Invalidated && e.Project.Complete
		if hit {
			value = e.Project.Clone()
		}
	}
	c.mu.RUnlock()
	if aged {
		c.RefreshAsync(id)
	}
	return value, hit
}

// IsValid reports whether Get would hit, without scheduling anything.
func (c *Cache) IsValid(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fresh(c.entries[id])
}

// Peek returns the raw entry regardless of freshness.
func (c *Cache) Peek(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	out := *e
	out.Project = e.Project.Clone()
	return out, true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Load returns the cached project or reads it through. Concurrent misses for
// one id share a single backend read.
func (c *Cache) Load(ctx context.Context, id string) (project.Project, error) {
	if p, ok := c.Get(id); ok {
		return p, nil
	}
	return c.fetch(ctx, id)
}

// Refresh re-reads the project from the backend regardless of freshness.
func (c *Cache) Refresh(ctx context.Context, id string) error {
	_, err := c.fetch(ctx, id)
	return err
}

func (c *Cache) fetch(ctx context.Context, id string) (project.Project, error) {
	if c.loader == nil {
		return project.Project{}, errors.New("cache: no loader configured")
	}
	v, err, _ := c.group.Do(id, func() (any, error) {
		p, err := c.loader.ReadProject(ctx, id)
		if err != nil {
			return nil, err
		}
		c.storeFetched(p)
		return p, nil
	})
	if err != nil {
		return project.Project{}, fmt.Errorf("cache: load %s: %w", id, err)
	}
	return v.(project.Project).Clone(), nil
}

// storeFetched installs a backend read unless a newer version is already
// cached and still valid.
func (c *Cache) storeFetched(p project.Project) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[p.ID]; ok && !existing.Invalidated && existing.Version > p.Version {
		return
	}
	c.entries[p.ID] = c.newEntry(p)
}

func (c *Cache) newEntry(p project.Project) *Entry {
	return &Entry{Project: p.Clone(), FetchedAt: c.now(), Version: p.Version}
}

// Put installs p as the current value.
func (c *Cache) Put(p project.Project) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[p.ID] = c.newEntry(p)
}

// Invalidate marks the entry so the next read goes to the backend.
func (c *Cache) Invalidate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	e.Invalidated = true
	return true
}

// InvalidateOrganization invalidates every entry in org and returns their
// ids, sorted.
func (c *Cache) InvalidateOrganization(org string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, e := range c.entries {
		if e.Project.Organization != org {
			continue
		}
		e.Invalidated = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RefreshAsync re-reads id in the background. Failures are logged and leave
// the entry as it was.
func (c *Cache) RefreshAsync(id string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
		defer cancel()
		if err := c.Refresh(ctx, id); err != nil {
			logging.WarnWithContext(c.logger, "background refresh failed", "cache_refresh_failed",
				logging.String(logging.FieldProjectID, id),
				logging.String(logging.FieldErrorHint, "check backend connectivity"),
				logging.String(logging.FieldImpact, "project stays a cache miss until the next refresh"),
				logging.Error(err),
			)
		}
	}()
}

// Wait blocks until background refreshes started so far have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}
