package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stagewright/internal/logging"
	"stagewright/internal/project"
)

const defaultDebounce = 2 * time.Second

// Feed opens a change subscription for one organization.
type Feed interface {
	Subscribe(ctx context.Context, org string) (project.ChangeSubscription, error)
}

// Cache is the part of the project cache the reconciler drives.
type Cache interface {
	InvalidateOrganization(org string) []string
	RefreshAsync(id string)
}

// ErrAlreadyWatching is returned when an organization already has a watch.
var ErrAlreadyWatching = errors.New("organization already watched")

// Reconciler owns organization watches.
type Reconciler struct {
	feed         Feed
	cache        Cache
	debounce     time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu   sync.Mutex
	subs map[string]*Subscription
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithDebounce sets the minimum interval between refresh cycles.
func WithDebounce(d time.Duration) Option {
	return func(r *Reconciler) {
		if d >= 0 {
			r.debounce = d
		}
	}
}

// WithPollInterval enables a periodic refresh that goes through the same
// debounce. Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logging.NewComponentLogger(logger, "reconcile")
	}
}

// WithClock overrides the time source used for debouncing.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a reconciler.
func New(feed Feed, cache Cache, opts ...Option) *Reconciler {
	r := &Reconciler{
		feed:     feed,
		cache:    cache,
		debounce: defaultDebounce,
		logger:   logging.NewNop(),
		now:      time.Now,
		subs:     make(map[string]*Subscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Stats counts what a subscription did with its events.
type Stats struct {
	Events    int64
	Refreshes int64
	Dropped   int64
}

// Subscription is a live watch on one organization.
type Subscription struct {
	org       string
	feed      project.ChangeSubscription
	debouncer *Debouncer
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   atomic.Bool
	once      sync.Once
	owner     *Reconciler

	events    atomic.Int64
	refreshes atomic.Int64
	dropped   atomic.Int64
}

// Organization returns the watched organization.
func (s *Subscription) Organization() string { return s.org }

// Stats returns the subscription counters.
func (s *Subscription) Stats() Stats {
	return Stats{Events: s.events.Load(), Refreshes: s.refreshes.Load(), Dropped: s.dropped.Load()}
}

// Watch subscribes to org's change feed. The watch ends when ctx is done or
// Unsubscribe is called.
func (r *Reconciler) Watch(ctx context.Context, org string) (*Subscription, error) {
	org = strings.TrimSpace(org)
	if org == "" {
		return nil, errors.New("reconcile: organization is required")
	}
	r.mu.Lock()
	if _, ok := r.subs[org]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("reconcile: %w: %s", ErrAlreadyWatching, org)
	}
	r.subs[org] = nil
	r.mu.Unlock()

	feedSub, err := r.feed.Subscribe(ctx, org)
	if err != nil {
		r.forget(org, nil)
		return nil, fmt.Errorf("reconcile: subscribe %s: %w", org, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		org:       org,
		feed:      feedSub,
		debouncer: NewDebouncer(r.debounce),
		cancel:    cancel,
		done:      make(chan struct{}),
		owner:     r,
	}
	r.mu.Lock()
	r.subs[org] = sub
	r.mu.Unlock()

	go r.run(loopCtx, sub)
	r.logger.Info("watching organization changes",
		logging.String(logging.FieldOrganization, org),
		logging.Duration("debounce", r.debounce),
		logging.Duration("poll_interval", r.pollInterval),
	)
	return sub, nil
}

// Unsubscribe tears the feed down and waits for the event loop to exit. No
// refresh is triggered once it returns.
func (s *Subscription) Unsubscribe() {
	s.teardown()
	<-s.done
}

// teardown stops the loop, closes the feed and drops the watch. It runs once
// whether the watch ends through Unsubscribe or its context.
func (s *Subscription) teardown() {
	s.once.Do(func() {
		s.stopped.Store(true)
		s.cancel()
		if err := s.feed.Close(); err != nil {
			s.owner.logger.Debug("closing change feed", logging.String(logging.FieldOrganization, s.org), logging.Error(err))
		}
		s.owner.forget(s.org, s)
	})
}

func (r *Reconciler) forget(org string, sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.subs[org]; ok && current == sub {
		delete(r.subs, org)
	}
}

// Organizations lists watched organizations.
func (r *Reconciler) Organizations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for org, sub := range r.subs {
		if sub != nil {
			out = append(out, org)
		}
	}
	return out
}

// Close unsubscribes every watch.
func (r *Reconciler) Close() {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (r *Reconciler) run(ctx context.Context, sub *Subscription) {
	defer close(sub.done)
	defer sub.teardown()
	var tick <-chan time.Time
	if r.pollInterval > 0 {
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	events := sub.feed.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				if !sub.stopped.Load() {
					logging.WarnWithContext(r.logger, "change feed closed", "change_feed_closed",
						logging.String(logging.FieldOrganization, sub.org),
						logging.String(logging.FieldErrorHint, "restart the watch or the daemon"),
						logging.String(logging.FieldImpact, "external changes are only picked up by polling"),
					)
				}
				events = nil
				continue
			}
			sub.events.Add(1)
			r.handle(sub, "event")
		case <-tick:
			r.handle(sub, "poll")
		}
	}
}

func (r *Reconciler) handle(sub *Subscription, trigger string) {
	if sub.stopped.Load() {
		return
	}
	if !sub.debouncer.Allow(r.now()) {
		sub.dropped.Add(1)
		return
	}
	ids := r.cache.InvalidateOrganization(sub.org)
	for _, id := range ids {
		r.cache.RefreshAsync(id)
	}
	sub.refreshes.Add(1)
	r.logger.Debug("organization cache invalidated",
		logging.String(logging.FieldOrganization, sub.org),
		logging.String("trigger", trigger),
		logging.Int("projects", len(ids)),
	)
}
