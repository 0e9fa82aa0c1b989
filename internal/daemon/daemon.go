package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"stagewright/internal/api"
	"stagewright/internal/config"
	"stagewright/internal/logging"
	"stagewright/internal/notifications"
	"stagewright/internal/preflight"
	"stagewright/internal/reconcile"
	"stagewright/internal/transition"
)

const (
	pruneInterval  = time.Hour
	changeRetained = 24 * time.Hour
)

// Store is the backing store surface the daemon manages directly.
type Store interface {
	Ping(ctx context.Context) error
	PruneChanges(ctx context.Context, olderThan time.Duration) (int64, error)
	Dialect() string
	Path() string
	Close() error
}

// Daemon serves the transition API, keeps the read cache reconciled with
// the backing store, and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      Store
	coord      *transition.Coordinator
	reconciler *reconcile.Reconciler
	service    *api.Service
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	subs    []*reconcile.Subscription
	wg      sync.WaitGroup
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	StoreDriver   string
	DatabasePath  string
	LockFilePath  string
	Workflow      string
	CachedEntries int
	Watches       []WatchStatus
	Dependencies  []preflight.Result
}

// WatchStatus reports one organization's reconciler counters.
type WatchStatus struct {
	Organization string
	Stats        reconcile.Stats
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st Store, coord *transition.Coordinator, rec *reconcile.Reconciler, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || coord == nil || rec == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, coordinator, reconciler, and logger")
	}

	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		coord:      coord,
		reconciler: rec,
		service:    api.NewService(coord),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, subscribes to the configured organizations'
// change feeds, and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stagewright daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	abort := func(err error) error {
		d.stopWatches()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	for _, org := range d.cfg.Reconciler.Organizations {
		if _, err := d.Watch(d.ctx, org); err != nil {
			return abort(fmt.Errorf("watch %s: %w", org, err))
		}
	}
	if err := d.api.start(d.ctx); err != nil {
		return abort(err)
	}

	d.wg.Add(1)
	go d.pruneLoop(d.ctx)

	d.running.Store(true)
	d.logger.Info("stagewright daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("watches", len(d.cfg.Reconciler.Organizations)),
	)
	return nil
}

// Watch subscribes the reconciler to an organization's change feed.
func (d *Daemon) Watch(ctx context.Context, org string) (*reconcile.Subscription, error) {
	org = strings.TrimSpace(org)
	if org == "" {
		return nil, errors.New("organization is required")
	}
	sub, err := d.reconciler.Watch(ctx, org)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()
	return sub, nil
}

func (d *Daemon) stopWatches() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.store.PruneChanges(ctx, changeRetained)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.WarnWithContext(d.logger, "change log prune failed", "change_prune_failed",
					logging.String(logging.FieldErrorHint, "check store connectivity"),
					logging.String(logging.FieldImpact, "change log grows until the next prune succeeds"),
					logging.Error(err),
				)
				continue
			}
			if n > 0 {
				d.logger.Debug("change log pruned", logging.Int64("rows", n))
			}
		}
	}
}

// Stop stops background work, closes the API server, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.stopWatches()
	d.wg.Wait()
	d.coord.Cache().Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("stagewright daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.reconciler.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Service returns the DTO-level operations the API server exposes.
func (d *Daemon) Service() *api.Service {
	return d.service
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	watches := make([]WatchStatus, 0, len(d.subs))
	for _, sub := range d.subs {
		watches = append(watches, WatchStatus{Organization: sub.Organization(), Stats: sub.Stats()})
	}
	d.mu.Unlock()

	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		StoreDriver:   d.store.Dialect(),
		DatabasePath:  d.store.Path(),
		LockFilePath:  d.lockPath,
		Workflow:      d.coord.Graph().Name(),
		CachedEntries: d.service.CachedEntries(),
		Watches:       watches,
		Dependencies:  preflight.RunAll(ctx, d.cfg, d.store),
	}
}
