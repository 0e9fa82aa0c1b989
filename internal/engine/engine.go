package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stagewright/internal/cache"
	"stagewright/internal/config"
	"stagewright/internal/ledger"
	"stagewright/internal/logging"
	"stagewright/internal/notifications"
	"stagewright/internal/prereq"
	"stagewright/internal/reconcile"
	"stagewright/internal/stages"
	"stagewright/internal/store"
	"stagewright/internal/store/pgstore"
	"stagewright/internal/transition"
)

// Engine is a fully wired transition runtime.
type Engine struct {
	Config      *config.Config
	Store       *store.Store
	Graph       *stages.Graph
	Checker     *prereq.Checker
	Notifier    notifications.Service
	Coordinator *transition.Coordinator
	Feed        reconcile.Feed

	logger *slog.Logger
}

// OpenStore opens the backing store the config selects along with its
// change feed.
func OpenStore(ctx context.Context, cfg *config.Config) (*store.Store, reconcile.Feed, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		url := strings.TrimSpace(cfg.Store.PostgresURL)
		st, err := pgstore.Open(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return st, pgstore.NewFeed(url), nil
	case config.DriverSQLite, "":
		st, err := store.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		return st, st.ChangeFeed(cfg.FeedPollInterval()), nil
	default:
		return nil, nil, fmt.Errorf("store driver %q is not supported", cfg.Store.Driver)
	}
}

// Open builds an Engine from configuration.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	graph, err := stages.Load(cfg.Workflow.DefinitionPath)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	st, feed, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	checker, err := prereq.NewChecker(graph, prereq.From(st), prereq.WithLogger(logger))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	notifier := notifications.NewService(cfg)
	coord, err := transition.New(transition.Deps{
		Graph:    graph,
		Backend:  st,
		Checker:  checker,
		Ledger:   ledger.New(st, ledger.WithNotifier(notifier), ledger.WithLogger(logger)),
		Cache:    cache.New(st, cache.WithStaleness(cfg.CacheStaleness()), cache.WithRefreshTimeout(cfg.ReadTimeout()), cache.WithLogger(logger)),
		Notifier: notifier,
		Logger:   logger,
	}, transition.WithMutationTimeout(cfg.MutationTimeout()))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &Engine{
		Config:      cfg,
		Store:       st,
		Graph:       graph,
		Checker:     checker,
		Notifier:    notifier,
		Coordinator: coord,
		Feed:        feed,
		logger:      logger,
	}, nil
}

// NewReconciler builds a reconciler feeding the coordinator's cache.
func (e *Engine) NewReconciler() *reconcile.Reconciler {
	return reconcile.New(e.Feed, e.Coordinator.Cache(),
		reconcile.WithDebounce(e.Config.DebounceWindow()),
		reconcile.WithPollInterval(e.Config.PollInterval()),
		reconcile.WithLogger(e.logger),
	)
}

// Close waits for background cache refreshes and closes the store.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.Coordinator.Cache().Wait()
	return e.Store.Close()
}
