package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"stagewright/internal/project"
)

const defaultFeedInterval = 500 * time.Millisecond

// ChangeFeed polls project_changes for new rows per organization.
type ChangeFeed struct {
	store    *Store
	interval time.Duration
}

// ChangeFeed returns a polling change feed over this store.
func (s *Store) ChangeFeed(interval time.Duration) *ChangeFeed {
	if interval <= 0 {
		interval = defaultFeedInterval
	}
	return &ChangeFeed{store: s, interval: interval}
}

// Subscribe starts polling for changes in org. Only changes after the call
// are reported.
func (f *ChangeFeed) Subscribe(ctx context.Context, org string) (project.ChangeSubscription, error) {
	org = strings.TrimSpace(org)
	if org == "" {
		return nil, errors.New("organization is required")
	}
	baseline, err := f.store.latestChange(ctx, org)
	if err != nil {
		return nil, err
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	sub := &feedSubscription{
		events: make(chan project.ChangeEvent, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.poll(pollCtx, f.store, org, baseline, f.interval)
	return sub, nil
}

func (s *Store) latestChange(ctx context.Context, org string) (int64, error) {
	var seq int64
	if err := s.queryRow(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM project_changes WHERE organization_scope = ?", org,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read change cursor: %w", err)
	}
	return seq, nil
}

// PruneChanges removes change rows older than the cutoff.
func (s *Store) PruneChanges(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.execWithRetry(ctx, "DELETE FROM project_changes WHERE changed_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type feedSubscription struct {
	events    chan project.ChangeEvent
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *feedSubscription) Events() <-chan project.ChangeEvent {
	return s.events
}

func (s *feedSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *feedSubscription) poll(ctx context.Context, st *Store, org string, cursor int64, interval time.Duration) {
	defer close(s.done)
	defer close(s.events)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		latest, err := st.latestChange(ctx, org)
		if err != nil || latest <= cursor {
			continue
		}
		cursor = latest
		// A pending undelivered event already says "something changed".
		select {
		case s.events <- project.ChangeEvent{Organization: org, ObservedAt: time.Now()}:
		default:
		}
	}
}
