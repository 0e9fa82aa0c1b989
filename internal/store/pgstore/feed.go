package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"stagewright/internal/project"
)

const notifyChannel = "project_changes"

// Feed delivers change notifications through LISTEN/NOTIFY. Each subscription
// holds its own connection.
type Feed struct {
	url string
}

// NewFeed returns a feed that connects to url on each Subscribe.
func NewFeed(url string) *Feed {
	return &Feed{url: url}
}

// Subscribe opens a listening connection for org.
func (f *Feed) Subscribe(ctx context.Context, org string) (project.ChangeSubscription, error) {
	org = strings.TrimSpace(org)
	if org == "" {
		return nil, errors.New("organization is required")
	}
	conn, err := pgx.Connect(ctx, f.url)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		conn:   conn,
		events: make(chan project.ChangeEvent, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.listen(listenCtx, org)
	return sub, nil
}

type subscription struct {
	conn      *pgx.Conn
	events    chan project.ChangeEvent
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan project.ChangeEvent {
	return s.events
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err = s.conn.Close(context.Background())
	})
	return err
}

func (s *subscription) listen(ctx context.Context, org string) {
	defer close(s.done)
	defer close(s.events)
	for {
		notification, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			// Context cancellation is the normal shutdown path; a dropped
			// connection also ends the subscription.
			return
		}
		if notification.Payload != org {
			continue
		}
		select {
		case s.events <- project.ChangeEvent{Organization: org, ObservedAt: time.Now()}:
		default:
		}
	}
}
