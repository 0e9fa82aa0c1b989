package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"stagewright/internal/logging"
	"stagewright/internal/notifications"
	"stagewright/internal/project"
	"stagewright/internal/store"
)

// ErrLedgerWrite reports that a committed transition has no history entry.
var ErrLedgerWrite = errors.New("ledger write failed")

const maxSequenceAttempts = 3

// Store is the history persistence the ledger needs.
type Store interface {
	AppendHistory(ctx context.Context, rec project.TransitionRecord) error
	QueryHistory(ctx context.Context, projectID string) ([]project.TransitionRecord, error)
	LastHistory(ctx context.Context, projectID string) (project.TransitionRecord, bool, error)
}

// Ledger writes and reads stage history.
type Ledger struct {
	store    Store
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithNotifier sets where ledger failures are published.
func WithNotifier(n notifications.Service) Option {
	return func(l *Ledger) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logging.NewComponentLogger(logger, "ledger")
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New constructs a ledger over st.
func New(st Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    st,
		notifier: notifications.Noop(),
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Record appends rec to the project's history. ID, Sequence, PrevHash and
// Hash are assigned here; Timestamp is filled when zero. Concurrent writers
// racing for the same sequence are retried against the new tail.
func (l *Ledger) Record(ctx context.Context, rec project.TransitionRecord) (project.TransitionRecord, error) {
	if strings.TrimSpace(rec.ProjectID) == "" || strings.TrimSpace(rec.ToStageID) == "" {
		return rec, l.fail(ctx, rec, errors.New("record requires project and target stage"))
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.EstimatedDuration = rec.EstimatedDuration.Truncate(time.Millisecond)

	var lastErr error
	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		tail, ok, err := l.store.LastHistory(ctx, rec.ProjectID)
		if err != nil {
			lastErr = err
			break
		}
		rec.Sequence = 1
		rec.PrevHash = ""
		if ok {
			rec.Sequence = tail.Sequence + 1
			rec.PrevHash = tail.Hash
		}
		rec.Hash = Hash(rec)
		err = l.store.AppendHistory(ctx, rec)
		if err == nil {
			l.logger.Debug("history recorded",
				logging.String(logging.FieldProjectID, rec.ProjectID),
				logging.String(logging.FieldTargetStage, rec.ToStageID),
				logging.Int64("sequence", rec.Sequence),
			)
			return rec, nil
		}
		lastErr = err
		if !errors.Is(err, store.ErrDuplicateSequence) {
			break
		}
	}
	return rec, l.fail(ctx, rec, lastErr)
}

func (l *Ledger) fail(ctx context.Context, rec project.TransitionRecord, cause error) error {
	logging.ErrorWithContext(l.logger, "stage history entry not written", "ledger_write_failed",
		logging.String(logging.FieldProjectID, rec.ProjectID),
		logging.String(logging.FieldStage, rec.FromStageID),
		logging.String(logging.FieldTargetStage, rec.ToStageID),
		logging.String(logging.FieldActorID, rec.ActorID),
		logging.String(logging.FieldErrorHint, "the stage change is committed; re-record the history entry manually"),
		logging.String(logging.FieldImpact, "audit trail is missing this transition"),
		logging.Alert("ledger"),
		logging.Error(cause),
	)
	if err := l.notifier.Publish(ctx, notifications.EventLedgerWriteFailed, notifications.Payload{
		"projectID":    rec.ProjectID,
		"organization": rec.Organization,
		"from":         rec.FromStageID,
		"to":           rec.ToStageID,
		"actor":        rec.ActorID,
		"error":        errorText(cause),
	}); err != nil {
		logging.WarnWithContext(l.logger, "ledger failure notification not delivered", "notification_failed",
			logging.String(logging.FieldProjectID, rec.ProjectID),
			logging.String(logging.FieldErrorHint, "check ntfy topic configuration"),
			logging.String(logging.FieldImpact, "operators were not alerted"),
			logging.Error(err),
		)
	}
	return fmt.Errorf("%w: %w", ErrLedgerWrite, cause)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// History returns the project's entries oldest first. It is a plain read and
// can be repeated freely.
func (l *Ledger) History(ctx context.Context, projectID string) ([]project.TransitionRecord, error) {
	records, err := l.store.QueryHistory(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", projectID, err)
	}
	return records, nil
}

// Report is the outcome of Verify.
type Report struct {
	ProjectID string `json:"project_id"`
	Records   int    `json:"records"`
	Intact    bool   `json:"intact"`
	// BrokenAt is the first sequence that fails verification.
	BrokenAt int64  `json:"broken_at,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// Verify walks the chain and reports the first gap, broken link, or entry
// whose content no longer matches its hash.
func (l *Ledger) Verify(ctx context.Context, projectID string) (Report, error) {
	records, err := l.History(ctx, projectID)
	if err != nil {
		return Report{}, err
	}
	report := Report{ProjectID: projectID, Records: len(records), Intact: true}
	prev := ""
	for i, rec := range records {
		want := int64(i + 1)
		var problem string
		switch {
		case rec.Sequence != want:
			problem = fmt.Sprintf("expected sequence %d, found %d", want, rec.Sequence)
		case rec.PrevHash != prev:
			problem = "previous hash does not match the preceding entry"
		case Hash(rec) != rec.Hash:
			problem = "entry content does not match its hash"
		}
		if problem != "" {
			report.Intact = false
			report.BrokenAt = rec.Sequence
			report.Problem = problem
			return report, nil
		}
		prev = rec.Hash
	}
	return report, nil
}
