package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stagewright/internal/project"
)

// AppendHistory inserts one ledger entry. A sequence already taken for the
// project yields ErrDuplicateSequence; entries are never updated in place.
func (s *Store) AppendHistory(ctx context.Context, rec project.TransitionRecord) error {
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.ProjectID) == "" {
		return errors.New("history record requires id and project id")
	}
	_, err := s.execWithRetry(ctx, `INSERT INTO stage_history
		(`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.ProjectID,
		rec.Organization,
		rec.Sequence,
		nullableString(rec.FromStageID),
		rec.ToStageID,
		rec.ActorID,
		nullableString(rec.Reason),
		nullableString(rec.BypassReason),
		rec.EstimatedDuration.Milliseconds(),
		formatTime(rec.Timestamp),
		nullableString(rec.PrevHash),
		rec.Hash,
	)
	if err != nil {
		if s.isUnique(err) {
			return fmt.Errorf("%w: %s #%d", ErrDuplicateSequence, rec.ProjectID, rec.Sequence)
		}
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// QueryHistory returns a project's ledger entries oldest first.
func (s *Store) QueryHistory(ctx context.Context, projectID string) ([]project.TransitionRecord, error) {
	rows, err := s.query(ctx, "SELECT "+historyColumns+" FROM stage_history WHERE project_id = ? ORDER BY sequence", projectID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var out []project.TransitionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastHistory returns the newest ledger entry, or ok=false when none exist.
func (s *Store) LastHistory(ctx context.Context, projectID string) (project.TransitionRecord, bool, error) {
	row := s.queryRow(ctx, "SELECT "+historyColumns+" FROM stage_history WHERE project_id = ? ORDER BY sequence DESC LIMIT 1", projectID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return project.TransitionRecord{}, false, nil
		}
		return project.TransitionRecord{}, false, fmt.Errorf("read last history: %w", err)
	}
	return rec, true, nil
}
