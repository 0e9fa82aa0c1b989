package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stagewright/internal/project"
)

// CreateProject inserts a new project with its tags. Version starts at 1.
func (s *Store) CreateProject(ctx context.Context, p project.Project) (project.Project, error) {
	ctx = ensureContext(ctx)
	p.ID = strings.TrimSpace(p.ID)
	p.Organization = strings.TrimSpace(p.Organization)
	if p.ID == "" {
		return project.Project{}, errors.New("project id is required")
	}
	if p.Organization == "" {
		return project.Project{}, errors.New("organization is required")
	}
	if p.Status == "" {
		p.Status = project.StatusActive
	}
	if p.Priority == "" {
		p.Priority = project.PriorityNone
	}
	now := time.Now().UTC()
	if p.HasStage() && p.StageEnteredAt.IsZero() {
		p.StageEnteredAt = now
	}
	p.Tags = project.NormalizeTags(p.Tags)
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return project.Project{}, fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return project.Project{}, fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO projects
		(id, organization_scope, current_stage_id, status, stage_entered_at, priority, metadata_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`),
		p.ID,
		p.Organization,
		nullableString(p.CurrentStageID),
		string(p.Status),
		nullableTime(p.StageEnteredAt),
		string(p.Priority),
		meta,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		if s.isUnique(err) {
			return project.Project{}, fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID)
		}
		return project.Project{}, fmt.Errorf("insert project: %w", err)
	}
	for _, tag := range p.Tags {
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO project_tags (project_id, tag) VALUES (?, ?)"), p.ID, tag); err != nil {
			return project.Project{}, fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return project.Project{}, fmt.Errorf("commit project: %w", err)
	}
	return s.ReadProject(ctx, p.ID)
}

// ReadProject returns the full project record including tags.
func (s *Store) ReadProject(ctx context.Context, id string) (project.Project, error) {
	row := s.queryRow(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return project.Project{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return project.Project{}, fmt.Errorf("read project %s: %w", id, err)
	}
	tags, err := s.projectTags(ctx, id)
	if err != nil {
		return project.Project{}, err
	}
	p.Tags = tags
	p.Complete = true
	return p, nil
}

func (s *Store) projectTags(ctx context.Context, id string) ([]string, error) {
	rows, err := s.query(ctx, "SELECT tag FROM project_tags WHERE project_id = ? ORDER BY tag", id)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ListProjects returns summary records for an organization (all organizations
// when org is empty). Tags are not joined, so records report Complete=false.
func (s *Store) ListProjects(ctx context.Context, org string) ([]project.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects"
	var args []any
	if strings.TrimSpace(org) != "" {
		query += " WHERE organization_scope = ?"
		args = append(args, org)
	}
	query += " ORDER BY id"
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MutateProjectStage applies a conditional stage change. The update only
// lands when the stored version and stage still match the mutation.
func (s *Store) MutateProjectStage(ctx context.Context, m project.StageMutation) (project.Project, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	entered := m.EnteredAt
	if entered.IsZero() {
		entered = now
	}
	var updated project.Project
	err := s.retryOnBusy(ctx, func() error {
		row := s.queryRow(ctx, `UPDATE projects
			SET current_stage_id = ?, stage_entered_at = ?, status = COALESCE(?, status),
			    version = version + 1, updated_at = ?
			WHERE id = ? AND version = ? AND COALESCE(current_stage_id, '') = ?
			RETURNING `+projectColumns,
			m.ToStageID,
			formatTime(entered),
			nullableString(string(m.Status)),
			formatTime(now),
			m.ProjectID,
			m.ExpectedVersion,
			m.FromStageID,
		)
		var scanErr error
		updated, scanErr = scanProject(row)
		return scanErr
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return project.Project{}, fmt.Errorf("mutate project stage: %w", err)
		}
		exists, existsErr := s.projectExists(ctx, m.ProjectID)
		if existsErr != nil {
			return project.Project{}, existsErr
		}
		if !exists {
			return project.Project{}, fmt.Errorf("%w: %s", ErrNotFound, m.ProjectID)
		}
		return project.Project{}, fmt.Errorf("%w: %s expected version %d at %q",
			ErrVersionConflict, m.ProjectID, m.ExpectedVersion, m.FromStageID)
	}
	tags, err := s.projectTags(ctx, m.ProjectID)
	if err != nil {
		return project.Project{}, err
	}
	updated.Tags = tags
	updated.Complete = true
	return updated, nil
}

func (s *Store) projectExists(ctx context.Context, id string) (bool, error) {
	var count int
	if err := s.queryRow(ctx, "SELECT COUNT(1) FROM projects WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("check project %s: %w", id, err)
	}
	return count > 0, nil
}

// UpdateProjectStatus sets the coarse status (hold, cancel, reactivate).
func (s *Store) UpdateProjectStatus(ctx context.Context, id string, status project.Status) (project.Project, error) {
	if _, ok := project.ParseStatus(string(status)); !ok {
		return project.Project{}, fmt.Errorf("unknown status %q", status)
	}
	res, err := s.execWithRetry(ctx,
		"UPDATE projects SET status = ?, version = version + 1, updated_at = ? WHERE id = ?",
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		return project.Project{}, fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.Project{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.ReadProject(ctx, id)
}

// UpdateProjectPriority sets the project's priority.
func (s *Store) UpdateProjectPriority(ctx context.Context, id string, priority project.Priority) (project.Project, error) {
	res, err := s.execWithRetry(ctx,
		"UPDATE projects SET priority = ?, version = version + 1, updated_at = ? WHERE id = ?",
		string(priority), formatTime(time.Now()), id,
	)
	if err != nil {
		return project.Project{}, fmt.Errorf("update priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.Project{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.ReadProject(ctx, id)
}

const metadataUpdateAttempts = 3

// SetMetadata sets (or, with an empty value, clears) one metadata key. The
// write is conditional on the version read, retried on conflict.
func (s *Store) SetMetadata(ctx context.Context, id, key, value string) (project.Project, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return project.Project{}, errors.New("metadata key is required")
	}
	for attempt := 0; attempt < metadataUpdateAttempts; attempt++ {
		current, err := s.ReadProject(ctx, id)
		if err != nil {
			return project.Project{}, err
		}
		meta := current.Clone().Metadata
		if meta == nil {
			meta = make(map[string]string)
		}
		if strings.TrimSpace(value) == "" {
			delete(meta, key)
		} else {
			meta[key] = value
		}
		encoded, err := encodeMetadata(meta)
		if err != nil {
			return project.Project{}, fmt.Errorf("encode metadata: %w", err)
		}
		res, err := s.execWithRetry(ctx,
			"UPDATE projects SET metadata_json = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?",
			encoded, formatTime(time.Now()), id, current.Version,
		)
		if err != nil {
			return project.Project{}, fmt.Errorf("update metadata: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return s.ReadProject(ctx, id)
		}
	}
	return project.Project{}, fmt.Errorf("%w: %s metadata update", ErrVersionConflict, id)
}

// SetTags replaces the project's tag set.
func (s *Store) SetTags(ctx context.Context, id string, tags []string) (project.Project, error) {
	ctx = ensureContext(ctx)
	tags = project.NormalizeTags(tags)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return project.Project{}, fmt.Errorf("begin tags tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.rebind("UPDATE projects SET version = version + 1, updated_at = ? WHERE id = ?"),
		formatTime(time.Now()), id)
	if err != nil {
		return project.Project{}, fmt.Errorf("touch project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.Project{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM project_tags WHERE project_id = ?"), id); err != nil {
		return project.Project{}, fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO project_tags (project_id, tag) VALUES (?, ?)"), id, tag); err != nil {
			return project.Project{}, fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return project.Project{}, fmt.Errorf("commit tags: %w", err)
	}
	return s.ReadProject(ctx, id)
}
