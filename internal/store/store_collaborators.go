package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stagewright/internal/project"
)

// AddDocument attaches a document of the given kind to a project.
func (s *Store) AddDocument(ctx context.Context, projectID, kind, name string) (project.Document, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return project.Document{}, errors.New("document kind is required")
	}
	now := time.Now().UTC()
	var id int64
	err := s.retryOnBusy(ensureContext(ctx), func() error {
		return s.queryRow(ctx,
			"INSERT INTO project_documents (project_id, kind, name, uploaded_at) VALUES (?, ?, ?, ?) RETURNING id",
			projectID, kind, nullableString(name), formatTime(now),
		).Scan(&id)
	})
	if err != nil {
		return project.Document{}, fmt.Errorf("add document: %w", err)
	}
	return project.Document{ID: id, ProjectID: projectID, Kind: kind, Name: name, UploadedAt: now}, nil
}

// MissingDocuments returns the requested kinds with no attached document.
func (s *Store) MissingDocuments(ctx context.Context, projectID string, kinds ...string) ([]string, error) {
	rows, err := s.query(ctx, "SELECT DISTINCT kind FROM project_documents WHERE project_id = ?", projectID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()
	present := make(map[string]struct{})
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, fmt.Errorf("scan document kind: %w", err)
		}
		present[kind] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []string
	for _, kind := range kinds {
		if _, ok := present[strings.ToLower(kind)]; !ok {
			missing = append(missing, kind)
		}
	}
	return missing, nil
}

// AddReviewItem opens a review finding on a project.
func (s *Store) AddReviewItem(ctx context.Context, projectID, summary string) (project.ReviewItem, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return project.ReviewItem{}, errors.New("review summary is required")
	}
	now := time.Now().UTC()
	var id int64
	err := s.retryOnBusy(ensureContext(ctx), func() error {
		return s.queryRow(ctx,
			"INSERT INTO review_items (project_id, summary, resolved, created_at) VALUES (?, ?, 0, ?) RETURNING id",
			projectID, summary, formatTime(now),
		).Scan(&id)
	})
	if err != nil {
		return project.ReviewItem{}, fmt.Errorf("add review item: %w", err)
	}
	return project.ReviewItem{ID: id, ProjectID: projectID, Summary: summary, CreatedAt: now}, nil
}

// ResolveReviewItem closes a review finding.
func (s *Store) ResolveReviewItem(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE review_items SET resolved = 1, resolved_at = ? WHERE id = ? AND resolved = 0",
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("resolve review item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("review item %d not found or already resolved", id)
	}
	return nil
}

// OpenReviewItems returns unresolved findings for a project.
func (s *Store) OpenReviewItems(ctx context.Context, projectID string) ([]project.ReviewItem, error) {
	rows, err := s.query(ctx,
		"SELECT id, summary, created_at FROM review_items WHERE project_id = ? AND resolved = 0 ORDER BY id",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query review items: %w", err)
	}
	defer rows.Close()
	var out []project.ReviewItem
	for rows.Next() {
		item := project.ReviewItem{ProjectID: projectID}
		var created string
		if err := rows.Scan(&item.ID, &item.Summary, &created); err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}
		item.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, item)
	}
	return out, rows.Err()
}

// RecordRFQ upserts the state of a supplier RFQ.
func (s *Store) RecordRFQ(ctx context.Context, projectID, supplier string, state project.RFQState) error {
	supplier = strings.TrimSpace(supplier)
	if supplier == "" {
		return errors.New("supplier is required")
	}
	if _, ok := project.ParseRFQState(string(state)); !ok {
		return fmt.Errorf("unknown rfq state %q", state)
	}
	_, err := s.execWithRetry(ctx, `INSERT INTO supplier_rfqs (project_id, supplier, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, supplier) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		projectID, supplier, string(state), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("record rfq: %w", err)
	}
	return nil
}

// RFQSummary counts a project's supplier RFQs by state.
func (s *Store) RFQSummary(ctx context.Context, projectID string) (project.RFQSummary, error) {
	rows, err := s.query(ctx, "SELECT state, COUNT(1) FROM supplier_rfqs WHERE project_id = ? GROUP BY state", projectID)
	if err != nil {
		return project.RFQSummary{}, fmt.Errorf("query rfqs: %w", err)
	}
	defer rows.Close()
	var summary project.RFQSummary
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return project.RFQSummary{}, fmt.Errorf("scan rfq: %w", err)
		}
		summary.Sent += count
		switch project.RFQState(state) {
		case project.RFQResponded:
			summary.Responded += count
		case project.RFQAwarded:
			summary.Responded += count
			summary.Awarded += count
		case project.RFQDeclined:
			summary.Responded += count
			summary.Declined += count
		}
	}
	return summary, rows.Err()
}
