package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"stagewright/internal/project"
)

// timeLayout is fixed width so stored timestamps also sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const projectColumns = "id, organization_scope, current_stage_id, status, stage_entered_at, priority, metadata_json, version, created_at, updated_at"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func parseTime(raw sql.NullString) time.Time {
	if !raw.Valid || raw.String == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func encodeMetadata(meta map[string]string) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeMetadata(raw sql.NullString) map[string]string {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
		return nil
	}
	return meta
}

func scanProject(scanner interface{ Scan(dest ...any) error }) (project.Project, error) {
	var (
		id           string
		organization string
		stageID      sql.NullString
		statusRaw    string
		enteredRaw   sql.NullString
		priorityRaw  string
		metadataRaw  sql.NullString
		version      int64
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&organization,
		&stageID,
		&statusRaw,
		&enteredRaw,
		&priorityRaw,
		&metadataRaw,
		&version,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return project.Project{}, err
	}
	return project.Project{
		ID:             id,
		Organization:   organization,
		CurrentStageID: stageID.String,
		Status:         project.Status(statusRaw),
		StageEnteredAt: parseTime(enteredRaw),
		Priority:       project.Priority(priorityRaw),
		Metadata:       decodeMetadata(metadataRaw),
		Version:        version,
		CreatedAt:      parseTime(createdRaw),
		UpdatedAt:      parseTime(updatedRaw),
	}, nil
}

const historyColumns = "id, project_id, organization_scope, sequence, from_stage_id, to_stage_id, actor_id, reason, bypass_reason, estimated_duration_ms, recorded_at, prev_hash, hash"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (project.TransitionRecord, error) {
	var (
		rec          project.TransitionRecord
		fromStage    sql.NullString
		reason       sql.NullString
		bypassReason sql.NullString
		durationMS   int64
		recordedRaw  sql.NullString
		prevHash     sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.ProjectID,
		&rec.Organization,
		&rec.Sequence,
		&fromStage,
		&rec.ToStageID,
		&rec.ActorID,
		&reason,
		&bypassReason,
		&durationMS,
		&recordedRaw,
		&prevHash,
		&rec.Hash,
	); err != nil {
		return project.TransitionRecord{}, err
	}
	rec.FromStageID = fromStage.String
	rec.Reason = reason.String
	rec.BypassReason = bypassReason.String
	rec.EstimatedDuration = time.Duration(durationMS) * time.Millisecond
	rec.Timestamp = parseTime(recordedRaw)
	rec.PrevHash = prevHash.String
	return rec, nil
}
