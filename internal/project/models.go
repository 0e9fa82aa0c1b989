package project

import (
	"sort"
	"strings"
	"time"
)

// Status represents the coarse lifecycle of a project, independent of its stage.
type Status string

const (
	StatusActive    Status = "active"
	StatusOnHold    Status = "on_hold"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var allStatuses = []Status{
	StatusActive,
	StatusOnHold,
	StatusCancelled,
	StatusCompleted,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Priority ranks projects for scheduling and display.
type Priority string

const (
	PriorityNone   Priority = "none"
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityNone:   0,
	PriorityLow:    1,
	PriorityNormal: 2,
	PriorityHigh:   3,
	PriorityUrgent: 4,
}

// ParsePriority converts a string into a known Priority. Empty input maps to PriorityNone.
func ParsePriority(value string) (Priority, bool) {
	normalized := Priority(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return PriorityNone, true
	}
	_, ok := priorityRank[normalized]
	return normalized, ok
}

// Rank returns the sort weight of the priority; unknown values rank lowest.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// Project is a unit of manufacturing work tracked through the stage pipeline.
type Project struct {
	ID             string
	Organization   string
	CurrentStageID string
	Status         Status
	StageEnteredAt time.Time
	Priority       Priority
	Tags           []string
	Metadata       map[string]string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Complete reports whether derived relationship data (tags) was joined
	// when the record was read. Summary listings leave it false.
	Complete bool
}

// HasStage reports whether the project has entered its first stage.
func (p Project) HasStage() bool {
	return strings.TrimSpace(p.CurrentStageID) != ""
}

// MetadataValue returns a trimmed metadata value.
func (p Project) MetadataValue(key string) string {
	if p.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(p.Metadata[key])
}

// HasTag reports whether the project carries the tag (case-insensitive).
func (p Project) HasTag(tag string) bool {
	for _, existing := range p.Tags {
		if strings.EqualFold(existing, tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate tags and metadata freely.
func (p Project) Clone() Project {
	clone := p
	if p.Tags != nil {
		clone.Tags = make([]string, len(p.Tags))
		copy(clone.Tags, p.Tags)
	}
	if p.Metadata != nil {
		clone.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// NormalizeTags trims, lowercases, de-duplicates, and sorts tags.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	return out
}

// StageMutation describes a conditional stage change issued to the backing store.
// The store applies it only when the project still sits at FromStageID with
// ExpectedVersion; anything else means someone else changed the record first.
type StageMutation struct {
	ProjectID       string
	FromStageID     string
	ExpectedVersion int64
	ToStageID       string
	EnteredAt       time.Time
	Status          Status
}

// TransitionRecord is one append-only ledger entry.
type TransitionRecord struct {
	ID                string
	ProjectID         string
	Organization      string
	Sequence          int64
	FromStageID       string
	ToStageID         string
	ActorID           string
	Reason            string
	BypassReason      string
	EstimatedDuration time.Duration
	Timestamp         time.Time
	PrevHash          string
	Hash              string
}

// Overridden reports whether validation was bypassed for this transition.
func (r TransitionRecord) Overridden() bool {
	return strings.TrimSpace(r.BypassReason) != ""
}

// DeriveStatus returns the status a project should carry after entering a
// stage. Stage is authoritative: entering a terminal stage completes the
// project, leaving one reactivates it, and hold/cancel are never overwritten.
func DeriveStatus(current Status, enteringTerminal bool) Status {
	switch current {
	case StatusOnHold, StatusCancelled:
		return current
	}
	if enteringTerminal {
		return StatusCompleted
	}
	return StatusActive
}

// ChangeEvent signals that something in an organization changed in the
// backing store. It carries no guarantee about what changed.
type ChangeEvent struct {
	Organization string
	ObservedAt   time.Time
}

// ChangeSubscription is a live connection to an organization's change feed.
// Close tears the connection down; the Events channel is closed afterwards.
type ChangeSubscription interface {
	Events() <-chan ChangeEvent
	Close() error
}
