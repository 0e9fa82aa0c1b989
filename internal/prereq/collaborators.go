package prereq

import (
	"context"

	"stagewright/internal/project"
)

// Documents reports which required document kinds a project is missing.
type Documents interface {
	MissingDocuments(ctx context.Context, projectID string, kinds ...string) ([]string, error)
}

// Reviews lists unresolved technical-review findings.
type Reviews interface {
	OpenReviewItems(ctx context.Context, projectID string) ([]project.ReviewItem, error)
}

// Suppliers summarizes supplier RFQ state.
type Suppliers interface {
	RFQSummary(ctx context.Context, projectID string) (project.RFQSummary, error)
}

// Collaborators bundles the read-only lookups rules may use. Any field may be
// nil when no configured rule needs it.
type Collaborators struct {
	Documents Documents
	Reviews   Reviews
	Suppliers Suppliers
}

// Source is anything that serves all three lookups, such as the project store.
type Source interface {
	Documents
	Reviews
	Suppliers
}

// From builds Collaborators backed by a single source.
func From(src Source) Collaborators {
	return Collaborators{Documents: src, Reviews: src, Suppliers: src}
}
