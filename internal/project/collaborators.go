package project

import (
	"strings"
	"time"
)

// Document kinds the built-in prerequisite rules look for.
const (
	DocumentDrawing          = "drawing"
	DocumentSpecification    = "specification"
	DocumentQuote            = "quote"
	DocumentPurchaseOrder    = "purchase_order"
	DocumentProductionPlan   = "production_plan"
	DocumentInspectionReport = "inspection_report"
)

// Document is a file attached to a project.
type Document struct {
	ID         int64
	ProjectID  string
	Kind       string
	Name       string
	UploadedAt time.Time
}

// ReviewItem is a technical-review finding that must be closed before quoting.
type ReviewItem struct {
	ID         int64
	ProjectID  string
	Summary    string
	Resolved   bool
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// RFQState tracks a supplier request-for-quote.
type RFQState string

const (
	RFQSent      RFQState = "sent"
	RFQResponded RFQState = "responded"
	RFQAwarded   RFQState = "awarded"
	RFQDeclined  RFQState = "declined"
)

// ParseRFQState converts a string into a known RFQState.
func ParseRFQState(value string) (RFQState, bool) {
	state := RFQState(strings.ToLower(strings.TrimSpace(value)))
	switch state {
	case RFQSent, RFQResponded, RFQAwarded, RFQDeclined:
		return state, true
	default:
		return "", false
	}
}

// RFQSummary counts supplier RFQs by state. Sent counts every RFQ issued;
// Responded counts those with any answer (responded, awarded or declined).
type RFQSummary struct {
	Sent      int
	Responded int
	Awarded   int
	Declined  int
}
