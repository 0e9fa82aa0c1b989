package prereq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stagewright/internal/project"
	"stagewright/internal/stages"
)

// Built-in rule identifiers referenced by workflow definitions.
const (
	RuleProjectActive          = "project_active"
	RuleCustomerAssigned       = "customer_assigned"
	RuleInquiryDocuments       = "inquiry_documents"
	RulePrioritySet            = "priority_set"
	RuleReviewItemsClosed      = "review_items_closed"
	RuleSupplierQuotesReceived = "supplier_quotes_received"
	RuleQuoteDocument          = "quote_document"
	RuleCustomerPOReceived     = "customer_po_received"
	RuleRFQAwarded             = "rfq_awarded"
	RuleProductionPlan         = "production_plan"
	RuleMaterialsConfirmed     = "materials_confirmed"
	RuleInspectionReport       = "inspection_report"
)

// Metadata keys read by built-in rules.
const (
	MetadataCustomer           = "customer"
	MetadataMaterialsConfirmed = "materials_confirmed"
)

// ErrCollaboratorUnavailable is returned when a rule needs a lookup that was
// not configured.
var ErrCollaboratorUnavailable = errors.New("prerequisite collaborator not configured")

// Input is what a rule sees.
type Input struct {
	Project project.Project
	Target  stages.Stage
	Current *stages.Stage
}

// EvaluateFunc checks a rule. A non-nil error means the rule could not be
// evaluated; the verdict is ignored in that case.
type EvaluateFunc func(ctx context.Context, in Input, collab Collaborators) (Verdict, error)

// Rule is one named prerequisite.
type Rule struct {
	ID          string
	Description string
	// ApprovalGated rules mark the stage as bypassable only by a manager,
	// whether they pass or fail.
	ApprovalGated bool
	// ManualConfirmation rules prevent automatic advancement.
	ManualConfirmation bool
	Evaluate           EvaluateFunc
}

// BuiltinRules returns the manufacturing rule set.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:          RuleProjectActive,
			Description: "project is not on hold or cancelled",
			Evaluate:    projectActive,
		},
		{
			ID:          RuleCustomerAssigned,
			Description: "a customer is recorded on the project",
			Evaluate:    customerAssigned,
		},
		{
			ID:          RuleInquiryDocuments,
			Description: "drawing and specification are attached",
			Evaluate:    requireDocuments(project.DocumentDrawing, project.DocumentSpecification),
		},
		{
			ID:          RulePrioritySet,
			Description: "a priority is set",
			Evaluate:    prioritySet,
		},
		{
			ID:          RuleReviewItemsClosed,
			Description: "all technical review items are resolved",
			Evaluate:    reviewItemsClosed,
		},
		{
			ID:          RuleSupplierQuotesReceived,
			Description: "suppliers have answered outstanding RFQs",
			Evaluate:    supplierQuotesReceived,
		},
		{
			ID:          RuleQuoteDocument,
			Description: "a customer quote is attached",
			Evaluate:    requireDocuments(project.DocumentQuote),
		},
		{
			ID:            RuleCustomerPOReceived,
			Description:   "the customer purchase order is attached",
			ApprovalGated: true,
			Evaluate:      requireDocuments(project.DocumentPurchaseOrder),
		},
		{
			ID:          RuleRFQAwarded,
			Description: "at least one supplier RFQ is awarded",
			Evaluate:    rfqAwarded,
		},
		{
			ID:          RuleProductionPlan,
			Description: "a production plan is attached",
			Evaluate:    requireDocuments(project.DocumentProductionPlan),
		},
		{
			ID:                 RuleMaterialsConfirmed,
			Description:        "materials availability was confirmed",
			ManualConfirmation: true,
			Evaluate:           materialsConfirmed,
		},
		{
			ID:                 RuleInspectionReport,
			Description:        "a final inspection report is attached",
			ApprovalGated:      true,
			ManualConfirmation: true,
			Evaluate:           requireDocuments(project.DocumentInspectionReport),
		},
	}
}

// globalRules run before any stage rule, for every target.
var globalRules = []string{RuleProjectActive}

func projectActive(_ context.Context, in Input, _ Collaborators) (Verdict, error) {
	switch in.Project.Status {
	case project.StatusOnHold:
		return Fail("project is on hold"), nil
	case project.StatusCancelled:
		return Fail("project is cancelled"), nil
	}
	return Pass(), nil
}

func customerAssigned(_ context.Context, in Input, _ Collaborators) (Verdict, error) {
	if in.Project.MetadataValue(MetadataCustomer) == "" {
		return Fail("no customer assigned"), nil
	}
	return Pass(), nil
}

func prioritySet(_ context.Context, in Input, _ Collaborators) (Verdict, error) {
	if in.Project.Priority == "" || in.Project.Priority == project.PriorityNone {
		return Warn("priority is not set"), nil
	}
	return Pass(), nil
}

func requireDocuments(kinds ...string) EvaluateFunc {
	return func(ctx context.Context, in Input, collab Collaborators) (Verdict, error) {
		if collab.Documents == nil {
			return Verdict{}, fmt.Errorf("documents: %w", ErrCollaboratorUnavailable)
		}
		missing, err := collab.Documents.MissingDocuments(ctx, in.Project.ID, kinds...)
		if err != nil {
			return Verdict{}, fmt.Errorf("documents: %w", err)
		}
		var v Verdict
		for _, kind := range missing {
			v.Errors = append(v.Errors, fmt.Sprintf("missing %s document", strings.ReplaceAll(kind, "_", " ")))
		}
		return v, nil
	}
}

func reviewItemsClosed(ctx context.Context, in Input, collab Collaborators) (Verdict, error) {
	if collab.Reviews == nil {
		return Verdict{}, fmt.Errorf("reviews: %w", ErrCollaboratorUnavailable)
	}
	open, err := collab.Reviews.OpenReviewItems(ctx, in.Project.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("reviews: %w", err)
	}
	if len(open) == 0 {
		return Pass(), nil
	}
	summaries := make([]string, 0, len(open))
	for _, item := range open {
		summaries = append(summaries, item.Summary)
	}
	return Fail(fmt.Sprintf("%d review item(s) open: %s", len(open), strings.Join(summaries, "; "))), nil
}

func supplierQuotesReceived(ctx context.Context, in Input, collab Collaborators) (Verdict, error) {
	if collab.Suppliers == nil {
		return Verdict{}, fmt.Errorf("suppliers: %w", ErrCollaboratorUnavailable)
	}
	summary, err := collab.Suppliers.RFQSummary(ctx, in.Project.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("suppliers: %w", err)
	}
	if summary.Responded < summary.Sent {
		return Warn(fmt.Sprintf("%d of %d supplier RFQs unanswered", summary.Sent-summary.Responded, summary.Sent)), nil
	}
	return Pass(), nil
}

func rfqAwarded(ctx context.Context, in Input, collab Collaborators) (Verdict, error) {
	if collab.Suppliers == nil {
		return Verdict{}, fmt.Errorf("suppliers: %w", ErrCollaboratorUnavailable)
	}
	summary, err := collab.Suppliers.RFQSummary(ctx, in.Project.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("suppliers: %w", err)
	}
	if summary.Awarded == 0 {
		return Fail("no supplier RFQ awarded"), nil
	}
	return Pass(), nil
}

func materialsConfirmed(_ context.Context, in Input, _ Collaborators) (Verdict, error) {
	confirmed, err := strconv.ParseBool(in.Project.MetadataValue(MetadataMaterialsConfirmed))
	if err != nil || !confirmed {
		return Fail("materials availability not confirmed"), nil
	}
	return Pass(), nil
}
