package prereq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"stagewright/internal/logging"
	"stagewright/internal/project"
	"stagewright/internal/stages"
)

// Checker evaluates stage prerequisites. It is safe for concurrent use.
type Checker struct {
	rules  map[string]Rule
	collab Collaborators
	logger *slog.Logger
}

// Option customizes a Checker.
type Option func(*Checker)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logging.NewComponentLogger(logger, "prereq")
	}
}

// WithRules registers additional rules, replacing built-ins with the same id.
func WithRules(rules ...Rule) Option {
	return func(c *Checker) {
		for _, rule := range rules {
			c.rules[rule.ID] = rule
		}
	}
}

// NewChecker builds a checker for graph. It fails when a stage names a rule
// that is not registered.
func NewChecker(graph *stages.Graph, collab Collaborators, opts ...Option) (*Checker, error) {
	c := &Checker{
		rules:  make(map[string]Rule),
		collab: collab,
		logger: logging.NewNop(),
	}
	for _, rule := range BuiltinRules() {
		c.rules[rule.ID] = rule
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	for id, rule := range c.rules {
		if strings.TrimSpace(id) == "" || rule.Evaluate == nil {
			return nil, fmt.Errorf("prereq: rule %q is incomplete", id)
		}
	}
	if graph == nil {
		return nil, errors.New("prereq: graph is required")
	}
	var unknown []string
	for _, stg := range graph.Stages() {
		for _, id := range stg.Prerequisites {
			if _, ok := c.rules[id]; !ok {
				unknown = append(unknown, fmt.Sprintf("%s (stage %s)", id, stg.ID))
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("prereq: unknown rules: %s", strings.Join(unknown, ", "))
	}
	return c, nil
}

// Rule returns the registered rule with id.
func (c *Checker) Rule(id string) (Rule, bool) {
	rule, ok := c.rules[id]
	return rule, ok
}

// RequiresApproval reports whether any rule the stage declares is
// approval-gated. It does not evaluate anything.
func (c *Checker) RequiresApproval(stage stages.Stage) bool {
	for _, id := range c.ruleIDs(stage) {
		if c.rules[id].ApprovalGated {
			return true
		}
	}
	return false
}

func (c *Checker) ruleIDs(target stages.Stage) []string {
	ids := make([]string, 0, len(globalRules)+len(target.Prerequisites))
	ids = append(ids, globalRules...)
	for _, id := range target.Prerequisites {
		if id == RuleProjectActive {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Check runs every rule guarding entry to target. All rules run even after a
// failure. When a collaborator lookup fails the returned Result still covers
// every other rule, the failed rule counts as an error, and err is non-nil.
func (c *Checker) Check(ctx context.Context, p project.Project, target stages.Stage, current *stages.Stage) (Result, error) {
	in := Input{Project: p, Target: target, Current: current}
	result := Result{Errors: []string{}, Warnings: []string{}}
	manual := false
	var evalErrs []error

	for _, id := range c.ruleIDs(target) {
		rule := c.rules[id]
		finding := Finding{Rule: id, ApprovalGated: rule.ApprovalGated, ManualConfirmation: rule.ManualConfirmation}
		verdict, err := rule.Evaluate(ctx, in, c.collab)
		if err != nil {
			evalErrs = append(evalErrs, fmt.Errorf("%s: %w", id, err))
			verdict = Fail(fmt.Sprintf("%s could not be evaluated", id))
			c.logger.Debug("prerequisite evaluation failed",
				logging.String(logging.FieldProjectID, p.ID),
				logging.String("rule", id),
				logging.Error(err),
			)
		}
		finding.Errors = verdict.Errors
		finding.Warnings = verdict.Warnings
		finding.Passed = len(verdict.Errors) == 0
		result.Errors = append(result.Errors, verdict.Errors...)
		result.Warnings = append(result.Warnings, verdict.Warnings...)
		if rule.ApprovalGated {
			result.RequiresManagerApproval = true
		}
		if rule.ManualConfirmation {
			manual = true
		}
		result.Findings = append(result.Findings, finding)
	}

	result.Valid = len(result.Errors) == 0
	result.CanAutoAdvance = result.Valid && !manual
	c.logger.Debug("prerequisites checked",
		logging.String(logging.FieldProjectID, p.ID),
		logging.String(logging.FieldTargetStage, target.ID),
		logging.Bool("valid", result.Valid),
		logging.Int("errors", len(result.Errors)),
		logging.Int("warnings", len(result.Warnings)),
	)
	if len(evalErrs) > 0 {
		return result, errors.Join(evalErrs...)
	}
	return result, nil
}
