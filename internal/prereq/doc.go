// Package prereq evaluates the domain rules gating entry to a stage.
//
// A Checker runs the global guard rules and then every rule a target stage
// declares, in declared order, without short-circuiting: callers receive the
// complete list of blockers in one pass. Rules read project attributes and,
// where needed, the read-only collaborator interfaces (Documents, Reviews,
// Suppliers). The checker never mutates anything.
//
// Rules are flagged advisory (failures become warnings), approval-gated (only a
// manager may bypass them), or manual-confirmation (the
// transition must not be applied automatically even when it passes).
package prereq
