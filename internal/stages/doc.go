// Package stages loads the workflow stage graph: the canonical pipeline
// positions a project can occupy and the edges allowed between them.
//
// Definitions are YAML documents (a built-in manufacturing pipeline is
// embedded; deployments may point workflow.definition_path at their own file).
// A Graph is built once at startup and never mutated afterwards, so lookups
// are lock-free and safe from any goroutine. ErrStageNotFound signals a
// caller or data-integrity error and should never be retried.
package stages
