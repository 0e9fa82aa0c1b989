// Package api defines wire-format types, converters and the HTTP client for
// the stagewright API. It translates engine types (projects, stages,
// validation results, ledger records, transition outcomes) into DTOs that
// external consumers can render without coupling to internal packages.
//
// # Key Types
//
// Project, Stage, Workflow: read models with RFC3339 millisecond timestamps.
//
// ValidationResult, Availability: prerequisite outcomes per target stage.
//
// TransitionOutcome, Error, ErrorResponse: what a transition did. Failures
// carry mutationCommitted and ledgerRecorded so a client never retries a
// transition that already happened.
//
// # Service and Client
//
// Service runs operations in-process over a transition.Coordinator; Client
// runs the same Operations against a daemon over HTTP and rebuilds
// transition errors from the wire so callers classify both the same way.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Error kinds map to HTTP statuses in
// StatusCode.
package api
