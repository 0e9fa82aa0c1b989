// Package logging assembles structured slog loggers and formatting helpers used
// across stagewright.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine code can automatically
// tag log lines with project IDs, target stages, actors, and correlation IDs.
// The console handler lifts project and target stage into a "[PRJ-1 -> quote]"
// prefix. A no-op logger is provided for tests and wiring code that cannot fail.
//
// WARN and ERROR records should go through WarnWithContext/ErrorWithContext so
// every one carries event_type and error_hint for alerting.
package logging
