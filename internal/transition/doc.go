// Package transition moves projects between workflow stages.
//
// The Coordinator runs one transition per project at a time through the
// phases Validating, Mutating and Recording. Structural checks against the
// stage graph are never bypassable; prerequisite checks may be skipped by a
// manager-level actor who supplies a bypass reason. The stage mutation is
// conditional on the project's version and stage, bounded by a timeout, and
// treated as failed when the timeout fires. History is written only after the
// mutation commits, and a history failure never undoes the transition: it is
// reported separately in Outcome.LedgerErr.
//
// Every failure is a *Error carrying a Kind, a human-readable reason list,
// and which side (mutation or ledger) committed.
package transition
