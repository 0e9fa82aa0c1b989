// Package ledger appends and reads the per-project stage history.
//
// Entries are written only after a stage mutation has committed, numbered by
// a 1-based per-project sequence and chained by SHA-256 so that edits made
// behind the engine's back are detectable with Verify. A failed append is
// never rolled back into the mutation: Record logs it, notifies operators,
// and hands ErrLedgerWrite back for the caller's outcome.
package ledger
