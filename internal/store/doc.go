// Package store persists projects, their stage history, and the collaborator
// records prerequisite rules read (documents, review items, supplier RFQs).
//
// The Store speaks database/sql and ships with a SQLite dialect (the default,
// backed by modernc.org/sqlite). Package pgstore reuses the same Store against
// PostgreSQL through FromDB. Stage mutations are conditional on the expected
// version and from-stage, so a concurrent writer (another engine, a batch job,
// a hand-edited row) surfaces as ErrVersionConflict instead of being silently
// overwritten. The stage_history table is append-only; triggers reject updates
// and deletes.
//
// Triggers also record every project insert or update in project_changes, which
// ChangeFeed polls to tell the reconciler that an organization changed. Schema
// changes bump schemaVersion; operators recreate the database to adopt them.
package store
