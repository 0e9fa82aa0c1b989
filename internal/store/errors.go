package store

import "errors"

var (
	// ErrNotFound indicates the requested project does not exist.
	ErrNotFound = errors.New("project not found")
	// ErrAlreadyExists indicates a project id collision on create.
	ErrAlreadyExists = errors.New("project already exists")
	// ErrVersionConflict indicates the project changed since it was read.
	ErrVersionConflict = errors.New("project changed concurrently")
	// ErrDuplicateSequence indicates another history entry already claimed the sequence.
	ErrDuplicateSequence = errors.New("history sequence already recorded")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
