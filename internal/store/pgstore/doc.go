// Package pgstore runs the project store against PostgreSQL.
//
// Open applies the PostgreSQL flavour of the schema and hands back a regular
// store.Store using the pgx database/sql driver, so every query path is shared
// with the SQLite backend. Feed listens on the project_changes channel, which
// a trigger notifies with the organization of each changed project.
package pgstore
