// Package project defines the records the stage-transition engine reads and
// writes: projects, their coarse lifecycle status, stage mutations, and the
// append-only transition records that form each project's history.
//
// The backing store owns these records. The engine only ever holds cached
// projections of them, so every type here is a plain value that is safe to copy
// between goroutines. Use Clone before handing a Project to code that might
// mutate its tags or metadata.
//
// Stage identifiers are opaque strings resolved against the workflow graph in
// package stages; an empty CurrentStageID means the project has not entered its
// first stage yet.
package project
