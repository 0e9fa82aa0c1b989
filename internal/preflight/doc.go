// Package preflight provides readiness checks for the filesystem paths,
// backing store, and services stagewright depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll on startup and refuses to start when the store
//     or workflow checks fail.
//   - The CLI "stagewright status" command and the daemon's /api/status
//     endpoint render the same results as dependency health.
//
// Optional services are skipped or reported as disabled when unconfigured.
package preflight
