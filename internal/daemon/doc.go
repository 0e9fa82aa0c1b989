// Package daemon runs the long-lived stagewright process.
//
// It wires configuration, the backing store, the transition coordinator and
// the change-feed reconciler into a single lifecycle with flock-based locking
// to prevent multiple instances per data directory. While running it serves
// the HTTP API, keeps one reconciler subscription per configured
// organization, and periodically prunes the store's change log.
//
// Keep orchestration here: transition semantics live in the transition
// package and the daemon only exposes them.
package daemon
