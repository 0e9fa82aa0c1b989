// Package reconcile keeps the project cache coherent with changes made
// outside this process.
//
// A Reconciler subscribes to a per-organization change feed. Each event passes
// a last-fired check; inside the debounce window it is dropped, not queued.
// An allowed event invalidates the organization's cached projects and
// refetches them in the background. Refresh failures are logged and left for
// the next event or poll.
package reconcile
