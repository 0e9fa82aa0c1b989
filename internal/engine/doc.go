// Package engine assembles the transition engine from configuration: it
// opens the configured store, loads the workflow, and wires the prerequisite
// checker, ledger, cache, notifier and coordinator together. Both the CLI and
// the daemon build their runtime through Open.
package engine
