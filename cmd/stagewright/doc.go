// Package main hosts the stagewright CLI entrypoint and command graph.
//
// The Cobra-based command tree either runs the transition engine in-process
// against the configured store or, with --remote, forwards requests to a
// running daemon over its HTTP API. Both paths go through api.Operations so
// commands render the same output regardless of where the work happened.
//
// Project administration (creating projects, editing tags and metadata,
// recording collaborator data) always writes to the store directly; a running
// daemon picks those changes up through its change feed.
package main
