// Package daemonctl starts, stops and inspects the stagewright daemon from
// the CLI. The daemon is reached over its HTTP status endpoint; its pid file
// and flock file are the fallback when the API does not answer.
package daemonctl
