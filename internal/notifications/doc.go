// Package notifications delivers operator-facing events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Individual event
// families (applied transitions, validation bypasses, ledger write failures)
// can be switched off in the [notifications] section; suppressed events are
// accepted and dropped.
package notifications
