// Package actor carries the caller identity (actor id, organization scope,
// privilege level) and request correlation ids through context.Context.
//
// The engine never reads identity from ambient session state. Transports (the
// HTTP API, the CLI, automation jobs) resolve the identity once and attach it
// with WithActor; every engine operation reads it back with FromContext.
package actor
