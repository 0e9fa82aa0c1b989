// Package config loads, normalizes, and validates stagewright configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STAGEWRIGHT_POSTGRES_URL. The Config type centralizes every knob the daemon
// and CLI need: where the store lives, how long a mutation may take, how stale
// a cached project may get, and how often the reconciler may run.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
