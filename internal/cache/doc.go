// Package cache holds the process-local read copy of projects.
//
// An entry is served as current only while it is complete, not invalidated,
// and younger than the staleness window. Aged entries report a miss and
// schedule a background refresh; concurrent misses for the same project share
// one backend read. Local transitions go through Provisional: the pending
// value is visible via GetProvisional until the caller confirms it with the
// committed record or rolls it back.
package cache
