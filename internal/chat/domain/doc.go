// Package domain implements conversation lifecycle, message ordering, and
// unread tracking for 1:1 chat.
//
// It keeps find-or-create dedup, append-only message semantics, and
// per-participant unread counters isolated from transport and persistence
// so the storage adapter and the WebSocket surface stay replaceable.
package domain
