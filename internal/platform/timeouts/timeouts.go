// Package timeouts defines shared timeout constants used across the chat
// process. Centralizing these values prevents drift between boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// CollaboratorRequest caps a single HTTP call to an external collaborator
// (identity lookups, notification dispatch).
const CollaboratorRequest = 3 * time.Second
