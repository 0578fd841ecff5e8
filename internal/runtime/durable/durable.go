// Package durable persists scan results for audit and cold-start recovery.
// Writes are best-effort: a persist failure is reported to the caller for
// logging but never affects the in-memory cache or the request outcome.
package durable

import (
	"context"

	"github.com/prosescan/prosescan/internal/runtime/cache"
)

// Store is the external collaborator boundary for the durable tier.
type Store interface {
	// Persist writes the entry under its composite key.
	Persist(ctx context.Context, key string, entry cache.Entry) error
	// Fetch reads a previously persisted entry; (zero, false, nil) on absence.
	// Used for lazy cold-start replay on a memory miss.
	Fetch(ctx context.Context, key string) (cache.Entry, bool, error)
	Close(ctx context.Context) error
}
