// Package sink holds the persistence collaborators: an append-only CSV sink
// with a sidecar ID index and a cross-process lock, and a Postgres sink using
// batched inserts with ON CONFLICT DO NOTHING. Batches are final once sunk.
package sink

import (
	"context"

	"catalog-harvester/harvest"
)

// Sink persists finalized enrichment batches. PersistBatch returns the number
// of rows actually inserted (rows already present from an earlier run are
// skipped, not errors).
type Sink interface {
	PersistBatch(ctx context.Context, batch []harvest.EnrichedRecord) (int, error)
	Close(ctx context.Context) error
}
