package harvest

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// BatchSink persists one finalized batch. Each batch is pushed exactly once,
// in backlog order; sunk batches are never retracted.
type BatchSink interface {
	PersistBatch(ctx context.Context, batch []EnrichedRecord) (int, error)
}

// SchedulerConfig bounds enrichment concurrency and pacing.
type SchedulerConfig struct {
	// Width is the chunk size and concurrent worker count per chunk.
	Width int
	// PaceMin/PaceMax bound the randomized delay applied between chunks.
	PaceMin time.Duration
	PaceMax time.Duration
	// Target caps the total number of persisted records.
	Target int
}

// BatchScheduler splits the enrichment backlog into fixed-size chunks. Each
// chunk's items are enriched concurrently by a bounded worker group; workers
// only return results, which are merged and persisted on the driver goroutine
// before the next chunk starts.
type BatchScheduler struct {
	enricher *Enricher
	sink     BatchSink
	cfg      SchedulerConfig
	log      *log.Entry
}

func NewBatchScheduler(enricher *Enricher, sink BatchSink, cfg SchedulerConfig) *BatchScheduler {
	if cfg.Width <= 0 {
		cfg.Width = 6
	}
	if cfg.PaceMin <= 0 {
		cfg.PaceMin = 1 * time.Second
	}
	if cfg.PaceMax < cfg.PaceMin {
		cfg.PaceMax = cfg.PaceMin + time.Second
	}
	return &BatchScheduler{
		enricher: enricher,
		sink:     sink,
		cfg:      cfg,
		log:      log.WithField("component", "batch-scheduler"),
	}
}

// Run processes the backlog chunk by chunk, halting early once the target is
// reached; the halt check happens before each new batch, so in-flight work in
// the current batch always completes. Returns the persisted count.
func (s *BatchScheduler) Run(ctx context.Context, backlog []ListingRecord) (int, error) {
	persisted := 0
	target := s.cfg.Target
	if target <= 0 {
		target = len(backlog)
	}

	for start := 0; start < len(backlog); start += s.cfg.Width {
		if persisted >= target {
			s.log.WithField("persisted", persisted).Info("target reached; dropping remaining backlog")
			break
		}
		if err := ctx.Err(); err != nil {
			return persisted, err
		}

		end := start + s.cfg.Width
		if end > len(backlog) {
			end = len(backlog)
		}
		chunk := backlog[start:end]

		results := s.enrichChunk(ctx, chunk)

		// Never persist past the target, even mid-batch.
		if room := target - persisted; len(results) > room {
			results = results[:room]
		}

		n, err := s.sink.PersistBatch(ctx, results)
		if err != nil {
			return persisted, err
		}
		persisted += n
		s.log.WithFields(log.Fields{
			"batch":     start / s.cfg.Width,
			"size":      len(results),
			"persisted": persisted,
		}).Info("batch persisted")

		if end < len(backlog) && persisted < target {
			select {
			case <-time.After(jitterBetween(s.cfg.PaceMin, s.cfg.PaceMax)):
			case <-ctx.Done():
				return persisted, ctx.Err()
			}
		}
	}
	return persisted, nil
}

// enrichChunk fans one chunk out to a worker per item and merges results back
// in slot order, so batches stay deterministic even though completion order
// inside the chunk is not.
func (s *BatchScheduler) enrichChunk(ctx context.Context, chunk []ListingRecord) []EnrichedRecord {
	results := make([]EnrichedRecord, len(chunk))
	var wg sync.WaitGroup

	for i, rec := range chunk {
		wg.Add(1)
		go func(slot int, rec ListingRecord) {
			defer wg.Done()
			if rec.HasCompleteData {
				// Rich enough from the listing alone; the detail visit is skipped.
				results[slot] = EnrichedRecord{
					ListingRecord:        rec,
					ScrapedAt:            time.Now().UTC(),
					DetailFetchSucceeded: true,
				}
				return
			}
			results[slot] = s.enricher.Enrich(ctx, rec)
		}(i, rec)
	}
	wg.Wait()
	return results
}

func jitterBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
