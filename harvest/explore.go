package harvest

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Surface is the slice of the rendering collaborator the exploration
// controller drives: trigger a reveal action, take a document snapshot, and
// drain the response events captured since the last drain. Navigation, cookie
// injection and stealth configuration live behind the collaborator.
type Surface interface {
	Reveal(ctx context.Context) error
	Snapshot(ctx context.Context) (string, error)
	DrainResponses() []ResponseEvent
}

type phase int

const (
	phaseInitializing phase = iota
	phaseCapturing
	phaseDraining
	phaseDeciding
	phaseSatisfied
	phaseExhausted
)

func (p phase) String() string {
	switch p {
	case phaseInitializing:
		return "initializing"
	case phaseCapturing:
		return "capturing"
	case phaseDraining:
		return "draining"
	case phaseDeciding:
		return "deciding"
	case phaseSatisfied:
		return "satisfied"
	case phaseExhausted:
		return "exhausted"
	}
	return "unknown"
}

// ExplorerConfig bounds one exploration run.
type ExplorerConfig struct {
	// StallThreshold is how many consecutive zero-yield drain cycles are
	// tolerated before the run is judged exhausted.
	StallThreshold int
	// Settle is how long to wait after a reveal action for asynchronous data
	// to arrive before draining.
	Settle time.Duration
}

// ExploreResult is the terminal outcome of a run. Exhausted is not an error:
// it reports a partial result set whose shortfall the caller can observe.
type ExploreResult struct {
	Accepted  []ListingRecord
	Cycles    int
	Exhausted bool
}

// Explorer drives repeated capture opportunities against the rendering
// surface until the aggregator's target is met or the stall threshold is hit.
// It owns the only goroutine that mutates the aggregator.
type Explorer struct {
	surface  Surface
	network  *NetworkCapture
	embedded *EmbeddedState
	domScan  *DOMScan
	norm     *Normalizer
	agg      *Aggregator
	cfg      ExplorerConfig
	log      *log.Entry
}

func NewExplorer(surface Surface, network *NetworkCapture, embedded *EmbeddedState, domScan *DOMScan, norm *Normalizer, agg *Aggregator, cfg ExplorerConfig) *Explorer {
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 5
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 1500 * time.Millisecond
	}
	return &Explorer{
		surface:  surface,
		network:  network,
		embedded: embedded,
		domScan:  domScan,
		norm:     norm,
		agg:      agg,
		cfg:      cfg,
		log:      log.WithField("component", "explorer"),
	}
}

// Run executes the state machine:
//
//	Initializing → Capturing → Draining → Deciding → {Capturing | Exhausted | Satisfied}
//
// Reaching the target is a cooperative cancellation point checked before each
// new capture cycle. Context cancellation terminates the run with whatever
// was accepted so far.
func (e *Explorer) Run(ctx context.Context) (ExploreResult, error) {
	state := phaseInitializing
	cycles := 0
	stalls := 0
	var pending []ListingRecord

	for {
		if err := ctx.Err(); err != nil {
			return e.result(cycles, true), err
		}

		switch state {
		case phaseInitializing:
			// First stable render: any non-empty extraction goes straight to
			// a drain, skipping the reveal.
			pending = e.collect(ctx)
			if len(pending) > 0 {
				state = phaseDraining
			} else {
				pending = nil
				state = phaseCapturing
			}

		case phaseCapturing:
			if err := e.surface.Reveal(ctx); err != nil {
				e.log.WithError(err).Warn("reveal action failed")
			}
			select {
			case <-time.After(e.cfg.Settle):
			case <-ctx.Done():
				return e.result(cycles, true), ctx.Err()
			}
			state = phaseDraining

		case phaseDraining:
			cycles++
			batch := pending
			pending = nil
			if batch == nil {
				batch = e.collect(ctx)
			}
			fresh := e.agg.Submit(batch)
			if len(fresh) == 0 {
				stalls++
			} else {
				stalls = 0
			}
			e.log.WithFields(log.Fields{
				"cycle":    cycles,
				"fresh":    len(fresh),
				"accepted": len(e.agg.Accepted()),
				"stalls":   stalls,
			}).Debug("drain cycle")
			state = phaseDeciding

		case phaseDeciding:
			switch {
			case e.agg.IsSatisfied():
				state = phaseSatisfied
			case stalls >= e.cfg.StallThreshold:
				state = phaseExhausted
			default:
				state = phaseCapturing
			}

		case phaseSatisfied:
			e.log.WithField("cycles", cycles).Info("target satisfied")
			return e.result(cycles, false), nil

		case phaseExhausted:
			e.log.WithFields(log.Fields{
				"cycles":   cycles,
				"accepted": len(e.agg.Accepted()),
				"target":   e.agg.Target(),
			}).Info("exploration exhausted before target")
			return e.result(cycles, true), nil
		}
	}
}

// collect runs the extraction strategies in priority order and normalizes
// their output. A failing strategy contributes nothing; only candidates with
// a derivable identifier survive.
func (e *Explorer) collect(ctx context.Context) []ListingRecord {
	var raw []RawCandidate

	for _, ev := range e.surface.DrainResponses() {
		e.network.Observe(ev)
	}
	raw = append(raw, e.network.Drain()...)

	html, err := e.surface.Snapshot(ctx)
	if err != nil {
		e.log.WithError(err).Warn("snapshot failed")
	} else {
		raw = append(raw, e.embedded.Extract(html)...)
		raw = append(raw, e.domScan.Extract(html)...)
	}

	out := make([]ListingRecord, 0, len(raw))
	for _, c := range raw {
		if r := e.norm.Normalize(c); r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (e *Explorer) result(cycles int, exhausted bool) ExploreResult {
	return ExploreResult{
		Accepted:  e.agg.Accepted(),
		Cycles:    cycles,
		Exhausted: exhausted,
	}
}
