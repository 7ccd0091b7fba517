package harvest

// Aggregator owns the run's identity state: which product IDs have been seen
// and which records were accepted, in first-seen order, up to a target count.
// One instance is scoped to one run and handed to the exploration controller;
// it is never shared across runs and is mutated only from the driver goroutine.
type Aggregator struct {
	seen     map[string]struct{}
	accepted []ListingRecord
	target   int
}

func NewAggregator(target int) *Aggregator {
	if target <= 0 {
		target = 1
	}
	return &Aggregator{
		seen:   make(map[string]struct{}, target*2),
		target: target,
	}
}

// Submit filters candidates against the seen set and appends the new ones,
// returning the newly accepted subsequence in insertion order. First-seen wins
// on duplicates. Once the target is reached no further candidates are accepted.
func (a *Aggregator) Submit(candidates []ListingRecord) []ListingRecord {
	var fresh []ListingRecord
	for _, c := range candidates {
		if len(a.accepted) >= a.target {
			break
		}
		if c.ProductID == "" {
			continue
		}
		if _, ok := a.seen[c.ProductID]; ok {
			continue
		}
		a.seen[c.ProductID] = struct{}{}
		a.accepted = append(a.accepted, c)
		fresh = append(fresh, c)
	}
	return fresh
}

// IsSatisfied reports whether the target count has been reached.
func (a *Aggregator) IsSatisfied() bool {
	return len(a.accepted) >= a.target
}

// Remaining is how many more records are needed to satisfy the target.
func (a *Aggregator) Remaining() int {
	r := a.target - len(a.accepted)
	if r < 0 {
		return 0
	}
	return r
}

func (a *Aggregator) Target() int { return a.target }

// Accepted returns a copy of the accepted sequence, truncated to the target.
func (a *Aggregator) Accepted() []ListingRecord {
	n := len(a.accepted)
	if n > a.target {
		n = a.target
	}
	out := make([]ListingRecord, n)
	copy(out, a.accepted[:n])
	return out
}
