package harvest

import (
	"fmt"
	"math/rand"
	"testing"
)

func rec(id string) ListingRecord {
	return ListingRecord{ProductID: id}
}

func TestAggregatorDedup(t *testing.T) {
	a := NewAggregator(10)

	fresh := a.Submit([]ListingRecord{rec("a"), rec("a"), rec("b")})
	if len(fresh) != 2 {
		t.Fatalf("fresh = %d, want 2", len(fresh))
	}
	if fresh[0].ProductID != "a" || fresh[1].ProductID != "b" {
		t.Errorf("insertion order broken: %v", fresh)
	}

	// Idempotence: resubmitting changes nothing.
	if again := a.Submit([]ListingRecord{rec("a"), rec("b")}); len(again) != 0 {
		t.Errorf("resubmit accepted %d records, want 0", len(again))
	}
	if len(a.Accepted()) != 2 {
		t.Errorf("accepted = %d, want 2", len(a.Accepted()))
	}
}

func TestAggregatorTargetTruncation(t *testing.T) {
	a := NewAggregator(3)

	batch := make([]ListingRecord, 0, 10)
	for i := 0; i < 10; i++ {
		batch = append(batch, rec(fmt.Sprintf("p%d", i)))
	}
	fresh := a.Submit(batch)
	if len(fresh) != 3 {
		t.Fatalf("fresh = %d, want 3 (target)", len(fresh))
	}
	if !a.IsSatisfied() {
		t.Error("target reached, IsSatisfied should be true")
	}
	if a.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", a.Remaining())
	}

	// Once satisfied, nothing more is accepted.
	if extra := a.Submit([]ListingRecord{rec("late")}); len(extra) != 0 {
		t.Errorf("accepted %d past target", len(extra))
	}
}

func TestAggregatorRandomizedInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		target := 1 + r.Intn(20)
		a := NewAggregator(target)

		for round := 0; round < 5; round++ {
			batch := make([]ListingRecord, 0, 40)
			for i := 0; i < 40; i++ {
				// Duplicate-laden: ids drawn from a small pool.
				batch = append(batch, rec(fmt.Sprintf("id%d", r.Intn(15))))
			}
			a.Submit(batch)
		}

		acc := a.Accepted()
		if len(acc) > target {
			t.Fatalf("trial %d: accepted %d > target %d", trial, len(acc), target)
		}
		seen := map[string]bool{}
		for _, rr := range acc {
			if seen[rr.ProductID] {
				t.Fatalf("trial %d: duplicate %q in accepted", trial, rr.ProductID)
			}
			seen[rr.ProductID] = true
		}
	}
}

func TestAggregatorSkipsEmptyIDs(t *testing.T) {
	a := NewAggregator(5)
	if fresh := a.Submit([]ListingRecord{{}, rec("x")}); len(fresh) != 1 {
		t.Errorf("fresh = %d, want 1 (empty id skipped)", len(fresh))
	}
}
