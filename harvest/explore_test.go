package harvest_test

import (
	"context"
	"testing"
	"time"

	"catalog-harvester/adapters"
	"catalog-harvester/harvest"
)

func newTestExplorer(surface harvest.Surface, target, stall int) (*harvest.Explorer, *harvest.Aggregator) {
	norm := harvest.NewNormalizer(harvest.NormalizerConfig{
		BaseURL:      "https://catalog.example",
		ImageCDNBase: "https://cdn.example/images",
	})
	agg := harvest.NewAggregator(target)
	exp := harvest.NewExplorer(
		surface,
		harvest.NewNetworkCapture(nil),
		harvest.NewEmbeddedState("", nil),
		harvest.NewDOMScan(""),
		norm,
		agg,
		harvest.ExplorerConfig{StallThreshold: stall, Settle: time.Millisecond},
	)
	return exp, agg
}

func embeddedPage(tokens ...string) string {
	html := `<html><body><script type="application/json">{"props":{"pageProps":{"products":[`
	for i, tok := range tokens {
		if i > 0 {
			html += ","
		}
		html += `{"token":"` + tok + `"}`
	}
	return html + `]}}}</script></body></html>`
}

func TestExplorerStallExhaustion(t *testing.T) {
	// One productive page, then silence: [3 new, 0, 0, 0, 0, 0] with stall
	// threshold 5 must exhaust after the 6th cycle with 3 accepted.
	surface := adapters.NewMockSurface([]adapters.MockPage{
		{HTML: embeddedPage("a", "b", "c")},
		{HTML: "<html><body></body></html>"},
	})

	exp, _ := newTestExplorer(surface, 10, 5)
	res, err := exp.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !res.Exhausted {
		t.Error("expected exhaustion")
	}
	if len(res.Accepted) != 3 {
		t.Errorf("accepted = %d, want 3", len(res.Accepted))
	}
	if res.Cycles != 6 {
		t.Errorf("cycles = %d, want 6", res.Cycles)
	}
}

func TestExplorerSatisfiedStopsCapturing(t *testing.T) {
	surface := adapters.NewMockSurface([]adapters.MockPage{
		{HTML: embeddedPage("a", "b")},
		{HTML: embeddedPage("c", "d", "e", "f")},
	})

	exp, agg := newTestExplorer(surface, 3, 5)
	res, err := exp.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Exhausted {
		t.Error("run should be satisfied, not exhausted")
	}
	if len(res.Accepted) != 3 {
		t.Errorf("accepted = %d, want target 3", len(res.Accepted))
	}
	if !agg.IsSatisfied() {
		t.Error("aggregator should be satisfied")
	}
}

func TestExplorerEndToEndAcrossStrategies(t *testing.T) {
	// Cycle 1: embedded state yields [a, a, b]; cycle 2: the network capture
	// sees a listing API response carrying c. Target 5 is never met, so the
	// run continues to exhaustion with exactly {a, b, c}.
	surface := adapters.NewMockSurface([]adapters.MockPage{
		{HTML: embeddedPage("a", "a", "b")},
		{
			HTML: "<html><body></body></html>",
			Responses: []harvest.ResponseEvent{{
				URL:         "https://x/api/v1/product-search?page=2",
				Status:      200,
				ContentType: "application/json",
				Body:        []byte(`{"products":[{"token":"c"}]}`),
			}},
		},
		{HTML: "<html><body></body></html>"},
	})

	exp, _ := newTestExplorer(surface, 5, 5)
	res, err := exp.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !res.Exhausted {
		t.Error("target 5 with only 3 available must exhaust")
	}
	got := map[string]bool{}
	for _, r := range res.Accepted {
		got[r.ProductID] = true
	}
	if len(res.Accepted) != 3 || !got["a"] || !got["b"] || !got["c"] {
		t.Errorf("accepted = %+v, want {a,b,c}", res.Accepted)
	}
}

func TestExplorerContextCancellation(t *testing.T) {
	surface := adapters.NewMockSurface([]adapters.MockPage{
		{HTML: "<html><body></body></html>"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exp, _ := newTestExplorer(surface, 5, 5)
	if _, err := exp.Run(ctx); err == nil {
		t.Error("cancelled context should surface an error")
	}
}
