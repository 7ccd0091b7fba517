package harvest

import "testing"

func TestNetworkCaptureFiltering(t *testing.T) {
	nc := NewNetworkCapture(nil)

	body := []byte(`{"products":[{"token":"a"},{"token":"b"}]}`)

	// Wrong status, wrong content type, and non-matching URL are all ignored.
	nc.Observe(ResponseEvent{URL: "https://x/api/v1/product-search", Status: 500, ContentType: "application/json", Body: body})
	nc.Observe(ResponseEvent{URL: "https://x/api/v1/product-search", Status: 200, ContentType: "text/html", Body: body})
	nc.Observe(ResponseEvent{URL: "https://x/static/app.js", Status: 200, ContentType: "application/json", Body: body})
	if got := nc.Drain(); len(got) != 0 {
		t.Fatalf("filtered events yielded %d candidates", len(got))
	}

	nc.Observe(ResponseEvent{URL: "https://x/api/v2/product-search?q=candles", Status: 200, ContentType: "application/json; charset=utf-8", Body: body})
	got := nc.Drain()
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0]["token"] != "a" || got[0]["source"] != SourceNetwork {
		t.Errorf("candidate = %v", got[0])
	}

	// Drain is destructive.
	if again := nc.Drain(); len(again) != 0 {
		t.Errorf("second drain returned %d", len(again))
	}
}

func TestNetworkCapturePayloadShapes(t *testing.T) {
	url := "https://x/api/v1/listing"
	cases := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"token":"a"}]`, 1},
		{"wrapped products", `{"products":[{"token":"a"},{"token":"b"}]}`, 2},
		{"wrapped items", `{"items":[{"token":"a"}]}`, 1},
		{"nested data", `{"data":{"results":[{"token":"a"}]}}`, 1},
		{"garbage", `{"nope":true}`, 0},
		{"not json", `<html>`, 0},
	}
	for _, c := range cases {
		nc := NewNetworkCapture(nil)
		nc.Observe(ResponseEvent{URL: url, Status: 200, ContentType: "application/json", Body: []byte(c.body)})
		if got := nc.Drain(); len(got) != c.want {
			t.Errorf("%s: got %d candidates, want %d", c.name, len(got), c.want)
		}
	}
}

func TestEmbeddedStateExtraction(t *testing.T) {
	es := NewEmbeddedState("", nil)

	html := `<html><body>
		<script type="application/json">{"unrelated": true}</script>
		<script type="application/json">{"props":{"pageProps":{"products":[{"token":"a","name":"A"},{"token":"b"}]}}}</script>
	</body></html>`

	got := es.Extract(html)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0]["token"] != "a" || got[0]["source"] != SourceEmbedded {
		t.Errorf("candidate = %v", got[0])
	}
}

func TestEmbeddedStateDegradesToEmpty(t *testing.T) {
	es := NewEmbeddedState("", nil)

	for _, html := range []string{
		"",
		"<html><body>no scripts</body></html>",
		`<html><body><script type="application/json">not json at all</script></body></html>`,
		`<html><body><script type="application/json">{"props":{"pageProps":{"products":"not-an-array"}}}</script></body></html>`,
	} {
		if got := es.Extract(html); len(got) != 0 {
			t.Errorf("html %q: got %d candidates, want 0", html, len(got))
		}
	}
}

func TestDOMScanExtraction(t *testing.T) {
	ds := NewDOMScan("")

	html := `<html><body>
		<div class="product-card">
			<a href="/product/tok1"><img src="//cdn.x/i1.jpg"/></a>
			<div class="product-name">Beeswax Candle</div>
			<div class="brand-label">Wickford</div>
			<span class="badge">Bestseller</span>
		</div>
		<div class="product-card">
			<a href="/product/tok2">Second</a>
			<a href="/product/tok2">dup link same token</a>
		</div>
		<a href="/about">not a product</a>
	</body></html>`

	got := ds.Extract(html)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}

	first := got[0]
	if first["token"] != "tok1" || first["source"] != SourceDOM {
		t.Fatalf("first = %v", first)
	}
	if first["name"] != "Beeswax Candle" {
		t.Errorf("name = %v", first["name"])
	}
	if first["brand"] != "Wickford" {
		t.Errorf("brand = %v", first["brand"])
	}
	if first["imageUrl"] != "//cdn.x/i1.jpg" {
		t.Errorf("imageUrl = %v", first["imageUrl"])
	}
	badges, _ := first["badges"].([]any)
	if len(badges) != 1 || badges[0] != "Bestseller" {
		t.Errorf("badges = %v", first["badges"])
	}
}

func TestDOMScanFeedsNormalizer(t *testing.T) {
	ds := NewDOMScan("")
	n := testNormalizer()

	html := `<div class="card"><a href="/product/tok9">x</a><h3>Mug</h3></div>`
	cands := ds.Extract(html)
	if len(cands) != 1 {
		t.Fatalf("got %d candidates", len(cands))
	}
	r := n.Normalize(cands[0])
	if r == nil || r.ProductID != "tok9" {
		t.Fatalf("normalized = %+v", r)
	}
	if r.HasCompleteData {
		t.Error("DOM-only candidate without brand must require enrichment")
	}
}
