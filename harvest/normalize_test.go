package harvest

import "testing"

func testNormalizer() *Normalizer {
	return NewNormalizer(NormalizerConfig{
		BaseURL:      "https://catalog.example",
		ImageCDNBase: "https://cdn.example/images",
	})
}

func TestNormalizeRejectsCandidatesWithoutIdentifier(t *testing.T) {
	n := testNormalizer()

	cases := []RawCandidate{
		nil,
		{},
		{"name": "Candle", "brand": "Wickford"},
		{"imageUrl": "https://cdn.example/images/x.jpg", "retailPrice": 1200},
	}
	for i, c := range cases {
		if got := n.Normalize(c); got != nil {
			t.Errorf("case %d: expected nil for identifier-less candidate, got %+v", i, got)
		}
	}
}

func TestNormalizeResolvesIdentifierAlternates(t *testing.T) {
	n := testNormalizer()

	for _, key := range []string{"token", "slug", "id", "productId", "product_id"} {
		r := n.Normalize(RawCandidate{key: "abc123"})
		if r == nil {
			t.Fatalf("key %q: expected a record", key)
		}
		if r.ProductID != "abc123" {
			t.Errorf("key %q: ProductID = %q", key, r.ProductID)
		}
		if r.ProductURL != "https://catalog.example/product/abc123" {
			t.Errorf("key %q: ProductURL = %q", key, r.ProductURL)
		}
	}
}

func TestNormalizeBrandShapes(t *testing.T) {
	n := testNormalizer()

	r := n.Normalize(RawCandidate{
		"token": "t1",
		"brand": map[string]any{"name": "Wickford", "token": "b9"},
	})
	if r.BrandName != "Wickford" || r.BrandID != "b9" {
		t.Fatalf("nested brand: got name=%q id=%q", r.BrandName, r.BrandID)
	}
	if r.BrandURL != "https://catalog.example/brand/b9" {
		t.Errorf("brand URL derived from id: got %q", r.BrandURL)
	}

	r = n.Normalize(RawCandidate{"token": "t2", "brand": "Bare String Co"})
	if r.BrandName != "Bare String Co" {
		t.Errorf("bare-string brand: got %q", r.BrandName)
	}
	if r.BrandURL != "" {
		t.Errorf("no brand id means no derived URL, got %q", r.BrandURL)
	}
}

func TestNormalizeImageURL(t *testing.T) {
	n := testNormalizer()

	cases := []struct {
		in, want string
	}{
		{"//cdn.example.com/x.jpg", "https://cdn.example.com/x.jpg"},
		{"abc123", "https://cdn.example/images/abc123"},
		{"https://cdn.example.com/y.jpg", "https://cdn.example.com/y.jpg"},
		{"http://cdn.example.com/z.jpg", "http://cdn.example.com/z.jpg"},
		{"", ""},
	}
	for _, c := range cases {
		if got := n.NormalizeImageURL(c.in); got != c.want {
			t.Errorf("NormalizeImageURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeImageCascade(t *testing.T) {
	n := testNormalizer()

	cases := []struct {
		name string
		c    RawCandidate
		want string
	}{
		{"array of objects", RawCandidate{"token": "t", "images": []any{map[string]any{"url": "https://a/i.jpg"}}}, "https://a/i.jpg"},
		{"array of strings", RawCandidate{"token": "t", "images": []any{"https://a/s.jpg"}}, "https://a/s.jpg"},
		{"single object", RawCandidate{"token": "t", "image": map[string]any{"url": "https://a/o.jpg"}}, "https://a/o.jpg"},
		{"flat field", RawCandidate{"token": "t", "imageUrl": "https://a/f.jpg"}, "https://a/f.jpg"},
		{"bare token", RawCandidate{"token": "t", "imageUrl": "img_9f8e"}, "https://cdn.example/images/img_9f8e"},
		{"protocol relative", RawCandidate{"token": "t", "imageUrl": "//a/p.jpg"}, "https://a/p.jpg"},
		{"absent", RawCandidate{"token": "t"}, ""},
	}
	for _, c := range cases {
		r := n.Normalize(c.c)
		if r.ImageURL != c.want {
			t.Errorf("%s: ImageURL = %q, want %q", c.name, r.ImageURL, c.want)
		}
	}
}

func TestNormalizePrices(t *testing.T) {
	n := testNormalizer()

	r := n.Normalize(RawCandidate{
		"token":          "t",
		"wholesalePrice": map[string]any{"amountCents": float64(1250)},
		"retailPrice":    float64(24.99),
	})
	if r.WholesalePriceMinor != 1250 {
		t.Errorf("wholesale minor = %d, want 1250", r.WholesalePriceMinor)
	}
	if r.RetailPriceMinor != 2499 {
		t.Errorf("retail minor = %d, want 2499 (decimal scaled)", r.RetailPriceMinor)
	}

	// Absent or zero prices resolve to 0, never an error.
	r = n.Normalize(RawCandidate{"token": "t2"})
	if r.WholesalePriceMinor != 0 || r.RetailPriceMinor != 0 {
		t.Errorf("absent prices: got %d/%d, want 0/0", r.WholesalePriceMinor, r.RetailPriceMinor)
	}

	r = n.Normalize(RawCandidate{"token": "t3", "retailPrice": "12.50"})
	if r.RetailPriceMinor != 1250 {
		t.Errorf("string decimal price: got %d, want 1250", r.RetailPriceMinor)
	}
}

func TestNormalizeBadges(t *testing.T) {
	n := testNormalizer()

	r := n.Normalize(RawCandidate{
		"token":        "t",
		"badges":       []any{"New", "bestseller"},
		"isBestseller": true,
	})
	if len(r.Badges) != 2 {
		t.Fatalf("badges = %v, want deduped set of 2", r.Badges)
	}
	seen := map[string]bool{}
	for _, b := range r.Badges {
		seen[b] = true
	}
	if !seen["new"] || !seen["bestseller"] {
		t.Errorf("badges = %v, want new+bestseller", r.Badges)
	}
}

func TestCompletenessPredicate(t *testing.T) {
	n := testNormalizer()

	r := n.Normalize(RawCandidate{"token": "t", "name": "Candle", "brand": "Wickford"})
	if !r.HasCompleteData {
		t.Error("id+name+brand should be complete")
	}
	r = n.Normalize(RawCandidate{"token": "t", "name": "Candle"})
	if r.HasCompleteData {
		t.Error("missing brand should not be complete")
	}
	r = n.Normalize(RawCandidate{"token": "t", "brand": "Wickford"})
	if r.HasCompleteData {
		t.Error("missing name should not be complete")
	}

	strict := NewNormalizer(NormalizerConfig{
		BaseURL:  "https://catalog.example",
		Complete: func(r *ListingRecord) bool { return false },
	})
	r = strict.Normalize(RawCandidate{"token": "t", "name": "Candle", "brand": "Wickford"})
	if r.HasCompleteData {
		t.Error("injected policy should override the default")
	}
}
