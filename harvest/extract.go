package harvest

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// The three extraction strategies below are independent and individually
// fallible: a parse or selector failure yields an empty slice, never an error.
// Priority order is network capture, embedded state, DOM scan.

// ─────────────────────────────────────────────────────────────────────────────
// Network-capture extractor
// ─────────────────────────────────────────────────────────────────────────────

// NetworkCapture accumulates listing candidates from JSON responses observed
// on the rendering surface. It is stateful across the page's lifetime: Observe
// is fed as responses arrive, Drain hands over everything buffered since the
// previous drain.
type NetworkCapture struct {
	mu       sync.Mutex
	patterns []*regexp.Regexp
	buf      []RawCandidate
}

// DefaultListingAPIPatterns matches the known listing API shapes of the target
// catalog. Overridable per deployment.
var DefaultListingAPIPatterns = []string{
	`/api/v\d+/.*(search|listing|product)`,
	`/graphql`,
	`/catalog/.*\bpage=`,
}

func NewNetworkCapture(patterns []string) *NetworkCapture {
	if len(patterns) == 0 {
		patterns = DefaultListingAPIPatterns
	}
	nc := &NetworkCapture{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.WithError(err).WithField("pattern", p).Warn("skipping bad listing API pattern")
			continue
		}
		nc.patterns = append(nc.patterns, re)
	}
	return nc
}

// Observe inspects one response event and buffers any candidates it carries.
// Non-200 responses and non-JSON content types are ignored.
func (nc *NetworkCapture) Observe(ev ResponseEvent) {
	if ev.Status != 200 || !strings.Contains(strings.ToLower(ev.ContentType), "json") {
		return
	}
	matched := false
	for _, re := range nc.patterns {
		if re.MatchString(ev.URL) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	cands := candidatesFromJSON(ev.Body, SourceNetwork)
	if len(cands) == 0 {
		return
	}
	nc.mu.Lock()
	nc.buf = append(nc.buf, cands...)
	nc.mu.Unlock()
}

// Drain returns everything buffered since the last drain.
func (nc *NetworkCapture) Drain() []RawCandidate {
	nc.mu.Lock()
	out := nc.buf
	nc.buf = nil
	nc.mu.Unlock()
	return out
}

// candidatesFromJSON accepts the payload shapes seen in the wild: a bare
// array, or an object wrapping an array under a handful of known keys.
func candidatesFromJSON(body []byte, source string) []RawCandidate {
	var arr []map[string]any
	if err := json.Unmarshal(body, &arr); err == nil {
		return tagCandidates(arr, source)
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil
	}
	for _, key := range []string{"products", "listings", "items", "results", "tiles"} {
		if found := arrayAt(obj, key); found != nil {
			return tagCandidates(found, source)
		}
	}
	// Some endpoints nest one level deeper (e.g. {"data":{"products":[...]}}).
	if data, ok := obj["data"].(map[string]any); ok {
		for _, key := range []string{"products", "listings", "items", "results"} {
			if found := arrayAt(data, key); found != nil {
				return tagCandidates(found, source)
			}
		}
	}
	return nil
}

func arrayAt(m map[string]any, key string) []map[string]any {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, el := range raw {
		if em, ok := el.(map[string]any); ok {
			out = append(out, em)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func tagCandidates(in []map[string]any, source string) []RawCandidate {
	out := make([]RawCandidate, 0, len(in))
	for _, m := range in {
		c := RawCandidate(m)
		c["source"] = source
		out = append(out, c)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Embedded-state extractor
// ─────────────────────────────────────────────────────────────────────────────

// DefaultStatePaths are the candidate property paths descended, in order,
// inside the embedded page-state blob until one yields a product array.
var DefaultStatePaths = []string{
	"props.pageProps.products",
	"props.pageProps.searchResults.products",
	"props.initialState.catalog.products",
	"serverState.results.items",
	"catalog.items",
}

// EmbeddedState parses the JSON payload embedded in the rendered document and
// descends an ordered list of property paths. Point-in-time: each Extract call
// re-reads the current snapshot.
type EmbeddedState struct {
	scriptSelector string
	paths          []string
}

func NewEmbeddedState(scriptSelector string, paths []string) *EmbeddedState {
	if scriptSelector == "" {
		scriptSelector = `script[type="application/json"]`
	}
	if len(paths) == 0 {
		paths = DefaultStatePaths
	}
	return &EmbeddedState{scriptSelector: scriptSelector, paths: paths}
}

// Extract pulls candidates out of the page-state blob in the given HTML
// snapshot. Any failure yields an empty result.
func (es *EmbeddedState) Extract(html string) []RawCandidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.WithError(err).Debug("embedded-state: snapshot parse failed")
		return nil
	}

	var out []RawCandidate
	doc.Find(es.scriptSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var state map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &state); err != nil {
			return true // try the next blob
		}
		for _, path := range es.paths {
			if arr := descendPath(state, path); arr != nil {
				out = tagCandidates(arr, SourceEmbedded)
				return false
			}
		}
		return true
	})
	return out
}

// descendPath walks a dot-separated property path and returns the array of
// objects at its end, or nil.
func descendPath(root map[string]any, path string) []map[string]any {
	cur := any(root)
	parts := strings.Split(path, ".")
	for i, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if i == len(parts)-1 {
			return arrayAt(m, part)
		}
		cur = m[part]
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// DOM-scan extractor
// ─────────────────────────────────────────────────────────────────────────────

var productHrefRe = regexp.MustCompile(`/product/([a-zA-Z0-9_-]+)`)

// DOMScan is the last-resort strategy: select anchors whose target looks like
// a product URL, hop to the enclosing card container, and read the visible
// name/brand/image/badge text heuristically.
type DOMScan struct {
	cardSelector string
}

func NewDOMScan(cardSelector string) *DOMScan {
	if cardSelector == "" {
		cardSelector = `div[class*="card"], div[class*="tile"], li[class*="product"]`
	}
	return &DOMScan{cardSelector: cardSelector}
}

func (ds *DOMScan) Extract(html string) []RawCandidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.WithError(err).Debug("dom-scan: snapshot parse failed")
		return nil
	}

	seen := make(map[string]struct{}, 32)
	var out []RawCandidate

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := productHrefRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		token := m[1]
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}

		card := a.Closest(ds.cardSelector)
		if card.Length() == 0 {
			card = a
		}

		c := RawCandidate{"token": token, "source": SourceDOM}
		if name := cardText(card, `[class*="name"], [class*="title"], h2, h3`); name != "" {
			c["name"] = name
		}
		if brand := cardText(card, `[class*="brand"], [class*="maker"]`); brand != "" {
			c["brand"] = brand
		}
		if img, ok := card.Find("img[src]").First().Attr("src"); ok {
			c["imageUrl"] = img
		}
		if badges := cardBadges(card); len(badges) > 0 {
			c["badges"] = badges
		}
		out = append(out, c)
	})
	return out
}

func cardText(card *goquery.Selection, selector string) string {
	return collapseWhitespace(card.Find(selector).First().Text())
}

func cardBadges(card *goquery.Selection) []any {
	var out []any
	card.Find(`[class*="badge"], [class*="tag"]`).Each(func(_ int, s *goquery.Selection) {
		if t := collapseWhitespace(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
