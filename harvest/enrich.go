package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// Fetcher is the slice of the transport collaborator the enrichment pipeline
// needs. Transport-level retry, proxying and header policy belong behind it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// DefaultProductStatePaths locate the product object inside the detail page's
// embedded state blob, tried in order.
var DefaultProductStatePaths = []string{
	"props.pageProps.product",
	"props.initialState.productPage.product",
	"product",
}

// EnricherConfig tunes the detail-enrichment cascade.
type EnricherConfig struct {
	ProductPaths []string
	FetchTimeout time.Duration
}

// Enricher visits a candidate's detail page and fills the secondary attribute
// set through a prioritized cascade: structured embedded state, escaped-script
// pattern matching, free-text heuristics, then document-metadata fallbacks.
// Listing-sourced fields are authoritative and only replaced when empty.
type Enricher struct {
	fetch Fetcher
	cfg   EnricherConfig
	log   *log.Entry
}

func NewEnricher(fetch Fetcher, cfg EnricherConfig) *Enricher {
	if len(cfg.ProductPaths) == 0 {
		cfg.ProductPaths = DefaultProductStatePaths
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	return &Enricher{fetch: fetch, cfg: cfg, log: log.WithField("component", "enricher")}
}

// Enrich fetches and parses one detail page. Any fetch or parse failure
// yields a record with the base fields preserved, empty enrichment fields,
// and the error description attached; it is never propagated.
func (e *Enricher) Enrich(ctx context.Context, rec ListingRecord) EnrichedRecord {
	out := EnrichedRecord{ListingRecord: rec, ScrapedAt: time.Now().UTC()}

	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	status, body, err := e.fetch.Fetch(fctx, rec.ProductURL)
	if err != nil {
		out.FetchError = err.Error()
		return out
	}
	if status != 200 {
		out.FetchError = fmt.Sprintf("http status %d", status)
		return out
	}
	out.DetailFetchSucceeded = true

	html := string(body)

	attrs := e.attributesFromState(html)
	if len(attrs) == 0 {
		attrs = attributesFromScripts(html)
	}
	if len(attrs) == 0 {
		attrs = attributesFromText(html)
	}

	out.SKU = lookupAttr(attrs, "sku", "item number", "style number")
	out.OriginCountry = lookupAttr(attrs, "made in", "origin", "country of origin")
	out.ShippingInfo = lookupAttr(attrs, "ships from", "shipping", "lead time")
	out.Dimensions = lookupAttr(attrs, "dimensions", "size", "measurements")
	out.Materials = lookupAttr(attrs, "materials", "material", "fabric")
	out.MinimumOrderQuantity = lookupAttr(attrs, "minimum order", "min order", "moq")
	out.CasePackQuantity = lookupAttr(attrs, "case pack", "case quantity", "pack size")
	out.Color = lookupAttr(attrs, "color", "colour")
	out.Description = lookupAttr(attrs, "description", "about")

	e.fillFromMetadata(html, &out)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Strategy 1: structured embedded state
// ─────────────────────────────────────────────────────────────────────────────

// attributesFromState locates the product object in the embedded state blob
// and flattens its attribute-groups structure, which arrives in several
// shapes: sections of name/value entries, flat attribute lists, or per-variant
// option maps.
func (e *Enricher) attributesFromState(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var attrs []string
	doc.Find(`script[type="application/json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var state map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &state); err != nil {
			return true
		}
		for _, path := range e.cfg.ProductPaths {
			if product := objectAtPath(state, path); product != nil {
				attrs = flattenAttributes(product)
				if len(attrs) > 0 {
					return false
				}
			}
		}
		return true
	})
	return attrs
}

func objectAtPath(root map[string]any, path string) map[string]any {
	cur := any(root)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	obj, _ := cur.(map[string]any)
	return obj
}

func flattenAttributes(product map[string]any) []string {
	var out []string

	// Shape 1: sections -> entries -> {name, value}.
	for _, key := range []string{"attributeGroups", "specSections", "sections"} {
		if groups, ok := product[key].([]any); ok {
			for _, g := range groups {
				gm, ok := g.(map[string]any)
				if !ok {
					continue
				}
				for _, entriesKey := range []string{"entries", "attributes", "specs"} {
					if entries, ok := gm[entriesKey].([]any); ok {
						out = append(out, pairsFrom(entries)...)
					}
				}
			}
		}
	}

	// Shape 2: a flat attribute list on the product itself.
	if entries, ok := product["attributes"].([]any); ok {
		out = append(out, pairsFrom(entries)...)
	}

	// Shape 3: per-variant option maps.
	if variants, ok := product["variants"].([]any); ok {
		for _, v := range variants {
			vm, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if opts, ok := vm["options"].(map[string]any); ok {
				for k, val := range opts {
					if s := asString(val); s != "" && plausibleAttrValue(s) {
						out = append(out, k+": "+s)
					}
				}
			}
		}
	}

	return dedupeStrings(out)
}

func pairsFrom(entries []any) []string {
	var out []string
	for _, en := range entries {
		em, ok := en.(map[string]any)
		if !ok {
			continue
		}
		name := firstString(em, []string{"name", "label", "key"})
		value := firstString(em, []string{"value", "text"})
		if value == "" {
			// Some payloads wrap the value in a translation object.
			if vm, ok := em["value"].(map[string]any); ok {
				value = firstString(vm, []string{"translated", "en", "default"})
			}
		}
		if name != "" && plausibleAttrValue(value) {
			out = append(out, name+": "+value)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Strategy 2: escaped-script pattern extraction
// ─────────────────────────────────────────────────────────────────────────────

// When the state blob is fragmented across script-injected payload chunks the
// name/value pairs surface as escaped JSON inside script text. Each pattern is
// a named strategy with its own plausibility guard.
var (
	escapedPairRe = regexp.MustCompile(`\\"name\\":\\"([^"\\]{1,60})\\",\\"value\\":\\"([^"\\]{1,240})\\"`)

	escapedTranslatedPairRe = regexp.MustCompile(`\\"name\\":\\"([^"\\]{1,60})\\",\\"value\\":\{\\"translated\\":\\"([^"\\]{1,240})\\"`)
)

func attributesFromScripts(html string) []string {
	var out []string
	for _, re := range []*regexp.Regexp{escapedPairRe, escapedTranslatedPairRe} {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			if plausibleAttrValue(m[2]) {
				out = append(out, m[1]+": "+m[2])
			}
		}
	}
	return dedupeStrings(out)
}

// plausibleAttrValue guards against matching unrelated JSON: empty or
// excessively long values are discarded.
func plausibleAttrValue(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && len(v) <= 240
}

// ─────────────────────────────────────────────────────────────────────────────
// Strategy 3: free-text heuristic extraction
// ─────────────────────────────────────────────────────────────────────────────

// Known label tokens scanned for in the full rendered text, with non-greedy
// bounded captures.
var textLabelPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"SKU", regexp.MustCompile(`(?i)\bSKU\b\s*[:\-]?\s*([^\n<]{1,60}?)(?:\n|<|$)`)},
	{"Made in", regexp.MustCompile(`(?i)\bMade in\b\s*[:\-]?\s*([^\n<]{1,40}?)(?:\n|<|\.|,|$)`)},
	{"Dimensions", regexp.MustCompile(`(?i)\bDimensions\b\s*[:\-]?\s*([^\n<]{1,80}?)(?:\n|<|$)`)},
	{"Materials", regexp.MustCompile(`(?i)\bMaterials?\b\s*[:\-]?\s*([^\n<]{1,80}?)(?:\n|<|$)`)},
	{"Color", regexp.MustCompile(`(?i)\bColou?r\b\s*[:\-]?\s*([^\n<]{1,40}?)(?:\n|<|$)`)},
	{"Ships from", regexp.MustCompile(`(?i)\bShips from\b\s*[:\-]?\s*([^\n<]{1,60}?)(?:\n|<|$)`)},
	{"Minimum order", regexp.MustCompile(`(?i)\bMinimum order\b\s*[:\-]?\s*([^\n<]{1,40}?)(?:\n|<|$)`)},
	{"Case pack", regexp.MustCompile(`(?i)\bCase pack\b\s*[:\-]?\s*([^\n<]{1,40}?)(?:\n|<|$)`)},
}

func attributesFromText(text string) []string {
	var out []string
	for _, lp := range textLabelPatterns {
		m := lp.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v := strings.TrimSpace(m[1])
		// Structural JSON punctuation means the capture ran into an adjacent
		// field rather than a human-readable value.
		if v == "" || strings.ContainsAny(v, `{}[]"`) {
			continue
		}
		out = append(out, lp.label+": "+v)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Attribute lookup and metadata fallback
// ─────────────────────────────────────────────────────────────────────────────

// lookupAttr resolves a logical field against the flat "key: value" attribute
// list using case-insensitive prefix/substring matching across the field's
// synonyms, returning the first match's value.
func lookupAttr(attrs []string, synonyms ...string) string {
	for _, a := range attrs {
		idx := strings.Index(a, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(a[:idx]))
		for _, syn := range synonyms {
			syn = strings.ToLower(syn)
			if strings.HasPrefix(key, syn) || strings.Contains(key, syn) {
				if v := strings.TrimSpace(a[idx+1:]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// fillFromMetadata re-reads name/brand/image/price/description equivalents
// from standard document metadata, filling only fields still empty on the
// record.
func (e *Enricher) fillFromMetadata(html string, out *EnrichedRecord) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}

	metaContent := func(selector string) string {
		v, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(v)
	}

	if out.Name == "" {
		if t := metaContent(`meta[property="og:title"]`); t != "" {
			out.Name = t
		} else {
			out.Name = collapseWhitespace(doc.Find("title").First().Text())
		}
	}
	if out.Description == "" {
		out.Description = metaContent(`meta[name="description"]`)
	}
	if out.ImageURL == "" {
		out.ImageURL = metaContent(`meta[property="og:image"]`)
	}
	if out.BrandName == "" {
		out.BrandName = metaContent(`meta[property="og:site_name"]`)
	}
	if out.RetailPriceMinor == 0 {
		for _, sel := range []string{`meta[property="product:price:amount"]`, `meta[property="og:price:amount"]`} {
			if p := priceToMinor(metaContent(sel)); p > 0 {
				out.RetailPriceMinor = p
				break
			}
		}
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
