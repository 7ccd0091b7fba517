package harvest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CompletenessFunc decides whether a normalized record is rich enough to skip
// the detail visit. The default requires an ID, a name, and a brand identifier;
// callers may swap in a stricter or looser policy.
type CompletenessFunc func(r *ListingRecord) bool

// NormalizerConfig carries the site-shape knobs the normalizer needs to turn a
// bare token into absolute URLs.
type NormalizerConfig struct {
	// BaseURL is the catalog origin, e.g. "https://marketplace.example".
	BaseURL string
	// ImageCDNBase is the prefix used to construct an image URL from a bare
	// alphanumeric token, e.g. "https://cdn.example/images".
	ImageCDNBase string

	Complete CompletenessFunc
}

// Normalizer converts loosely-typed candidates into canonical ListingRecords.
// Field fallbacks are explicit ordered accessor lists, evaluated in sequence
// with early exit on the first non-empty result.
type Normalizer struct {
	cfg NormalizerConfig
}

func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.ImageCDNBase = strings.TrimRight(strings.TrimSpace(cfg.ImageCDNBase), "/")
	if cfg.Complete == nil {
		cfg.Complete = defaultCompleteness
	}
	return &Normalizer{cfg: cfg}
}

func defaultCompleteness(r *ListingRecord) bool {
	return r.ProductID != "" && r.Name != "" && (r.BrandName != "" || r.BrandID != "")
}

// Alternate key names per logical field, in resolution order.
var (
	idKeys    = []string{"token", "slug", "id", "productId", "product_id", "productToken", "handle"}
	nameKeys  = []string{"name", "title", "productName", "product_name", "displayName"}
	brandKeys = []string{"brand", "maker", "vendor", "supplier"}
	imageKeys = []string{"images", "imageUrls", "image", "imageUrl", "image_url", "img", "thumbnail"}
)

// Normalize resolves one candidate into a canonical record. It returns nil
// when no identifier can be derived; every other missing field degrades to an
// empty string, zero, or false.
func (n *Normalizer) Normalize(c RawCandidate) *ListingRecord {
	if c == nil {
		return nil
	}
	id := firstString(c, idKeys)
	if id == "" {
		return nil
	}

	r := &ListingRecord{
		ProductID:  id,
		ProductURL: n.cfg.BaseURL + "/product/" + id,
		Name:       firstString(c, nameKeys),
		Source:     asString(c["source"]),
	}

	n.resolveBrand(c, r)
	r.ImageURL = n.resolveImage(c)
	r.WholesalePriceMinor = resolvePriceMinor(c, "wholesalePrice", "wholesale_price", "wholesalePriceCents", "minPrice")
	r.RetailPriceMinor = resolvePriceMinor(c, "retailPrice", "retail_price", "retailPriceCents", "msrp")
	r.Badges = resolveBadges(c)
	r.HasCompleteData = n.cfg.Complete(r)
	return r
}

// resolveBrand accepts either a nested brand object or a bare string, and
// derives a brand URL from the identifier when no explicit URL is present.
func (n *Normalizer) resolveBrand(c RawCandidate, r *ListingRecord) {
	for _, k := range brandKeys {
		switch v := c[k].(type) {
		case map[string]any:
			r.BrandName = firstString(v, []string{"name", "brandName", "title"})
			r.BrandID = firstString(v, []string{"token", "id", "slug", "brandToken"})
			r.BrandURL = firstString(v, []string{"url", "brandUrl"})
		case string:
			r.BrandName = strings.TrimSpace(v)
		}
		if r.BrandName != "" || r.BrandID != "" {
			break
		}
	}
	if r.BrandName == "" {
		r.BrandName = firstString(c, []string{"brandName", "brand_name"})
	}
	if r.BrandID == "" {
		r.BrandID = firstString(c, []string{"brandToken", "brandId", "brand_id"})
	}
	if r.BrandURL == "" && r.BrandID != "" {
		r.BrandURL = n.cfg.BaseURL + "/brand/" + r.BrandID
	}
}

var bareImageTokenRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// resolveImage walks the image priority cascade: array of objects, array of
// strings, single object, single string, flat named field, token-to-URL
// construction, then protocol-relative normalization on whatever won.
func (n *Normalizer) resolveImage(c RawCandidate) string {
	var raw string
	for _, k := range imageKeys {
		v, ok := c[k]
		if !ok || v == nil {
			continue
		}
		raw = imageFromValue(v)
		if raw != "" {
			break
		}
	}
	return n.NormalizeImageURL(raw)
}

func imageFromValue(v any) string {
	switch t := v.(type) {
	case []any:
		for _, el := range t {
			if s := imageFromValue(el); s != "" {
				return s
			}
		}
	case map[string]any:
		return firstString(t, []string{"url", "imageUrl", "image_url", "src"})
	case string:
		return strings.TrimSpace(t)
	}
	return ""
}

// NormalizeImageURL turns whatever the cascade produced into an absolute URL:
// protocol-relative URLs get an https prefix, bare alphanumeric tokens are
// turned into CDN URLs, full URLs pass through unchanged.
func (n *Normalizer) NormalizeImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	case bareImageTokenRe.MatchString(raw) && n.cfg.ImageCDNBase != "":
		return n.cfg.ImageCDNBase + "/" + raw
	default:
		return raw
	}
}

// resolvePriceMinor reads the first resolvable price from nested price objects
// or flat minor-unit fields. Absent resolves to 0, never an error.
func resolvePriceMinor(c RawCandidate, keys ...string) int {
	for _, k := range keys {
		v, ok := c[k]
		if !ok || v == nil {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			for _, nested := range []string{"amountCents", "amount_cents", "cents", "amount", "value"} {
				if nv, ok := m[nested]; ok {
					if p := priceToMinor(nv); p > 0 {
						return p
					}
				}
			}
			continue
		}
		if p := priceToMinor(v); p > 0 {
			return p
		}
	}
	return 0
}

// priceToMinor converts a single numeric-ish value to minor units. Values with
// a fractional part are decimal currency and scaled by 100; bare integers are
// taken as minor units as-is.
func priceToMinor(v any) int {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return 0
		}
		if t != math.Trunc(t) {
			return int(math.Round(t * 100))
		}
		return int(t)
	case int:
		if t < 0 {
			return 0
		}
		return t
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(t, "$"))
		if s == "" {
			return 0
		}
		if strings.Contains(s, ".") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || f <= 0 {
				return 0
			}
			return int(math.Round(f * 100))
		}
		i, err := strconv.Atoi(s)
		if err != nil || i < 0 {
			return 0
		}
		return i
	}
	return 0
}

var badgeFlags = map[string]string{
	"isBestseller": "bestseller",
	"bestseller":   "bestseller",
	"isNew":        "new",
	"new":          "new",
	"isProven":     "proven",
	"proven":       "proven",
}

func resolveBadges(c RawCandidate) []string {
	seen := make(map[string]struct{}, 4)
	var out []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	if v, ok := c["badges"].([]any); ok {
		for _, el := range v {
			add(asString(el))
		}
	}
	for key, tag := range badgeFlags {
		if b, ok := c[key].(bool); ok && b {
			add(tag)
		}
	}
	return out
}

// firstString returns the first non-empty string value among keys.
func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	}
	return ""
}
