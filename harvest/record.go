// Package harvest implements the listing discovery and enrichment pipeline:
// raw-payload extraction from a rendered catalog surface, normalization into a
// canonical record, run-scoped deduplication, exploration control, and the
// detail-page enrichment cascade.
package harvest

import "time"

// Candidate source tags, in extraction priority order.
const (
	SourceNetwork  = "network"
	SourceEmbedded = "embedded"
	SourceDOM      = "dom"
)

// RawCandidate is an unnormalized product payload as emitted by one extraction
// strategy. Shapes vary by source (network JSON, embedded state JSON, DOM text);
// candidates are transient and consumed immediately by Normalize.
type RawCandidate map[string]any

// ListingRecord is the canonical, deduplicated product record derived from
// listing-page data alone. ProductID is the stable dedup key; a candidate
// without one is unusable and dropped.
type ListingRecord struct {
	ProductID  string `json:"product_id"`
	ProductURL string `json:"product_url"`
	Name       string `json:"name,omitempty"`

	BrandName string `json:"brand_name,omitempty"`
	BrandID   string `json:"brand_id,omitempty"`
	BrandURL  string `json:"brand_url,omitempty"`

	ImageURL string `json:"image_url,omitempty"`

	// Prices in minor currency units (cents). 0 means unknown, never an error.
	WholesalePriceMinor int `json:"wholesale_price_minor"`
	RetailPriceMinor    int `json:"retail_price_minor"`

	Badges []string `json:"badges,omitempty"`

	// HasCompleteData marks records rich enough to skip the detail visit.
	HasCompleteData bool `json:"has_complete_data"`

	Source string `json:"source,omitempty"`
}

// EnrichedRecord is a ListingRecord augmented with detail-page-only attributes.
// Listing-sourced fields are authoritative: enrichment only fills what is empty
// on the base record or adds fields that have no listing-side counterpart.
type EnrichedRecord struct {
	ListingRecord

	Description          string `json:"description,omitempty"`
	SKU                  string `json:"sku,omitempty"`
	OriginCountry        string `json:"origin_country,omitempty"`
	ShippingInfo         string `json:"shipping_info,omitempty"`
	Dimensions           string `json:"dimensions,omitempty"`
	Materials            string `json:"materials,omitempty"`
	MinimumOrderQuantity string `json:"minimum_order_quantity,omitempty"`
	CasePackQuantity     string `json:"case_pack_quantity,omitempty"`
	Color                string `json:"color,omitempty"`

	ScrapedAt            time.Time `json:"scraped_at"`
	DetailFetchSucceeded bool      `json:"detail_fetch_succeeded"`
	FetchError           string    `json:"fetch_error,omitempty"`
}

// ResponseEvent is one "response received" notification from the rendering
// surface: the network-capture extractor's only input.
type ResponseEvent struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}
