package main

import (
	"encoding/json"
	"fmt"

	"catalog-harvester/adapters"
)

// Synthetic, offline-safe catalog used when SURFACE=mock: three reveal steps
// of listing data followed by quiet pages, so both the satisfied and the
// exhausted paths are reachable depending on the configured target.

const mockPageSize = 8

func mockToken(page, i int) string {
	return fmt.Sprintf("p%d%04d", page, i+1)
}

func mockCatalogPages(cfg config) []adapters.MockPage {
	pages := make([]adapters.MockPage, 0, 5)
	for page := 1; page <= 3; page++ {
		products := make([]map[string]any, 0, mockPageSize)
		for i := 0; i < mockPageSize; i++ {
			products = append(products, map[string]any{
				"token": mockToken(page, i),
				"name":  fmt.Sprintf("Synthetic product %d-%d", page, i+1),
				"brand": map[string]any{
					"name":  fmt.Sprintf("Brand %d", i%3+1),
					"token": fmt.Sprintf("b%03d", i%3+1),
				},
				"imageUrl":       fmt.Sprintf("//cdn.example-catalog.invalid/images/%s.jpg", mockToken(page, i)),
				"wholesalePrice": map[string]any{"amountCents": 1000 + i*25},
				"retailPrice":    map[string]any{"amountCents": 2400 + i*50},
				"isBestseller":   i == 0,
			})
		}
		state, _ := json.Marshal(map[string]any{
			"props": map[string]any{
				"pageProps": map[string]any{"products": products},
			},
		})
		html := fmt.Sprintf(
			`<html><head><title>Catalog page %d</title></head><body><script type="application/json">%s</script></body></html>`,
			page, state,
		)
		pages = append(pages, adapters.MockPage{HTML: html})
	}

	// Quiet trailing pages: nothing new arrives, stall detection takes over.
	quiet := `<html><head><title>Catalog</title></head><body></body></html>`
	for i := 0; i < 2; i++ {
		pages = append(pages, adapters.MockPage{HTML: quiet})
	}
	return pages
}

func mockDetailPages(cfg config) map[string]string {
	out := make(map[string]string, 3*mockPageSize)
	for page := 1; page <= 3; page++ {
		for i := 0; i < mockPageSize; i++ {
			token := mockToken(page, i)
			url := cfg.baseURL + "/product/" + token
			state, _ := json.Marshal(map[string]any{
				"props": map[string]any{
					"pageProps": map[string]any{
						"product": map[string]any{
							"attributeGroups": []map[string]any{
								{
									"name": "Details",
									"entries": []map[string]any{
										{"name": "SKU", "value": fmt.Sprintf("SKU-%s", token)},
										{"name": "Made in", "value": "Portugal"},
										{"name": "Materials", "value": "Soy wax, cotton wick"},
										{"name": "Minimum order", "value": "6"},
										{"name": "Case pack", "value": "12"},
									},
								},
							},
						},
					},
				},
			})
			out[url] = fmt.Sprintf(
				`<html><head><title>Synthetic product %s</title><meta name="description" content="Synthetic description for %s."/></head><body><script type="application/json">%s</script></body></html>`,
				token, token, state,
			)
		}
	}
	return out
}
