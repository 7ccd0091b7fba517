package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPFetcherOptions configures the detail-page transport.
type HTTPFetcherOptions struct {
	UserAgent string
	// CookieHeader is the pre-serialized Cookie header value, empty for
	// anonymous fetches.
	CookieHeader string
	// RPS bounds request rate across all enrichment workers; 0 disables
	// limiting.
	RPS     float64
	Timeout time.Duration
	// Proxy is an optional proxy URL; empty uses the environment settings.
	Proxy string
}

// HTTPFetcher fetches detail pages over plain HTTP with a shared rate
// limiter. Retry and backoff policy belongs here at the transport layer, not
// in the enrichment pipeline; this implementation deliberately does not retry.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	cookie    string
	limiter   *rate.Limiter
}

func NewHTTPFetcher(opts HTTPFetcherOptions) (*HTTPFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 25 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "catalog-harvester/1.0"
	}

	transport := http.DefaultTransport
	if opts.Proxy != "" {
		t, err := proxyTransport(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("proxy config: %w", err)
		}
		transport = t
	}

	var limiter *rate.Limiter
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}

	return &HTTPFetcher{
		client:    &http.Client{Timeout: opts.Timeout, Transport: transport},
		userAgent: ua,
		cookie:    strings.TrimSpace(opts.CookieHeader),
		limiter:   limiter,
	}, nil
}

func proxyTransport(proxy string) (*http.Transport, error) {
	u, err := neturl.Parse(proxy)
	if err != nil {
		return nil, err
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = http.ProxyURL(u)
	return t, nil
}

// Fetch performs one GET. A non-2xx status is returned to the caller as data,
// not as an error: the enrichment pipeline decides what a 404 means for a
// record.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	if strings.TrimSpace(url) == "" {
		return 0, nil, errors.New("url is required")
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if f.cookie != "" {
		req.Header.Set("Cookie", f.cookie)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// MockFetcher serves canned pages by URL for tests and offline demos.
type MockFetcher struct {
	Pages map[string]string
	// Err, when set, is returned for every fetch.
	Err error
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if m.Err != nil {
		return 0, nil, m.Err
	}
	page, ok := m.Pages[url]
	if !ok {
		return 404, nil, nil
	}
	return 200, []byte(page), nil
}
