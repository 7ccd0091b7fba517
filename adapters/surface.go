// Package adapters contains the pluggable collaborators around the harvest
// core: the rendering surface and the detail-fetch transport. All
// site-specific session details (fingerprints, cookies, stealth flags) stay
// behind these types; the default for demos and tests is offline-safe mocks.
package adapters

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"

	"catalog-harvester/harvest"
)

// Cookie is a pre-set authentication cookie applied to the surface before
// navigation. Wholesale price fields typically only resolve when these are set.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// ChromeSurfaceOptions configures the headless browser session.
type ChromeSurfaceOptions struct {
	Headless  bool
	UserAgent string
	// NavigateTimeout bounds the initial page load.
	NavigateTimeout time.Duration
}

// ChromeSurface is the rendering collaborator backed by a headless Chrome
// session. It captures JSON response bodies as they arrive so the
// network-capture extractor can drain them per cycle.
type ChromeSurface struct {
	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc

	navTimeout time.Duration

	mu      sync.Mutex
	events  []harvest.ResponseEvent
	partial map[network.RequestID]harvest.ResponseEvent
}

func NewChromeSurface(ctx context.Context, opts ChromeSurfaceOptions) (*ChromeSurface, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 45 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(opts.UserAgent),
	)

	s := &ChromeSurface{
		navTimeout: opts.NavigateTimeout,
		partial:    make(map[network.RequestID]harvest.ResponseEvent),
	}
	s.allocCtx, s.cancelAlloc = chromedp.NewExecAllocator(ctx, allocOpts...)
	s.browserCtx, s.cancelBrowser = chromedp.NewContext(s.allocCtx)

	chromedp.ListenTarget(s.browserCtx, s.onTargetEvent)

	if err := chromedp.Run(s.browserCtx, network.Enable()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// onTargetEvent records response metadata as responses arrive and reads the
// body once loading finishes. Body retrieval failures drop the event; a lost
// capture is never fatal.
func (s *ChromeSurface) onTargetEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		mime := strings.ToLower(e.Response.MimeType)
		if !strings.Contains(mime, "json") {
			return
		}
		s.mu.Lock()
		s.partial[e.RequestID] = harvest.ResponseEvent{
			URL:         e.Response.URL,
			Status:      int(e.Response.Status),
			ContentType: e.Response.MimeType,
		}
		s.mu.Unlock()

	case *network.EventLoadingFinished:
		s.mu.Lock()
		pe, ok := s.partial[e.RequestID]
		delete(s.partial, e.RequestID)
		s.mu.Unlock()
		if !ok {
			return
		}
		go func(id network.RequestID, pe harvest.ResponseEvent) {
			c := chromedp.FromContext(s.browserCtx)
			body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(s.browserCtx, c.Target))
			if err != nil {
				log.WithError(err).WithField("url", pe.URL).Debug("response body unavailable")
				return
			}
			pe.Body = body
			s.mu.Lock()
			s.events = append(s.events, pe)
			s.mu.Unlock()
		}(e.RequestID, pe)
	}
}

// Navigate loads the listing page and waits for the first stable render.
// A failure here is the one fatal condition of a run: without a surface there
// is nothing to harvest.
func (s *ChromeSurface) Navigate(ctx context.Context, url string) error {
	nctx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(nctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)
}

// ApplyCookies injects the caller's pre-set cookies into the session.
func (s *ChromeSurface) ApplyCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	actions := make([]chromedp.Action, 0, len(cookies))
	for _, c := range cookies {
		p := network.SetCookie(c.Name, c.Value).WithDomain(c.Domain)
		if c.Path != "" {
			p = p.WithPath(c.Path)
		}
		actions = append(actions, p)
	}
	return chromedp.Run(s.browserCtx, actions...)
}

// Reveal triggers one content-reveal step: a scroll to the bottom of the
// rendered document.
func (s *ChromeSurface) Reveal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(s.browserCtx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
	)
}

// Snapshot returns the current rendered document.
func (s *ChromeSurface) Snapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var html string
	err := chromedp.Run(s.browserCtx, chromedp.OuterHTML("html", &html))
	return html, err
}

// DrainResponses hands over every captured response event since the last
// drain.
func (s *ChromeSurface) DrainResponses() []harvest.ResponseEvent {
	s.mu.Lock()
	out := s.events
	s.events = nil
	s.mu.Unlock()
	return out
}

func (s *ChromeSurface) Close() {
	if s.cancelBrowser != nil {
		s.cancelBrowser()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
}

// ErrSurfaceUnavailable marks the unrecoverable loss of the rendering surface.
var ErrSurfaceUnavailable = errors.New("rendering surface unavailable")
