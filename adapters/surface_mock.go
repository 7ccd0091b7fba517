package adapters

import (
	"context"
	"sync"

	"catalog-harvester/harvest"
)

// MockPage is one scripted capture opportunity: the document snapshot visible
// during it, plus the network responses that "arrived" while it was current.
type MockPage struct {
	HTML      string
	Responses []harvest.ResponseEvent
}

// MockSurface replays a scripted sequence of pages. It is deterministic,
// makes no network calls, and is the default surface for demos and unit
// tests. Each Reveal advances to the next scripted page; past the end the
// surface keeps serving the last snapshot with no further responses, which
// lets stall detection run its course.
type MockSurface struct {
	mu        sync.Mutex
	pages     []MockPage
	idx       int
	delivered []bool
}

func NewMockSurface(pages []MockPage) *MockSurface {
	return &MockSurface{pages: pages, delivered: make([]bool, len(pages))}
}

func (m *MockSurface) Navigate(ctx context.Context, url string) error { return ctx.Err() }

func (m *MockSurface) ApplyCookies(ctx context.Context, cookies []Cookie) error { return ctx.Err() }

func (m *MockSurface) Reveal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.idx < len(m.pages)-1 {
		m.idx++
	}
	m.mu.Unlock()
	return nil
}

func (m *MockSurface) Snapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pages) == 0 {
		return "", nil
	}
	return m.pages[m.idx].HTML, nil
}

// DrainResponses delivers each scripted page's responses exactly once.
func (m *MockSurface) DrainResponses() []harvest.ResponseEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pages) == 0 || m.delivered[m.idx] {
		return nil
	}
	m.delivered[m.idx] = true
	return m.pages[m.idx].Responses
}

func (m *MockSurface) Close() {}
