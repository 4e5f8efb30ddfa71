package platformtest

import (
	"context"
	"sync"

	"github.com/kdimtricp/vproctor/internal/platform"
)

// Page answers scanner probes from static tables.
type Page struct {
	mu          sync.Mutex
	Globals     map[string]bool
	Selectors   map[string]bool
	WebdriverOn bool
	BlockBaits  bool
	ProbeErr    error
	// WebdriverErr and BaitErr fail the remaining probes independently.
	WebdriverErr error
	BaitErr      error
	// BeforeInspect runs before baits are inspected; tests use it to
	// interleave a superseding scan.
	BeforeInspect func()

	inserted int
	removed  int
}

func NewPage() *Page {
	return &Page{Globals: map[string]bool{}, Selectors: map[string]bool{}}
}

func (p *Page) HasGlobal(ctx context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProbeErr != nil {
		return false, p.ProbeErr
	}
	return p.Globals[name], nil
}

func (p *Page) Webdriver(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WebdriverErr != nil {
		return false, p.WebdriverErr
	}
	return p.WebdriverOn, nil
}

func (p *Page) MatchesSelector(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProbeErr != nil {
		return false, p.ProbeErr
	}
	return p.Selectors[selector], nil
}

func (p *Page) InsertBait(ctx context.Context, baits []platform.BaitSpec) (platform.BaitSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BaitErr != nil {
		return nil, p.BaitErr
	}
	p.inserted += len(baits)
	return &baitSet{page: p, baits: baits}, nil
}

// Live reports how many bait elements are still attached.
func (p *Page) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inserted - p.removed
}

type baitSet struct {
	page  *Page
	baits []platform.BaitSpec
	done  bool
}

func (b *baitSet) Inspect(ctx context.Context) ([]platform.BaitState, error) {
	if b.page.BeforeInspect != nil {
		b.page.BeforeInspect()
	}
	b.page.mu.Lock()
	blocked := b.page.BlockBaits
	b.page.mu.Unlock()

	states := make([]platform.BaitState, len(b.baits))
	for i, spec := range b.baits {
		st := platform.BaitState{ID: spec.ID, Width: 1, Height: 1, HasParent: true}
		if blocked {
			st.Hidden = true
			st.Width, st.Height = 0, 0
		}
		states[i] = st
	}
	return states, nil
}

func (b *baitSet) Remove(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	b.page.mu.Lock()
	b.page.removed += len(b.baits)
	b.page.mu.Unlock()
	return nil
}
