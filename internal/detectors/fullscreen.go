package detectors

import (
	"sync"

	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

// Fullscreen tracks fullscreen transitions. With a nil emit it only keeps
// state, which is how the onboarding fullscreen gate uses it.
type Fullscreen struct {
	emit Emit

	mu       sync.Mutex
	was      bool
	sub      *platform.Subscription
	onChange []func(bool)
}

func NewFullscreen(emit Emit) *Fullscreen {
	return &Fullscreen{emit: emit}
}

func (d *Fullscreen) Name() string { return "fullscreen" }

func (d *Fullscreen) Start(w platform.Window) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub != nil {
		return
	}
	d.was = w.IsFullscreen()
	d.sub = w.On(platform.EventFullscreenChange, guard(d.Name(), func(*platform.DOMEvent) {
		d.changed(w.IsFullscreen())
	}))
}

// OnChange registers fn to run after every fullscreen transition.
func (d *Fullscreen) OnChange(fn func(active bool)) {
	d.mu.Lock()
	d.onChange = append(d.onChange, fn)
	d.mu.Unlock()
}

func (d *Fullscreen) changed(now bool) {
	observers, ok := d.transition(now)
	if !ok {
		return
	}
	for _, fn := range observers {
		fn(now)
	}
}

func (d *Fullscreen) transition(now bool) ([]func(bool), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if now == d.was {
		return nil, false
	}
	d.was = now
	if d.emit != nil {
		if now {
			d.emit(models.FullscreenEnabled, nil)
		} else {
			d.emit(models.FullscreenExit, nil)
		}
	}
	return append([]func(bool){}, d.onChange...), true
}

// Active is the last observed fullscreen state.
func (d *Fullscreen) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.was
}

func (d *Fullscreen) Stop() {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()
	sub.Unsubscribe()
}
