package detectors

import (
	"sync"

	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

// Visibility emits TAB_SWITCH when the page becomes hidden.
type Visibility struct {
	emit Emit

	mu      sync.Mutex
	away    bool
	sub     *platform.Subscription
	leaving []func()
}

func NewVisibility(emit Emit) *Visibility {
	return &Visibility{emit: emit}
}

// onAway registers fn to run whenever the page becomes hidden.
func (d *Visibility) onAway(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leaving = append(d.leaving, fn)
}

func (d *Visibility) Name() string { return "visibility" }

func (d *Visibility) Start(w platform.Window) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub != nil {
		return
	}
	d.away = w.Hidden()
	d.sub = w.On(platform.EventVisibilityChange, guard(d.Name(), func(*platform.DOMEvent) {
		d.changed(w.Hidden())
	}))
}

func (d *Visibility) changed(hidden bool) {
	d.mu.Lock()
	if hidden == d.away {
		d.mu.Unlock()
		return
	}
	d.away = hidden
	leaving := d.leaving
	d.mu.Unlock()

	if !hidden {
		return
	}
	for _, fn := range leaving {
		fn()
	}
	d.emit(models.TabSwitch, nil)
}

// Away reports whether the candidate is currently on another tab.
func (d *Visibility) Away() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.away
}

func (d *Visibility) Stop() {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()
	sub.Unsubscribe()
}
