package detectors

import (
	"sync"
	"time"

	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

// DefaultBlurSettle is how long a blur waits for the visibilitychange that
// follows it on a tab switch. Chrome fires blur first.
const DefaultBlurSettle = 100 * time.Millisecond

// Focus emits FOCUS_LOST when the window blurs while the page stays visible.
// A blur caused by a tab switch is already counted as TAB_SWITCH, so each
// blur waits out the settle window before it is reported.
type Focus struct {
	emit       Emit
	visibility *Visibility
	settle     time.Duration

	mu      sync.Mutex
	window  platform.Window
	focused bool
	pending int
	timer   *time.Timer
	subs    []*platform.Subscription
}

// NewFocus pairs the detector with the visibility detector whose tab
// switches cancel pending blurs. visibility may be nil.
func NewFocus(emit Emit, visibility *Visibility, settle time.Duration) *Focus {
	if settle <= 0 {
		settle = DefaultBlurSettle
	}
	d := &Focus{emit: emit, visibility: visibility, settle: settle, focused: true}
	if visibility != nil {
		visibility.onAway(d.dropPending)
	}
	return d
}

func (d *Focus) Name() string { return "focus" }

func (d *Focus) Start(w platform.Window) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subs != nil {
		return
	}
	d.window = w
	d.focused = true
	d.subs = []*platform.Subscription{
		w.On(platform.EventBlur, guard(d.Name(), func(*platform.DOMEvent) {
			d.blurred(w.Hidden())
		})),
		w.On(platform.EventFocus, guard(d.Name(), func(*platform.DOMEvent) {
			d.mu.Lock()
			d.focused = true
			d.mu.Unlock()
		})),
	}
}

func (d *Focus) away(hidden bool) bool {
	return hidden || (d.visibility != nil && d.visibility.Away())
}

func (d *Focus) blurred(hidden bool) {
	away := d.away(hidden)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.focused {
		return
	}
	d.focused = false
	if away {
		return
	}
	d.pending++
	if d.timer == nil {
		d.timer = time.AfterFunc(d.settle, d.settled)
	}
}

func (d *Focus) settled() {
	d.mu.Lock()
	w := d.window
	d.mu.Unlock()
	away := d.away(w != nil && w.Hidden())

	d.mu.Lock()
	n := d.pending
	d.pending = 0
	d.timer = nil
	d.mu.Unlock()

	if away {
		return
	}
	for i := 0; i < n; i++ {
		d.emit(models.FocusLost, nil)
	}
}

// dropPending forgets blurs still inside the settle window.
func (d *Focus) dropPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = 0
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Focus) Stop() {
	d.dropPending()
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()
	unsubscribeAll(subs)
}
