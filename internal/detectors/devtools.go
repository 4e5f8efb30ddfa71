package detectors

import (
	"log"
	"sync"
	"time"

	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

// DevTools guesses that developer tools are docked when the window chrome
// grows past a threshold. Undocked tools and narrow windows fool it.
type DevTools struct {
	emit      Emit
	interval  time.Duration
	threshold int

	mu     sync.Mutex
	open   bool
	window platform.Window
	stop   chan struct{}
	done   chan struct{}
}

func NewDevTools(emit Emit, interval time.Duration, threshold int) *DevTools {
	return &DevTools{emit: emit, interval: interval, threshold: threshold}
}

func (d *DevTools) Name() string { return "devtools" }

func (d *DevTools) Start(w platform.Window) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return
	}
	d.window = w
	d.open = false
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(d.stop, d.done)
}

func (d *DevTools) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.safeSample()
		}
	}
}

func (d *DevTools) safeSample() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DETECT] devtools sample panicked: %v", r)
		}
	}()
	d.Sample()
}

// Sample measures the viewport once and emits DEVTOOLS_OPEN when the
// delta first crosses the threshold.
func (d *DevTools) Sample() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window == nil {
		return
	}
	vp := d.window.Viewport()
	widthDelta := vp.OuterWidth - vp.InnerWidth
	heightDelta := vp.OuterHeight - vp.InnerHeight
	open := widthDelta > d.threshold || heightDelta > d.threshold

	if open && !d.open {
		d.emit(models.DevToolsOpen, map[string]any{
			"widthDelta":  widthDelta,
			"heightDelta": heightDelta,
			"threshold":   d.threshold,
		})
	}
	d.open = open
}

func (d *DevTools) Stop() {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
