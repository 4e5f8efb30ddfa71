package platformtest

import (
	"context"
	"sync"

	"github.com/kdimtricp/vproctor/internal/platform"
)

// Window is a scriptable browser window. State changes made through the
// Set*/Blur/Focus helpers dispatch the same events a browser would.
type Window struct {
	mu            sync.Mutex
	hidden        bool
	fullscreen    bool
	viewport      platform.Viewport
	FullscreenErr error
	nextID        int
	listeners     map[platform.EventKind]map[int]func(*platform.DOMEvent)
	prevented     map[platform.EventKind]int
}

func NewWindow() *Window {
	return &Window{
		viewport: platform.Viewport{
			OuterWidth: 1280, OuterHeight: 800,
			InnerWidth: 1280, InnerHeight: 720,
		},
		listeners: make(map[platform.EventKind]map[int]func(*platform.DOMEvent)),
		prevented: make(map[platform.EventKind]int),
	}
}

func (w *Window) Hidden() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hidden
}

func (w *Window) IsFullscreen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fullscreen
}

func (w *Window) Viewport() platform.Viewport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewport
}

func (w *Window) SetViewport(v platform.Viewport) {
	w.mu.Lock()
	w.viewport = v
	w.mu.Unlock()
}

func (w *Window) RequestFullscreen(ctx context.Context) error {
	w.mu.Lock()
	err := w.FullscreenErr
	w.mu.Unlock()
	if err != nil {
		return err
	}
	w.SetFullscreen(true)
	return nil
}

func (w *Window) ExitFullscreen(ctx context.Context) error {
	w.SetFullscreen(false)
	return nil
}

func (w *Window) On(kind platform.EventKind, handler func(*platform.DOMEvent)) *platform.Subscription {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	if w.listeners[kind] == nil {
		w.listeners[kind] = make(map[int]func(*platform.DOMEvent))
	}
	w.listeners[kind][id] = handler
	w.mu.Unlock()

	return platform.NewSubscription(func() {
		w.mu.Lock()
		delete(w.listeners[kind], id)
		w.mu.Unlock()
	})
}

func (w *Window) ListenerCount(kind platform.EventKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners[kind])
}

func (w *Window) Prevented(kind platform.EventKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prevented[kind]
}

// Dispatch delivers an event to every listener of kind.
func (w *Window) Dispatch(kind platform.EventKind) *platform.DOMEvent {
	w.mu.Lock()
	handlers := make([]func(*platform.DOMEvent), 0, len(w.listeners[kind]))
	for _, h := range w.listeners[kind] {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	ev := platform.NewDOMEvent(kind, func() {
		w.mu.Lock()
		w.prevented[kind]++
		w.mu.Unlock()
	})
	for _, h := range handlers {
		h(ev)
	}
	return ev
}

func (w *Window) SetHidden(hidden bool) {
	w.mu.Lock()
	changed := w.hidden != hidden
	w.hidden = hidden
	w.mu.Unlock()
	if changed {
		w.Dispatch(platform.EventVisibilityChange)
	}
}

func (w *Window) SetFullscreen(on bool) {
	w.mu.Lock()
	changed := w.fullscreen != on
	w.fullscreen = on
	w.mu.Unlock()
	if changed {
		w.Dispatch(platform.EventFullscreenChange)
	}
}

// SwitchTab follows Chrome's ordering: blur fires while the page is still
// visible, then visibilitychange hides it.
func (w *Window) SwitchTab() {
	w.Dispatch(platform.EventBlur)
	w.SetHidden(true)
}

func (w *Window) ReturnToTab() {
	w.SetHidden(false)
	w.Dispatch(platform.EventFocus)
}

func (w *Window) Blur()  { w.Dispatch(platform.EventBlur) }
func (w *Window) Focus() { w.Dispatch(platform.EventFocus) }
