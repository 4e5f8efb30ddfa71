package browserhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/chromedp/cdproto/runtime"

	"github.com/kdimtricp/vproctor/internal/platform"
)

// guardedKinds have their default action cancelled in the page while a
// listener is attached.
var guardedKinds = map[platform.EventKind]bool{
	platform.EventCopy:        true,
	platform.EventPaste:       true,
	platform.EventContextMenu: true,
}

func (h *Host) Hidden() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Hidden
}

func (h *Host) IsFullscreen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Fullscreen
}

// Viewport reads the window sizes live and falls back to the last reported
// ones when the page does not answer.
func (h *Host) Viewport() platform.Viewport {
	h.refreshState()
	h.mu.Lock()
	defer h.mu.Unlock()
	return platform.Viewport{
		OuterWidth:  h.state.OuterWidth,
		OuterHeight: h.state.OuterHeight,
		InnerWidth:  h.state.InnerWidth,
		InnerHeight: h.state.InnerHeight,
	}
}

func userGesture(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithUserGesture(true).WithAwaitPromise(true)
}

func (h *Host) RequestFullscreen(ctx context.Context) error {
	var ok bool
	err := h.eval(ctx, `document.documentElement.requestFullscreen().then(() => true)`, &ok, userGesture)
	if err != nil {
		return fmt.Errorf("%w: fullscreen request rejected: %v", platform.ErrPermissionDenied, err)
	}
	h.mu.Lock()
	h.state.Fullscreen = true
	h.mu.Unlock()
	return nil
}

func (h *Host) ExitFullscreen(ctx context.Context) error {
	var ok bool
	err := h.eval(ctx, `document.fullscreenElement ? document.exitFullscreen().then(() => true) : true`, &ok, userGesture)
	if err != nil {
		return fmt.Errorf("failed to exit fullscreen: %w", err)
	}
	h.mu.Lock()
	h.state.Fullscreen = false
	h.mu.Unlock()
	return nil
}

func (h *Host) On(kind platform.EventKind, handler func(*platform.DOMEvent)) *platform.Subscription {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.handlers[kind] == nil {
		h.handlers[kind] = make(map[uint64]func(*platform.DOMEvent))
	}
	h.handlers[kind][id] = handler
	first := len(h.handlers[kind]) == 1
	h.mu.Unlock()

	if first && guardedKinds[kind] {
		h.setGuard(kind, true)
	}

	return platform.NewSubscription(func() {
		h.mu.Lock()
		delete(h.handlers[kind], id)
		last := len(h.handlers[kind]) == 0
		h.mu.Unlock()

		if last && guardedKinds[kind] {
			h.setGuard(kind, false)
		}
	})
}

func (h *Host) setGuard(kind platform.EventKind, on bool) {
	name, _ := json.Marshal(string(kind))
	expr := fmt.Sprintf(`(() => { if (!window.__vproctor) return false; window.__vproctor.guard[%s] = %t; return true; })()`, name, on)

	ctx, cancel := context.WithTimeout(h.ctx, h.config.EvalTimeout)
	defer cancel()

	var applied bool
	if err := h.eval(ctx, expr, &applied); err != nil {
		log.Printf("[BROWSER] Failed to set %s guard: %v", kind, err)
	}
}

// reapplyGuards restores guards after a navigation replaced the document.
func (h *Host) reapplyGuards() {
	h.mu.Lock()
	var active []platform.EventKind
	for kind := range guardedKinds {
		if len(h.handlers[kind]) > 0 {
			active = append(active, kind)
		}
	}
	h.mu.Unlock()

	for _, kind := range active {
		h.setGuard(kind, true)
	}
}
