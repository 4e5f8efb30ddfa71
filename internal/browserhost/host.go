// Package browserhost drives a kiosk Chrome window over the DevTools
// protocol and exposes it as the platform capabilities the proctoring
// packages consume.
package browserhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/kdimtricp/vproctor/internal/platform"
)

type Config struct {
	URL         string
	ExecPath    string
	UserDataDir string
	Kiosk       bool
	Headless    bool
	Width       int
	Height      int
	// EvalTimeout bounds the synchronous page reads behind Viewport and the
	// clipboard guards.
	EvalTimeout time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:         url,
		Kiosk:       true,
		Width:       1280,
		Height:      800,
		EvalTimeout: 2 * time.Second,
	}
}

type evalFunc func(ctx context.Context, expr string, res any, opts ...chromedp.EvaluateOption) error

// Host is one candidate browser window. It implements platform.Window and
// platform.Page.
type Host struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	eval   evalFunc
	events chan bridgeEvent

	mu       sync.Mutex
	state    bridgeEvent
	handlers map[platform.EventKind]map[uint64]func(*platform.DOMEvent)
	nextID   uint64
}

var (
	_ platform.Window = (*Host)(nil)
	_ platform.Page   = (*Host)(nil)
)

func newHost(ctx context.Context, config Config, eval evalFunc) *Host {
	if config.EvalTimeout <= 0 {
		config.EvalTimeout = 2 * time.Second
	}
	return &Host{
		config:   config,
		ctx:      ctx,
		eval:     eval,
		events:   make(chan bridgeEvent, 64),
		handlers: make(map[platform.EventKind]map[uint64]func(*platform.DOMEvent)),
	}
}

// Launch starts Chrome, installs the event bridge and opens config.URL.
func Launch(ctx context.Context, config Config) (*Host, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("kiosk", config.Kiosk),
		// Our own automation must not trip the webdriver probe the scanner runs.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		// Extensions stay on so the environment scan sees the candidate's profile.
		chromedp.Flag("disable-extensions", false),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.WindowSize(config.Width, config.Height),
	)
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}
	if config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(config.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	h := newHost(browserCtx, config, func(ctx context.Context, expr string, res any, opts ...chromedp.EvaluateOption) error {
		return chromedp.Run(ctx, chromedp.Evaluate(expr, res, opts...))
	})
	h.cancel = func() {
		var proc *os.Process
		if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
			proc = c.Browser.Process()
		}
		done := make(chan struct{})
		go func() {
			browserCancel()
			allocCancel()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			if proc != nil {
				proc.Kill()
			}
			log.Printf("[BROWSER] Cleanup timed out, killed Chrome")
		}
	}

	chromedp.ListenTarget(browserCtx, h.onTargetEvent)

	err := chromedp.Run(browserCtx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bridgeScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(config.URL),
	)
	if err != nil {
		h.cancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	go h.dispatchLoop()
	h.refreshState()

	log.Printf("[BROWSER] Opened %s (kiosk=%t)", config.URL, config.Kiosk)
	return h, nil
}

func (h *Host) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Host) onTargetEvent(ev any) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != bindingName {
		return
	}

	var payload bridgeEvent
	if err := json.Unmarshal([]byte(called.Payload), &payload); err != nil {
		log.Printf("[BROWSER] Bad bridge payload: %v", err)
		return
	}

	// The CDP read loop must not block, and handlers may issue CDP calls.
	select {
	case h.events <- payload:
	default:
		log.Printf("[BROWSER] Event queue full, dropped %s", payload.Kind)
	}
}

// dispatchLoop delivers bridge events one at a time so each listener sees
// them in page order.
func (h *Host) dispatchLoop() {
	for {
		select {
		case ev := <-h.events:
			h.handle(ev)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Host) handle(ev bridgeEvent) {
	h.mu.Lock()
	kind := ev.Kind
	ev.Kind = ""
	h.state = ev
	h.mu.Unlock()

	if kind == kindReady {
		h.reapplyGuards()
		return
	}

	h.dispatch(platform.EventKind(kind))
}

func (h *Host) dispatch(kind platform.EventKind) {
	h.mu.Lock()
	handlers := make([]func(*platform.DOMEvent), 0, len(h.handlers[kind]))
	for _, fn := range h.handlers[kind] {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	// The page already cancelled the default action when a guard was set.
	ev := platform.NewDOMEvent(kind, nil)
	for _, fn := range handlers {
		fn(ev)
	}
}

func (h *Host) refreshState() {
	ctx, cancel := context.WithTimeout(h.ctx, h.config.EvalTimeout)
	defer cancel()

	var st *bridgeEvent
	if err := h.eval(ctx, stateExpr, &st); err != nil {
		log.Printf("[BROWSER] Failed to read window state: %v", err)
		return
	}
	if st == nil {
		return
	}
	h.mu.Lock()
	h.state = *st
	h.mu.Unlock()
}
