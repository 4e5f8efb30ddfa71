package browserhost

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/kdimtricp/vproctor/internal/detectors"
	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

// fakePage answers Evaluate calls with canned JSON, standing in for Chrome.
type fakePage struct {
	mu      sync.Mutex
	exprs   []string
	respond func(expr string) (string, error)
}

func (f *fakePage) eval(ctx context.Context, expr string, res any, opts ...chromedp.EvaluateOption) error {
	f.mu.Lock()
	f.exprs = append(f.exprs, expr)
	respond := f.respond
	f.mu.Unlock()

	out := "true"
	if respond != nil {
		var err error
		if out, err = respond(expr); err != nil {
			return err
		}
	}
	if res == nil {
		return nil
	}
	return json.Unmarshal([]byte(out), res)
}

func (f *fakePage) matching(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.exprs {
		if strings.Contains(e, substr) {
			out = append(out, e)
		}
	}
	return out
}

func newTestHost(t *testing.T, fp *fakePage) *Host {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return newHost(ctx, DefaultConfig("about:blank"), fp.eval)
}

func TestHandleDispatchesAndCachesState(t *testing.T) {
	h := newTestHost(t, &fakePage{})

	var got []platform.EventKind
	sub := h.On(platform.EventVisibilityChange, func(ev *platform.DOMEvent) {
		got = append(got, ev.Kind)
	})
	defer sub.Unsubscribe()

	h.handle(bridgeEvent{Kind: "visibilitychange", Hidden: true, Fullscreen: true})

	if len(got) != 1 || got[0] != platform.EventVisibilityChange {
		t.Fatalf("Expected one visibilitychange, got %v", got)
	}
	if !h.Hidden() || !h.IsFullscreen() {
		t.Errorf("Expected cached state to follow the event")
	}

	sub.Unsubscribe()
	h.handle(bridgeEvent{Kind: "visibilitychange"})
	if len(got) != 1 {
		t.Errorf("Expected no delivery after unsubscribe")
	}
}

// Chrome fires blur while the page is still visible, then visibilitychange.
func TestTabSwitchInChromeOrderRecordsOnce(t *testing.T) {
	h := newTestHost(t, &fakePage{})

	var mu sync.Mutex
	var got []models.EventType
	emit := func(eventType models.EventType, metadata map[string]any) {
		mu.Lock()
		got = append(got, eventType)
		mu.Unlock()
	}
	set := detectors.NewSet(h, emit, detectors.Config{BlurSettle: 20 * time.Millisecond})
	set.Start()
	defer set.Stop()

	h.handle(bridgeEvent{Kind: "blur", Hidden: false})
	h.handle(bridgeEvent{Kind: "visibilitychange", Hidden: true})
	h.handle(bridgeEvent{Kind: "visibilitychange", Hidden: false})
	h.handle(bridgeEvent{Kind: "focus", Hidden: false})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != models.TabSwitch {
		t.Errorf("Expected one TAB_SWITCH for one tab switch, got %v", got)
	}
}

func TestOnTargetEventQueuesBridgePayloads(t *testing.T) {
	h := newTestHost(t, &fakePage{})

	h.onTargetEvent(&runtime.EventBindingCalled{Name: "other", Payload: `{"kind":"blur"}`})
	h.onTargetEvent(&runtime.EventBindingCalled{Name: bindingName, Payload: `not json`})
	h.onTargetEvent(&runtime.EventBindingCalled{Name: bindingName, Payload: `{"kind":"blur","innerWidth":800}`})

	if len(h.events) != 1 {
		t.Fatalf("Expected 1 queued event, got %d", len(h.events))
	}
	ev := <-h.events
	if ev.Kind != "blur" || ev.InnerWidth != 800 {
		t.Errorf("Unexpected payload %+v", ev)
	}
}

func TestClipboardGuardFollowsListeners(t *testing.T) {
	fp := &fakePage{}
	h := newTestHost(t, fp)

	a := h.On(platform.EventCopy, func(*platform.DOMEvent) {})
	b := h.On(platform.EventCopy, func(*platform.DOMEvent) {})
	if got := fp.matching(`guard["copy"] = true`); len(got) != 1 {
		t.Errorf("Expected guard set once, got %d", len(got))
	}

	a.Unsubscribe()
	if got := fp.matching(`guard["copy"] = false`); len(got) != 0 {
		t.Errorf("Guard cleared while a listener remains")
	}

	h.handle(bridgeEvent{Kind: kindReady})
	if got := fp.matching(`guard["copy"] = true`); len(got) != 2 {
		t.Errorf("Expected guard reapplied after navigation, got %d", len(got))
	}

	b.Unsubscribe()
	if got := fp.matching(`guard["copy"] = false`); len(got) != 1 {
		t.Errorf("Expected guard cleared after last listener")
	}

	h.On(platform.EventBlur, func(*platform.DOMEvent) {})
	if got := fp.matching(`guard["blur"]`); len(got) != 0 {
		t.Errorf("Blur must not be guarded")
	}
}

func TestGuardedEventArrivesPrevented(t *testing.T) {
	h := newTestHost(t, &fakePage{})

	var ev *platform.DOMEvent
	h.On(platform.EventPaste, func(e *platform.DOMEvent) {
		e.PreventDefault()
		ev = e
	})
	h.handle(bridgeEvent{Kind: "paste"})
	if ev == nil || !ev.DefaultPrevented() {
		t.Errorf("Expected paste delivered and marked prevented")
	}
}

func TestViewportReadsLiveState(t *testing.T) {
	fp := &fakePage{respond: func(expr string) (string, error) {
		if expr == stateExpr {
			return `{"outerWidth":1280,"outerHeight":800,"innerWidth":1000,"innerHeight":640}`, nil
		}
		return "true", nil
	}}
	h := newTestHost(t, fp)

	vp := h.Viewport()
	if vp.OuterWidth != 1280 || vp.InnerWidth != 1000 || vp.InnerHeight != 640 {
		t.Errorf("Unexpected viewport %+v", vp)
	}

	fp.mu.Lock()
	fp.respond = func(string) (string, error) { return "", errors.New("page gone") }
	fp.mu.Unlock()

	if cached := h.Viewport(); cached != vp {
		t.Errorf("Expected cached viewport on failure, got %+v", cached)
	}
}

func TestRequestFullscreen(t *testing.T) {
	fp := &fakePage{}
	h := newTestHost(t, fp)

	if err := h.RequestFullscreen(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.IsFullscreen() {
		t.Errorf("Expected fullscreen after successful request")
	}
	if err := h.ExitFullscreen(context.Background()); err != nil || h.IsFullscreen() {
		t.Errorf("Expected fullscreen exited, err=%v", err)
	}

	fp.mu.Lock()
	fp.respond = func(string) (string, error) { return "", errors.New("Permissions check failed") }
	fp.mu.Unlock()

	err := h.RequestFullscreen(context.Background())
	if !errors.Is(err, platform.ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", err)
	}
}
