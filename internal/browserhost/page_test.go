package browserhost

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kdimtricp/vproctor/internal/platform"
)

func TestPageProbesQuoteInput(t *testing.T) {
	fp := &fakePage{}
	h := newTestHost(t, fp)
	ctx := context.Background()

	if found, err := h.HasGlobal(ctx, `__REACT_DEVTOOLS_GLOBAL_HOOK__`); err != nil || !found {
		t.Fatalf("HasGlobal: %v %v", found, err)
	}
	if _, err := h.MatchesSelector(ctx, `div[data-x="a'b"]`); err != nil {
		t.Fatalf("MatchesSelector: %v", err)
	}

	if got := fp.matching(`window["__REACT_DEVTOOLS_GLOBAL_HOOK__"]`); len(got) != 1 {
		t.Errorf("Expected global name passed as a JSON string")
	}
	if got := fp.matching(`document.querySelector("div[data-x=\"a'b\"]")`); len(got) != 1 {
		t.Errorf("Expected selector passed as a JSON string, got %v", fp.exprs)
	}
}

func TestProbeErrorsAreWrapped(t *testing.T) {
	fp := &fakePage{respond: func(string) (string, error) { return "", errors.New("target closed") }}
	h := newTestHost(t, fp)

	if _, err := h.Webdriver(context.Background()); err == nil || !strings.Contains(err.Error(), "navigator.webdriver") {
		t.Errorf("Expected wrapped webdriver error, got %v", err)
	}
}

func TestBaitLifecycle(t *testing.T) {
	fp := &fakePage{respond: func(expr string) (string, error) {
		switch {
		case strings.Contains(expr, "getComputedStyle"):
			return `[{"id":"ad-banner","hidden":true,"width":0,"height":0,"hasParent":true}]`, nil
		default:
			return "1", nil
		}
	}}
	h := newTestHost(t, fp)
	ctx := context.Background()

	set, err := h.InsertBait(ctx, []platform.BaitSpec{{ID: "ad-banner", ClassName: "adsbox", Attrs: map[string]string{"data-ad": "1"}}})
	if err != nil {
		t.Fatalf("InsertBait: %v", err)
	}
	if got := fp.matching(`"className":"adsbox"`); len(got) != 1 {
		t.Errorf("Expected bait spec in insert script")
	}

	states, err := set.Inspect(ctx)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(states) != 1 || !states[0].Hidden || states[0].Width != 0 {
		t.Errorf("Unexpected states %+v", states)
	}

	if err := set.Remove(ctx); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	set.Remove(ctx)
	if got := fp.matching("el.remove()"); len(got) != 1 {
		t.Errorf("Expected one removal, got %d", len(got))
	}
}
