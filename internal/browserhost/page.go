package browserhost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/kdimtricp/vproctor/internal/platform"
)

func jsString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func (h *Host) HasGlobal(ctx context.Context, name string) (bool, error) {
	var found bool
	if err := h.eval(ctx, fmt.Sprintf(`typeof window[%s] !== 'undefined'`, jsString(name)), &found); err != nil {
		return false, fmt.Errorf("probing global %s: %w", name, err)
	}
	return found, nil
}

func (h *Host) Webdriver(ctx context.Context) (bool, error) {
	var flagged bool
	if err := h.eval(ctx, `navigator.webdriver === true`, &flagged); err != nil {
		return false, fmt.Errorf("probing navigator.webdriver: %w", err)
	}
	return flagged, nil
}

// MatchesSelector treats an invalid selector as no match.
func (h *Host) MatchesSelector(ctx context.Context, selector string) (bool, error) {
	expr := fmt.Sprintf(`(() => { try { return document.querySelector(%s) !== null; } catch (e) { return false; } })()`, jsString(selector))
	var matched bool
	if err := h.eval(ctx, expr, &matched); err != nil {
		return false, fmt.Errorf("probing selector %s: %w", selector, err)
	}
	return matched, nil
}

var baitGroups atomic.Uint64

const insertBaitJS = `((group, baits) => {
  const holder = window.__vproctor || (window.__vproctor = { baits: {} });
  holder.baits = holder.baits || {};
  holder.baits[group] = baits.map((b) => {
    const el = document.createElement('div');
    el.id = b.id;
    el.className = b.className;
    Object.entries(b.attrs || {}).forEach(([k, v]) => el.setAttribute(k, v));
    el.innerHTML = '&nbsp;';
    el.style.cssText = 'position:absolute;left:-10000px;top:-10000px;width:1px;height:1px;';
    document.body.appendChild(el);
    return el;
  });
  return holder.baits[group].length;
})(%s, %s)`

const inspectBaitJS = `((group) => {
  const els = (window.__vproctor && window.__vproctor.baits && window.__vproctor.baits[group]) || [];
  return els.map((el) => {
    const style = window.getComputedStyle(el);
    return {
      id: el.id,
      hidden: style.display === 'none' || style.visibility === 'hidden',
      width: el.offsetWidth,
      height: el.offsetHeight,
      hasParent: el.parentNode !== null,
    };
  });
})(%s)`

const removeBaitJS = `((group) => {
  const holder = window.__vproctor && window.__vproctor.baits;
  if (!holder || !holder[group]) return 0;
  const n = holder[group].length;
  holder[group].forEach((el) => el.remove());
  delete holder[group];
  return n;
})(%s)`

type baitJSON struct {
	ID        string            `json:"id"`
	ClassName string            `json:"className"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

func (h *Host) InsertBait(ctx context.Context, baits []platform.BaitSpec) (platform.BaitSet, error) {
	specs := make([]baitJSON, len(baits))
	for i, b := range baits {
		specs[i] = baitJSON{ID: b.ID, ClassName: b.ClassName, Attrs: b.Attrs}
	}
	raw, err := json.Marshal(specs)
	if err != nil {
		return nil, fmt.Errorf("encoding bait: %w", err)
	}

	group := fmt.Sprintf("g%d", baitGroups.Add(1))
	var inserted int
	if err := h.eval(ctx, fmt.Sprintf(insertBaitJS, jsString(group), raw), &inserted); err != nil {
		return nil, fmt.Errorf("inserting bait: %w", err)
	}
	return &baitSet{host: h, group: group}, nil
}

type baitSet struct {
	host    *Host
	group   string
	removed atomic.Bool
}

func (b *baitSet) Inspect(ctx context.Context) ([]platform.BaitState, error) {
	var states []struct {
		ID        string  `json:"id"`
		Hidden    bool    `json:"hidden"`
		Width     float64 `json:"width"`
		Height    float64 `json:"height"`
		HasParent bool    `json:"hasParent"`
	}
	if err := b.host.eval(ctx, fmt.Sprintf(inspectBaitJS, jsString(b.group)), &states); err != nil {
		return nil, fmt.Errorf("inspecting bait: %w", err)
	}

	out := make([]platform.BaitState, len(states))
	for i, st := range states {
		out[i] = platform.BaitState{
			ID:        st.ID,
			Hidden:    st.Hidden,
			Width:     st.Width,
			Height:    st.Height,
			HasParent: st.HasParent,
		}
	}
	return out, nil
}

// Remove is idempotent.
func (b *baitSet) Remove(ctx context.Context) error {
	if b.removed.Swap(true) {
		return nil
	}
	var n int
	if err := b.host.eval(ctx, fmt.Sprintf(removeBaitJS, jsString(b.group)), &n); err != nil {
		b.removed.Store(false)
		return fmt.Errorf("removing bait: %w", err)
	}
	return nil
}
