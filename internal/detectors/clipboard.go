package detectors

import (
	"sync"

	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

var clipboardEvents = map[platform.EventKind]models.EventType{
	platform.EventCopy:        models.CopyRestrict,
	platform.EventPaste:       models.PasteAttempt,
	platform.EventContextMenu: models.RightClick,
}

// Clipboard blocks copy, paste and the context menu, reporting each attempt.
type Clipboard struct {
	emit Emit

	mu   sync.Mutex
	subs []*platform.Subscription
}

func NewClipboard(emit Emit) *Clipboard {
	return &Clipboard{emit: emit}
}

func (d *Clipboard) Name() string { return "clipboard" }

func (d *Clipboard) Start(w platform.Window) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subs != nil {
		return
	}
	for kind, eventType := range clipboardEvents {
		eventType := eventType
		d.subs = append(d.subs, w.On(kind, guard(d.Name(), func(ev *platform.DOMEvent) {
			ev.PreventDefault()
			d.emit(eventType, nil)
		})))
	}
}

func (d *Clipboard) Stop() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()
	unsubscribeAll(subs)
}
