// Package detectors watches browser signals during a live exam and emits one
// violation per detected transition.
package detectors

import (
	"log"
	"runtime/debug"

	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

// Emit receives a violation as soon as a detector observes it.
type Emit func(eventType models.EventType, metadata map[string]any)

type Detector interface {
	Name() string
	Start(w platform.Window)
	Stop()
}

// guard keeps a failing handler from taking down the window's dispatch loop
// or any other detector.
func guard(name string, fn func(*platform.DOMEvent)) func(*platform.DOMEvent) {
	return func(ev *platform.DOMEvent) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[DETECT] %s handler panicked on %s: %v\n%s", name, ev.Kind, r, debug.Stack())
			}
		}()
		fn(ev)
	}
}

func unsubscribeAll(subs []*platform.Subscription) {
	for _, s := range subs {
		s.Unsubscribe()
	}
}
