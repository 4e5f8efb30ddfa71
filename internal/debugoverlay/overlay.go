// Package debugoverlay exposes manual violation triggers for testing a
// proctored session. It is off unless a debug flag is set.
package debugoverlay

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

// QueryFlag is the exam page query parameter that turns the overlay on.
const QueryFlag = "proctorDebug"

type Recorder interface {
	Emit(eventType models.EventType, metadata map[string]any)
	Counts() map[models.EventType]int
}

var simulated = map[models.EventType]bool{
	models.TabSwitch:      true,
	models.FullscreenExit: true,
}

type Overlay struct {
	enabled    bool
	recorder   Recorder
	fullscreen platform.Fullscreen
}

// Enabled reports whether debug mode is on, either from the environment flag
// or from ?proctorDebug=1 on the exam page URL.
func Enabled(envFlag bool, pageURL string) bool {
	if envFlag {
		return true
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	v := u.Query().Get(QueryFlag)
	return v == "1" || v == "true"
}

func New(recorder Recorder, fullscreen platform.Fullscreen, enabled bool) *Overlay {
	return &Overlay{enabled: enabled, recorder: recorder, fullscreen: fullscreen}
}

func (o *Overlay) Enabled() bool {
	return o.enabled
}

// Routes mounts under any prefix. Every route answers 404 when the overlay
// is disabled.
func (o *Overlay) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(o.gate)

	r.Get("/", o.StatusHandler)
	r.Post("/simulate/{eventType}", o.SimulateHandler)
	r.Post("/fullscreen/enter", o.FullscreenHandler(true))
	r.Post("/fullscreen/exit", o.FullscreenHandler(false))

	return r
}

func (o *Overlay) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !o.enabled {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (o *Overlay) StatusHandler(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int)
	for t, n := range o.recorder.Counts() {
		counts[string(t)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fullscreen": o.fullscreen.IsFullscreen(),
		"counts":     counts,
	})
}

func (o *Overlay) SimulateHandler(w http.ResponseWriter, r *http.Request) {
	eventType := models.EventType(chi.URLParam(r, "eventType"))
	if !simulated[eventType] {
		http.Error(w, "Only TAB_SWITCH and FULLSCREEN_EXIT can be simulated", http.StatusBadRequest)
		return
	}

	log.Printf("[DEBUG] Simulating %s", eventType)
	o.recorder.Emit(eventType, map[string]any{"simulated": true})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "ok", "eventType": eventType})
}

func (o *Overlay) FullscreenHandler(enter bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		if enter {
			err = o.fullscreen.RequestFullscreen(r.Context())
		} else {
			err = o.fullscreen.ExitFullscreen(r.Context())
		}
		if err != nil {
			http.Error(w, "Fullscreen request failed: "+err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fullscreen": o.fullscreen.IsFullscreen()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[DEBUG] Failed to write response: %v", err)
	}
}
