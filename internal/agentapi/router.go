// Package agentapi is the loopback HTTP surface the exam page uses to drive
// onboarding and read session state from the local agent.
package agentapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kdimtricp/vproctor/internal/ai"
	"github.com/kdimtricp/vproctor/internal/debugoverlay"
	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/onboarding"
	"github.com/kdimtricp/vproctor/internal/session"
)

type Agent struct {
	Onboarding *onboarding.Controller
	Session    *session.Session
	Overlay    *debugoverlay.Overlay
}

func NewRouter(a *Agent) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})

	r.Route("/onboarding", func(r chi.Router) {
		r.Get("/", a.SnapshotHandler)
		r.Get("/photo", a.PhotoImageHandler)
		r.Post("/open", a.OpenHandler)
		r.Post("/retry", a.RetryHandler)
		r.Post("/consent", a.ConsentHandler)
		r.Post("/photo", a.CaptureHandler)
		r.Post("/retake", a.step(a.Onboarding.Retake))
		r.Post("/next", a.step(a.Onboarding.Next))
		r.Post("/back", a.step(a.Onboarding.Back))
		r.Post("/screen-share", a.ScreenShareHandler)
		r.Post("/fullscreen", a.FullscreenHandler)
		r.Post("/scan", a.ScanHandler)
		r.Post("/start", a.StartHandler)
		r.Post("/dismiss", a.DismissHandler)
	})

	r.Get("/session", a.SessionHandler)

	if a.Overlay != nil {
		r.Mount("/debug", a.Overlay.Routes())
	}

	return r
}

type gateErrorJSON struct {
	Gate      onboarding.State `json:"gate"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
	At        time.Time        `json:"at"`
}

type snapshotResponse struct {
	onboarding.Snapshot
	Error *gateErrorJSON `json:"error,omitempty"`
}

func (a *Agent) writeSnapshot(w http.ResponseWriter, status int) {
	snap := a.Onboarding.Snapshot()
	resp := snapshotResponse{Snapshot: snap}
	if e := snap.LastError; e != nil {
		resp.Error = &gateErrorJSON{Gate: e.Gate, Message: e.Err.Error(), Retryable: e.Retryable, At: e.At}
	}
	writeJSON(w, status, resp)
}

func (a *Agent) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	a.writeSnapshot(w, http.StatusOK)
}

// step wraps a controller transition that takes no input.
func (a *Agent) step(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeError(w, err)
			return
		}
		a.writeSnapshot(w, http.StatusOK)
	}
}

func (a *Agent) OpenHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.Onboarding.Open(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	a.writeSnapshot(w, http.StatusOK)
}

func (a *Agent) RetryHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.Onboarding.Retry(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	a.writeSnapshot(w, http.StatusOK)
}

func (a *Agent) ConsentHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Consent bool `json:"consent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	a.Onboarding.SetConsent(body.Consent)
	a.writeSnapshot(w, http.StatusOK)
}

type photoResponse struct {
	Result     ai.FaceDetectionResult `json:"result"`
	CapturedAt time.Time              `json:"capturedAt"`
}

func (a *Agent) CaptureHandler(w http.ResponseWriter, r *http.Request) {
	photo, err := a.Onboarding.CapturePhoto(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, photoResponse{Result: photo.Result, CapturedAt: photo.CapturedAt})
}

// PhotoImageHandler serves the current mirrored capture for the preview.
func (a *Agent) PhotoImageHandler(w http.ResponseWriter, r *http.Request) {
	photo := a.Onboarding.Photo()
	if photo == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(photo.Frame.Data)
}

func (a *Agent) ScreenShareHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.Onboarding.RequestScreenShare(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	a.writeSnapshot(w, http.StatusOK)
}

func (a *Agent) FullscreenHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.Onboarding.RequestFullscreen(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	a.writeSnapshot(w, http.StatusOK)
}

func (a *Agent) ScanHandler(w http.ResponseWriter, r *http.Request) {
	result, err := a.Onboarding.ScanEnvironment(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *Agent) StartHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.Onboarding.StartAssessment(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	a.writeSnapshot(w, http.StatusOK)
}

func (a *Agent) DismissHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason onboarding.DismissReason `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reason == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.Onboarding.Dismiss(body.Reason); err != nil {
		writeError(w, err)
		return
	}
	a.writeSnapshot(w, http.StatusOK)
}

type sessionResponse struct {
	Running bool                     `json:"running"`
	Gates   session.Gates            `json:"gates"`
	Counts  map[models.EventType]int `json:"counts"`
	Total   int                      `json:"total"`
}

func (a *Agent) SessionHandler(w http.ResponseWriter, r *http.Request) {
	counts := a.Session.Recorder().Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Running: a.Session.Running(),
		Gates:   a.Session.Gates(),
		Counts:  counts,
		Total:   total,
	})
}

func statusFor(err error) int {
	var gateErr *onboarding.GateError
	switch {
	case errors.Is(err, onboarding.ErrMandatory):
		return http.StatusForbidden
	case errors.As(err, &gateErr),
		errors.Is(err, onboarding.ErrWrongState),
		errors.Is(err, onboarding.ErrGateNotSatisfied),
		errors.Is(err, onboarding.ErrRetakeRequired),
		errors.Is(err, onboarding.ErrNoCamera),
		errors.Is(err, onboarding.ErrFullscreenInactive),
		errors.Is(err, onboarding.ErrHighRiskEnvironment),
		errors.Is(err, onboarding.ErrEnvironmentUnknown),
		errors.Is(err, session.ErrMediaNotLive),
		errors.Is(err, session.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, onboarding.ErrAbandoned), errors.Is(err, onboarding.ErrCompleted):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[AGENT] Request failed: %v", err)
	}
	body := map[string]any{"error": err.Error()}
	var gateErr *onboarding.GateError
	if errors.As(err, &gateErr) {
		body["gate"] = gateErr.Gate
		body["retryable"] = gateErr.Retryable
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[AGENT] Failed to write response: %v", err)
	}
}
