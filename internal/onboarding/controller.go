// Package onboarding walks a candidate through the mandatory pre-exam gates:
// a verified photo, a full-monitor screen share and fullscreen. The exam
// unlocks only while all three hold at once.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kdimtricp/vproctor/internal/ai"
	"github.com/kdimtricp/vproctor/internal/detectors"
	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
	"github.com/kdimtricp/vproctor/internal/scanner"
)

const (
	ownerOnboarding = "onboarding"
	ownerSession    = "session"
)

// FaceDetector is the part of ai.Engine the controller needs.
type FaceDetector interface {
	DetectFaces(ctx context.Context, frame platform.Frame) ai.FaceDetectionResult
}

// StartFunc receives the handoff when the candidate starts the exam. If it
// returns an error it must leave the handles unreleased; the controller
// takes them back and reuses them.
type StartFunc func(ctx context.Context, handoff Handoff) error

type Config struct {
	// FullscreenSettle is how long the browser gets to enter fullscreen
	// before the gate is checked.
	FullscreenSettle time.Duration
	// BlockHighRisk refuses to start while the last environment scan found
	// high-risk tooling.
	BlockHighRisk bool
}

func DefaultConfig() Config {
	return Config{FullscreenSettle: 300 * time.Millisecond}
}

type Controller struct {
	devices    platform.MediaDevices
	window     platform.Window
	faces      FaceDetector
	onStart    StartFunc
	config     Config
	scanner    *scanner.Scanner
	emit       detectors.Emit
	fullscreen *detectors.Fullscreen
	now        func() time.Time

	mu             sync.Mutex
	state          State
	consent        bool
	photo          *CapturedPhoto
	retakeRequired bool
	camera         *platform.MediaHandle
	screen         *platform.MediaHandle
	screenStream   platform.Stream
	screenSub      *platform.Subscription
	screenLost     bool
	lastErr        *GateError
	environment    *scanner.ExtensionScanResult
	abandoned      bool
	completed      bool
	starting       bool
}

func NewController(devices platform.MediaDevices, window platform.Window, faces FaceDetector, onStart StartFunc, config Config) *Controller {
	if config.FullscreenSettle <= 0 {
		config.FullscreenSettle = DefaultConfig().FullscreenSettle
	}
	c := &Controller{
		devices:    devices,
		window:     window,
		faces:      faces,
		onStart:    onStart,
		config:     config,
		fullscreen: detectors.NewFullscreen(nil),
		now:        time.Now,
		state:      StatePhotoCapture,
	}
	c.fullscreen.OnChange(func(active bool) {
		log.Printf("[ONBOARD] Fullscreen changed: active=%v", active)
	})
	c.fullscreen.Start(window)
	return c
}

// WithScanner lets the controller run environment scans and carry the
// latest result into the handoff.
func (c *Controller) WithScanner(s *scanner.Scanner) *Controller {
	c.scanner = s
	return c
}

// WithEmit records FULLSCREEN_REFUSED when the browser rejects fullscreen.
func (c *Controller) WithEmit(emit detectors.Emit) *Controller {
	c.emit = emit
	return c
}

// Open enters PHOTO_CAPTURE and acquires camera and microphone.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	// Open is the entry into the flow; later steps go back with Back.
	if c.state != StatePhotoCapture {
		c.mu.Unlock()
		return ErrWrongState
	}
	c.mu.Unlock()

	log.Printf("[ONBOARD] Opened at %s", StatePhotoCapture)
	return c.acquireCamera(ctx)
}

// Retry re-runs the acquisition that belongs to the current step.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StatePhotoCapture:
		return c.acquireCamera(ctx)
	case StateScreenShare:
		return c.RequestScreenShare(ctx)
	case StateFullscreen:
		return c.RequestFullscreen(ctx)
	default:
		return ErrWrongState
	}
}

func (c *Controller) acquireCamera(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.camera.Live() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	stream, err := c.devices.GetUserMedia(ctx, platform.MediaConstraints{Video: true, Audio: true})
	if err != nil {
		return c.gateFailed(StatePhotoCapture, fmt.Errorf("camera access: %w", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned || c.completed {
		platform.StopTracks(stream)
		return ErrAbandoned
	}
	c.camera.Release()
	c.camera = platform.NewMediaHandle(stream, ownerOnboarding)
	c.clearErrorLocked(StatePhotoCapture)
	log.Printf("[ONBOARD] Camera stream %s acquired", stream.ID())
	return nil
}

func (c *Controller) SetConsent(consent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consent = consent
}

// CapturePhoto snapshots the live preview, mirrors it to match the self-view
// and scores it. An invalid photo must be retaken before the next capture.
func (c *Controller) CapturePhoto(ctx context.Context) (*CapturedPhoto, error) {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.state != StatePhotoCapture {
		c.mu.Unlock()
		return nil, ErrWrongState
	}
	if c.retakeRequired {
		c.mu.Unlock()
		return nil, ErrRetakeRequired
	}
	camera, ok := c.camera.Stream().(platform.CameraStream)
	if !ok || !c.camera.Live() {
		c.mu.Unlock()
		return nil, ErrNoCamera
	}
	c.mu.Unlock()

	raw, err := camera.GrabFrame(ctx)
	if err != nil {
		return nil, c.gateFailed(StatePhotoCapture, fmt.Errorf("capturing frame: %w", err))
	}

	frame, err := ai.MirrorFrame(raw)
	if err != nil {
		log.Printf("[ONBOARD] Could not mirror capture, scoring the raw frame: %v", err)
		frame = raw
	}

	photo := &CapturedPhoto{
		Frame:      frame,
		Result:     c.faces.DetectFaces(ctx, frame),
		CapturedAt: c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned || c.completed {
		return nil, ErrAbandoned
	}
	c.photo = photo
	c.retakeRequired = !photo.Result.IsValid
	log.Printf("[ONBOARD] Photo captured: status=%s faces=%d valid=%v",
		photo.Result.Status, photo.Result.FaceCount, photo.Result.IsValid)
	return photo, nil
}

// Retake discards the current photo and re-enables capture.
func (c *Controller) Retake() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.state != StatePhotoCapture {
		return ErrWrongState
	}
	c.photo = nil
	c.retakeRequired = false
	return nil
}

// Next advances one step when the current step's gate holds.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}

	gates := c.gatesLocked()
	var ok bool
	switch c.state {
	case StatePhotoCapture:
		ok = gates.photoGate()
	case StateScreenShare:
		ok = gates.photoGate() && gates.ScreenShareLive
	case StateFullscreen:
		ok = gates.all()
	default:
		return ErrWrongState
	}
	if !ok {
		return fmt.Errorf("%w at %s: %+v", ErrGateNotSatisfied, c.state, gates)
	}

	from := c.state
	c.state = order[c.state.index()+1]
	log.Printf("[ONBOARD] %s -> %s", from, c.state)
	return nil
}

// Back moves exactly one step back. Acquired media is kept.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	i := c.state.index()
	if i <= 0 {
		return ErrWrongState
	}
	from := c.state
	c.state = order[i-1]
	log.Printf("[ONBOARD] %s -> %s (back)", from, c.state)
	return nil
}

// RequestScreenShare prompts for a full-monitor capture and watches its
// video track so a revoked share marks the gate lost.
func (c *Controller) RequestScreenShare(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != StateScreenShare {
		c.mu.Unlock()
		return ErrWrongState
	}
	c.mu.Unlock()

	stream, err := c.devices.GetDisplayMedia(ctx, platform.DisplayConstraints{Surface: platform.SurfaceMonitor})
	if err != nil {
		return c.gateFailed(StateScreenShare, fmt.Errorf("screen share: %w", err))
	}
	track := platform.FirstVideoTrack(stream)
	if track == nil {
		platform.StopTracks(stream)
		return c.gateFailed(StateScreenShare, fmt.Errorf("screen share: %w", platform.ErrNoDevice))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned || c.completed {
		platform.StopTracks(stream)
		return ErrAbandoned
	}
	c.dropScreenLocked()
	handle := platform.NewMediaHandle(stream, ownerOnboarding)
	c.screen = handle
	c.screenStream = stream
	c.screenLost = false
	// Compare streams, not handles: a failed start reclaims the stream
	// under a new handle.
	c.screenSub = track.OnEnded(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.screenStream == stream {
			c.screenLost = true
			log.Printf("[ONBOARD] Screen share %s ended by the user", stream.ID())
		}
	})
	c.clearErrorLocked(StateScreenShare)
	log.Printf("[ONBOARD] Screen share %s granted", stream.ID())
	return nil
}

// RequestFullscreen asks for fullscreen on the document root, lets the
// browser settle and then checks that fullscreen actually took effect.
func (c *Controller) RequestFullscreen(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != StateFullscreen {
		c.mu.Unlock()
		return ErrWrongState
	}
	c.mu.Unlock()

	if err := c.window.RequestFullscreen(ctx); err != nil {
		c.refused(err)
		return c.gateFailed(StateFullscreen, fmt.Errorf("fullscreen: %w", err))
	}

	select {
	case <-time.After(c.config.FullscreenSettle):
	case <-ctx.Done():
		return ctx.Err()
	}

	if !c.window.IsFullscreen() {
		c.refused(ErrFullscreenInactive)
		return c.gateFailed(StateFullscreen, ErrFullscreenInactive)
	}

	c.mu.Lock()
	c.clearErrorLocked(StateFullscreen)
	c.mu.Unlock()
	log.Printf("[ONBOARD] Fullscreen active")
	return nil
}

func (c *Controller) refused(err error) {
	if c.emit != nil {
		c.emit(models.FullscreenRefused, map[string]any{"error": err.Error()})
	}
}

// ScanEnvironment runs the environment scanner and keeps its result for the
// snapshot and the handoff.
func (c *Controller) ScanEnvironment(ctx context.Context) (*scanner.ExtensionScanResult, error) {
	if c.scanner == nil {
		return nil, nil
	}
	result, err := c.scanner.Scan(ctx)
	if errors.Is(err, scanner.ErrScanFailed) {
		c.mu.Lock()
		c.environment = nil
		c.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.environment = result
	c.mu.Unlock()
	return result, nil
}

// StartAssessment hands photo, screen and webcam to the StartFunc. It is
// reachable only from READY with all gates live. If the StartFunc fails the
// flow returns to PHOTO_CAPTURE and keeps the granted streams.
func (c *Controller) StartAssessment(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != StateReady || c.starting {
		c.mu.Unlock()
		return ErrWrongState
	}
	gates := c.gatesLocked()
	if !gates.all() {
		c.mu.Unlock()
		return fmt.Errorf("%w at %s: %+v", ErrGateNotSatisfied, c.state, gates)
	}
	if c.config.BlockHighRisk && c.scanner != nil && c.environment == nil {
		c.mu.Unlock()
		return ErrEnvironmentUnknown
	}
	if c.config.BlockHighRisk && c.environment != nil && c.environment.HasHighRisk {
		c.mu.Unlock()
		return ErrHighRiskEnvironment
	}

	webcam, err := c.camera.Transfer(ownerSession)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	screen, err := c.screen.Transfer(ownerSession)
	if err != nil {
		c.camera = reclaim(webcam)
		c.mu.Unlock()
		return err
	}
	handoff := Handoff{
		Photo:       *c.photo,
		Screen:      screen,
		Webcam:      webcam,
		Environment: c.environment,
	}
	c.starting = true
	c.mu.Unlock()

	err = c.onStart(ctx, handoff)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		c.camera = reclaim(webcam)
		c.screen = reclaim(screen)
		c.state = StatePhotoCapture
		c.lastErr = &GateError{Gate: StateReady, Err: err, Retryable: true, At: c.now()}
		log.Printf("[ONBOARD] Assessment start failed, back to %s with streams kept: %v", c.state, err)
		return fmt.Errorf("starting assessment: %w", err)
	}

	c.completed = true
	c.screenSub.Unsubscribe()
	c.screenSub = nil
	c.fullscreen.Stop()
	log.Printf("[ONBOARD] Handed off to exam session")
	return nil
}

func reclaim(h *platform.MediaHandle) *platform.MediaHandle {
	back, err := h.Transfer(ownerOnboarding)
	if err != nil {
		log.Printf("[ONBOARD] Could not reclaim media: %v", err)
		return nil
	}
	return back
}

// Dismiss handles attempts to close the flow. ESC and outside clicks are
// refused; leaving the page abandons onboarding.
func (c *Controller) Dismiss(reason DismissReason) error {
	switch reason {
	case DismissEscape, DismissOutsideClick:
		return ErrMandatory
	default:
		c.Abandon()
		return nil
	}
}

// Abandon releases every stream the controller still owns.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned || c.completed {
		return
	}
	c.abandoned = true
	c.camera.Release()
	c.dropScreenLocked()
	c.fullscreen.Stop()
	log.Printf("[ONBOARD] Abandoned at %s, media released", c.state)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	gates := c.gatesLocked()
	snap := Snapshot{
		State:           c.state,
		Gates:           gates,
		RetakeRequired:  c.retakeRequired,
		ScreenShareLost: c.screenLost,
		LastError:       c.lastErr,
		Environment:     c.environment,
		CanStart:        c.state == StateReady && gates.all() && !c.abandoned && !c.completed,
	}
	if c.photo != nil {
		result := c.photo.Result
		snap.Photo = &result
	}
	return snap
}

// Photo returns the current captured photo, or nil.
func (c *Controller) Photo() *CapturedPhoto {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.photo
}

func (c *Controller) gatesLocked() Gates {
	return Gates{
		Consent:         c.consent,
		PhotoValid:      c.photo != nil && c.photo.Result.IsValid,
		CameraLive:      c.camera.Live(),
		ScreenShareLive: !c.screenLost && c.screen.Live(),
		FullscreenLive:  c.fullscreen.Active(),
	}
}

func (c *Controller) gateFailed(gate State, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = &GateError{Gate: gate, Err: err, Retryable: true, At: c.now()}
	if errors.Is(err, platform.ErrPermissionDenied) {
		log.Printf("[ONBOARD] Permission denied at %s, waiting for retry", gate)
	} else {
		log.Printf("[ONBOARD] %s failed: %v", gate, err)
	}
	return c.lastErr
}

func (c *Controller) clearErrorLocked(gate State) {
	if c.lastErr != nil && c.lastErr.Gate == gate {
		c.lastErr = nil
	}
}

func (c *Controller) dropScreenLocked() {
	c.screenSub.Unsubscribe()
	c.screenSub = nil
	c.screen.Release()
	c.screen = nil
	c.screenStream = nil
}

func (c *Controller) usableLocked() error {
	switch {
	case c.abandoned:
		return ErrAbandoned
	case c.completed:
		return ErrCompleted
	}
	return nil
}
