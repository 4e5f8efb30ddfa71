package onboarding

import (
	"errors"
	"fmt"
	"time"

	"github.com/kdimtricp/vproctor/internal/ai"
	"github.com/kdimtricp/vproctor/internal/platform"
	"github.com/kdimtricp/vproctor/internal/scanner"
)

type State string

const (
	StatePhotoCapture State = "PHOTO_CAPTURE"
	StateScreenShare  State = "SCREEN_SHARE"
	StateFullscreen   State = "FULLSCREEN"
	StateReady        State = "READY"
)

var order = []State{StatePhotoCapture, StateScreenShare, StateFullscreen, StateReady}

func (s State) index() int {
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return -1
}

var (
	ErrGateNotSatisfied    = errors.New("onboarding gate not satisfied")
	ErrWrongState          = errors.New("operation not available in this onboarding step")
	ErrRetakeRequired      = errors.New("photo must be retaken before capturing again")
	ErrMandatory           = errors.New("onboarding cannot be dismissed")
	ErrAbandoned           = errors.New("onboarding was abandoned")
	ErrCompleted           = errors.New("onboarding already handed off")
	ErrNoCamera            = errors.New("camera is not active")
	ErrFullscreenInactive  = errors.New("fullscreen did not activate")
	ErrHighRiskEnvironment = errors.New("high-risk tooling detected in the browser")
	ErrEnvironmentUnknown  = errors.New("browser environment has not been scanned successfully")
)

// GateError is a failed acquisition. Every GateError offers a retry; none
// advances the flow.
type GateError struct {
	Gate      State
	Err       error
	Retryable bool
	At        time.Time
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Gate, e.Err)
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// CapturedPhoto is the mirrored still taken from the camera preview and the
// engine's verdict on it.
type CapturedPhoto struct {
	Frame      platform.Frame
	Result     ai.FaceDetectionResult
	CapturedAt time.Time
}

// Handoff carries everything the exam session takes ownership of. The
// handles are already transferred to the session owner.
type Handoff struct {
	Photo       CapturedPhoto
	Screen      *platform.MediaHandle
	Webcam      *platform.MediaHandle
	Environment *scanner.ExtensionScanResult
}

// Gates is the live view of each precondition, recomputed on every read.
type Gates struct {
	Consent         bool `json:"consent"`
	PhotoValid      bool `json:"photoValid"`
	CameraLive      bool `json:"cameraLive"`
	ScreenShareLive bool `json:"screenShareLive"`
	FullscreenLive  bool `json:"fullscreenLive"`
}

func (g Gates) photoGate() bool {
	return g.Consent && g.PhotoValid
}

func (g Gates) all() bool {
	return g.photoGate() && g.CameraLive && g.ScreenShareLive && g.FullscreenLive
}

type Snapshot struct {
	State           State                        `json:"state"`
	Gates           Gates                        `json:"gates"`
	Photo           *ai.FaceDetectionResult      `json:"photo,omitempty"`
	RetakeRequired  bool                         `json:"retakeRequired"`
	ScreenShareLost bool                         `json:"screenShareLost"`
	LastError       *GateError                   `json:"-"`
	Environment     *scanner.ExtensionScanResult `json:"environment,omitempty"`
	CanStart        bool                         `json:"canStart"`
}

type DismissReason string

const (
	DismissEscape       DismissReason = "escape"
	DismissOutsideClick DismissReason = "outside_click"
	DismissNavigate     DismissReason = "navigate"
	DismissClose        DismissReason = "close"
)
