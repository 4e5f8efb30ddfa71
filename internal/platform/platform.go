// Package platform describes the browser capabilities the proctoring layer
// consumes. Implementations live in browserhost (a kiosk Chrome driven over
// the DevTools protocol) and platformtest (in-memory fakes).
package platform

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotSupported     = errors.New("not supported")
	ErrNoDevice         = errors.New("no capture device")
	ErrStreamEnded      = errors.New("stream ended")
)

// Frame is one encoded still image and its pixel dimensions.
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

type TrackKind string

const (
	VideoTrack TrackKind = "video"
	AudioTrack TrackKind = "audio"
)

type Track interface {
	ID() string
	Kind() TrackKind
	Live() bool
	Stop()
	// OnEnded fires once when the track ends for any reason, including the
	// user revoking a screen share from the browser chrome.
	OnEnded(fn func()) *Subscription
}

type Stream interface {
	ID() string
	Tracks() []Track
}

// CameraStream is a stream that can produce a still of its current frame.
type CameraStream interface {
	Stream
	GrabFrame(ctx context.Context) (Frame, error)
}

type MediaConstraints struct {
	Video bool
	Audio bool
}

type DisplaySurface string

const SurfaceMonitor DisplaySurface = "monitor"

type DisplayConstraints struct {
	Surface DisplaySurface
	Audio   bool
}

type MediaDevices interface {
	GetUserMedia(ctx context.Context, c MediaConstraints) (CameraStream, error)
	GetDisplayMedia(ctx context.Context, c DisplayConstraints) (Stream, error)
}

type Fullscreen interface {
	RequestFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
	IsFullscreen() bool
}

type EventKind string

const (
	EventVisibilityChange EventKind = "visibilitychange"
	EventBlur             EventKind = "blur"
	EventFocus            EventKind = "focus"
	EventFullscreenChange EventKind = "fullscreenchange"
	EventCopy             EventKind = "copy"
	EventPaste            EventKind = "paste"
	EventContextMenu      EventKind = "contextmenu"
)

// Viewport carries the outer (window chrome included) and inner (content)
// dimensions of the candidate's browser window.
type Viewport struct {
	OuterWidth  int
	OuterHeight int
	InnerWidth  int
	InnerHeight int
}

type Window interface {
	Fullscreen
	Hidden() bool
	Viewport() Viewport
	On(kind EventKind, handler func(*DOMEvent)) *Subscription
}

type DOMEvent struct {
	Kind      EventKind
	prevent   func()
	prevented bool
}

func NewDOMEvent(kind EventKind, prevent func()) *DOMEvent {
	return &DOMEvent{Kind: kind, prevent: prevent}
}

func (e *DOMEvent) PreventDefault() {
	if e.prevented {
		return
	}
	e.prevented = true
	if e.prevent != nil {
		e.prevent()
	}
}

func (e *DOMEvent) DefaultPrevented() bool {
	return e.prevented
}

// Subscription is an explicit listener handle. Unsubscribe is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// BaitSpec is a decoy element styled like advertisement markup.
type BaitSpec struct {
	ID        string
	ClassName string
	Attrs     map[string]string
}

type BaitState struct {
	ID        string
	Hidden    bool
	Width     float64
	Height    float64
	HasParent bool
}

type BaitSet interface {
	Inspect(ctx context.Context) ([]BaitState, error)
	Remove(ctx context.Context) error
}

// Page is the document the environment scanner fingerprints.
type Page interface {
	HasGlobal(ctx context.Context, name string) (bool, error)
	Webdriver(ctx context.Context) (bool, error)
	MatchesSelector(ctx context.Context, selector string) (bool, error)
	InsertBait(ctx context.Context, baits []BaitSpec) (BaitSet, error)
}

func StopTracks(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// FirstVideoTrack returns nil when the stream carries no video.
func FirstVideoTrack(s Stream) Track {
	if s == nil {
		return nil
	}
	for _, t := range s.Tracks() {
		if t.Kind() == VideoTrack {
			return t
		}
	}
	return nil
}

// StreamLive reports whether the stream has at least one live video track.
func StreamLive(s Stream) bool {
	t := FirstVideoTrack(s)
	return t != nil && t.Live()
}
