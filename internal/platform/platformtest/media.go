// Package platformtest provides in-memory implementations of the platform
// capabilities for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kdimtricp/vproctor/internal/platform"
)

type Track struct {
	mu      sync.Mutex
	id      string
	kind    platform.TrackKind
	live    bool
	nextID  int
	onEnded map[int]func()
}

func NewTrack(id string, kind platform.TrackKind) *Track {
	return &Track{id: id, kind: kind, live: true, onEnded: make(map[int]func())}
}

func (t *Track) ID() string               { return t.id }
func (t *Track) Kind() platform.TrackKind { return t.kind }

func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Stop ends the track without firing ended callbacks, matching the browser:
// track.stop() from script does not dispatch "ended".
func (t *Track) Stop() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
}

// End simulates the user agent ending the track, e.g. a revoked share.
func (t *Track) End() {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	t.live = false
	callbacks := make([]func(), 0, len(t.onEnded))
	for _, fn := range t.onEnded {
		callbacks = append(callbacks, fn)
	}
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

func (t *Track) OnEnded(fn func()) *platform.Subscription {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.onEnded[id] = fn
	t.mu.Unlock()

	return platform.NewSubscription(func() {
		t.mu.Lock()
		delete(t.onEnded, id)
		t.mu.Unlock()
	})
}

func (t *Track) EndedListeners() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.onEnded)
}

type Stream struct {
	id     string
	tracks []*Track
}

func NewStream(id string, kinds ...platform.TrackKind) *Stream {
	s := &Stream{id: id}
	for i, k := range kinds {
		s.tracks = append(s.tracks, NewTrack(fmt.Sprintf("%s-%s-%d", id, k, i), k))
	}
	return s
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []platform.Track {
	out := make([]platform.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *Stream) Video() *Track {
	for _, t := range s.tracks {
		if t.kind == platform.VideoTrack {
			return t
		}
	}
	return nil
}

func (s *Stream) AllStopped() bool {
	for _, t := range s.tracks {
		if t.Live() {
			return false
		}
	}
	return true
}

// CameraStream returns whatever frame was last set with SetFrame.
type CameraStream struct {
	*Stream
	mu       sync.Mutex
	frame    platform.Frame
	frameErr error
	grabs    int
}

func NewCameraStream(id string, frame platform.Frame) *CameraStream {
	return &CameraStream{
		Stream: NewStream(id, platform.VideoTrack, platform.AudioTrack),
		frame:  frame,
	}
}

func (c *CameraStream) SetFrame(f platform.Frame) {
	c.mu.Lock()
	c.frame = f
	c.mu.Unlock()
}

func (c *CameraStream) SetFrameError(err error) {
	c.mu.Lock()
	c.frameErr = err
	c.mu.Unlock()
}

func (c *CameraStream) Grabs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grabs
}

func (c *CameraStream) GrabFrame(ctx context.Context) (platform.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grabs++
	if c.frameErr != nil {
		return platform.Frame{}, c.frameErr
	}
	if !platform.StreamLive(c.Stream) {
		return platform.Frame{}, platform.ErrStreamEnded
	}
	return c.frame, nil
}

// MediaDevices hands out Camera and Display, or the configured errors.
type MediaDevices struct {
	mu           sync.Mutex
	Camera       *CameraStream
	Display      *Stream
	CameraErr    error
	DisplayErr   error
	UserCalls    int
	DisplayCalls int
	LastDisplay  platform.DisplayConstraints
}

func (m *MediaDevices) GetUserMedia(ctx context.Context, c platform.MediaConstraints) (platform.CameraStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UserCalls++
	if m.CameraErr != nil {
		return nil, m.CameraErr
	}
	if m.Camera == nil {
		return nil, platform.ErrNoDevice
	}
	return m.Camera, nil
}

func (m *MediaDevices) GetDisplayMedia(ctx context.Context, c platform.DisplayConstraints) (platform.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisplayCalls++
	m.LastDisplay = c
	if m.DisplayErr != nil {
		return nil, m.DisplayErr
	}
	if m.Display == nil {
		return nil, platform.ErrNoDevice
	}
	return m.Display, nil
}

func (m *MediaDevices) SetCameraErr(err error) {
	m.mu.Lock()
	m.CameraErr = err
	m.mu.Unlock()
}

func (m *MediaDevices) SetDisplayErr(err error) {
	m.mu.Lock()
	m.DisplayErr = err
	m.mu.Unlock()
}

func (m *MediaDevices) Calls() (user, display int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.UserCalls, m.DisplayCalls
}
