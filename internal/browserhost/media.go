package browserhost

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kdimtricp/vproctor/internal/ai"
	"github.com/kdimtricp/vproctor/internal/platform"
)

type MediaConfig struct {
	Camera ai.GrabberConfig
	Screen ai.GrabberConfig
	// ScreenProbeInterval is how often a shared screen is checked; a failed
	// capture ends the share the way a revoked browser share would.
	ScreenProbeInterval time.Duration
	ProbeTimeout        time.Duration
}

func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		Camera:              ai.GrabberConfig{InputFormat: "v4l2", Device: "/dev/video0", Size: 640},
		Screen:              ai.GrabberConfig{InputFormat: "x11grab", Device: ":0.0", Size: 1280},
		ScreenProbeInterval: 10 * time.Second,
		ProbeTimeout:        5 * time.Second,
	}
}

type frameGrabber interface {
	GrabFrame(ctx context.Context) (platform.Frame, error)
}

// MediaDevices captures the camera and the screen through ffmpeg.
type MediaDevices struct {
	config     MediaConfig
	newGrabber func(ai.GrabberConfig) (frameGrabber, error)
	nextID     atomic.Uint64
}

var _ platform.MediaDevices = (*MediaDevices)(nil)

func NewMediaDevices(config MediaConfig) *MediaDevices {
	if config.ScreenProbeInterval <= 0 {
		config.ScreenProbeInterval = 10 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	return &MediaDevices{
		config: config,
		newGrabber: func(c ai.GrabberConfig) (frameGrabber, error) {
			g, err := ai.NewFrameGrabber(c)
			if err != nil {
				return nil, err
			}
			return g, nil
		},
	}
}

func (m *MediaDevices) GetUserMedia(ctx context.Context, c platform.MediaConstraints) (platform.CameraStream, error) {
	if !c.Video {
		return nil, fmt.Errorf("%w: audio-only capture", platform.ErrNotSupported)
	}
	stream, err := m.open(ctx, "camera", m.config.Camera, c.Audio)
	if err != nil {
		return nil, err
	}
	log.Printf("[MEDIA] Camera %s acquired", m.config.Camera.Device)
	return stream, nil
}

func (m *MediaDevices) GetDisplayMedia(ctx context.Context, c platform.DisplayConstraints) (platform.Stream, error) {
	if c.Surface != "" && c.Surface != platform.SurfaceMonitor {
		return nil, fmt.Errorf("%w: display surface %s", platform.ErrNotSupported, c.Surface)
	}
	stream, err := m.open(ctx, "screen", m.config.Screen, c.Audio)
	if err != nil {
		return nil, err
	}
	go m.watchScreen(stream)
	log.Printf("[MEDIA] Screen %s shared", m.config.Screen.Device)
	return stream, nil
}

func (m *MediaDevices) open(ctx context.Context, label string, config ai.GrabberConfig, audio bool) (*captureStream, error) {
	if config.Device == "" {
		return nil, fmt.Errorf("%w: no %s device configured", platform.ErrNoDevice, label)
	}
	grabber, err := m.newGrabber(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrNotSupported, err)
	}

	// One capture up front so a missing or busy device fails acquisition.
	if _, err := grabber.GrabFrame(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", platform.ErrNoDevice, label, config.Device, err)
	}

	id := fmt.Sprintf("%s-%d", label, m.nextID.Add(1))
	stream := &captureStream{id: id, grabber: grabber}
	stream.tracks = append(stream.tracks, newCaptureTrack(id+"-video", platform.VideoTrack))
	if audio {
		stream.tracks = append(stream.tracks, newCaptureTrack(id+"-audio", platform.AudioTrack))
	}
	return stream, nil
}

func (m *MediaDevices) watchScreen(stream *captureStream) {
	ticker := time.NewTicker(m.config.ScreenProbeInterval)
	defer ticker.Stop()

	video := stream.tracks[0]
	for range ticker.C {
		if !video.Live() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.config.ProbeTimeout)
		_, err := stream.grabber.GrabFrame(ctx)
		cancel()
		if err != nil {
			log.Printf("[MEDIA] Screen capture %s lost: %v", stream.id, err)
			stream.end()
			return
		}
	}
}

type captureStream struct {
	id      string
	grabber frameGrabber
	tracks  []*captureTrack
}

func (s *captureStream) ID() string { return s.id }

func (s *captureStream) Tracks() []platform.Track {
	out := make([]platform.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *captureStream) GrabFrame(ctx context.Context) (platform.Frame, error) {
	if !s.tracks[0].Live() {
		return platform.Frame{}, platform.ErrStreamEnded
	}
	frame, err := s.grabber.GrabFrame(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return platform.Frame{}, err
		}
		return platform.Frame{}, fmt.Errorf("grabbing %s: %w", s.id, err)
	}
	return frame, nil
}

// end is the capture side going away; listeners are told.
func (s *captureStream) end() {
	for _, t := range s.tracks {
		t.end()
	}
}

type captureTrack struct {
	id   string
	kind platform.TrackKind

	mu      sync.Mutex
	live    bool
	nextID  int
	onEnded map[int]func()
}

func newCaptureTrack(id string, kind platform.TrackKind) *captureTrack {
	return &captureTrack{id: id, kind: kind, live: true, onEnded: make(map[int]func())}
}

func (t *captureTrack) ID() string               { return t.id }
func (t *captureTrack) Kind() platform.TrackKind { return t.kind }

func (t *captureTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Stop does not notify OnEnded listeners, like MediaStreamTrack.stop.
func (t *captureTrack) Stop() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
}

func (t *captureTrack) end() {
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

func (t *captureTrack) OnEnded(fn func()) *platform.Subscription {
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
