package browserhost

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kdimtricp/vproctor/internal/ai"
	"github.com/kdimtricp/vproctor/internal/platform"
)

type fakeGrabber struct {
	mu    sync.Mutex
	err   error
	grabs int
}

func (g *fakeGrabber) GrabFrame(ctx context.Context) (platform.Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grabs++
	if g.err != nil {
		return platform.Frame{}, g.err
	}
	return platform.Frame{Data: []byte{0xff, 0xd8}, Width: 640, Height: 480}, nil
}

func (g *fakeGrabber) fail(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func newTestDevices(g *fakeGrabber, config MediaConfig) *MediaDevices {
	m := NewMediaDevices(config)
	m.newGrabber = func(ai.GrabberConfig) (frameGrabber, error) { return g, nil }
	return m
}

func TestGetUserMedia(t *testing.T) {
	g := &fakeGrabber{}
	m := newTestDevices(g, DefaultMediaConfig())

	stream, err := m.GetUserMedia(context.Background(), platform.MediaConstraints{Video: true, Audio: true})
	if err != nil {
		t.Fatalf("GetUserMedia: %v", err)
	}
	if len(stream.Tracks()) != 2 || !platform.StreamLive(stream) {
		t.Fatalf("Expected live video and audio tracks")
	}

	frame, err := stream.GrabFrame(context.Background())
	if err != nil || frame.Width != 640 {
		t.Errorf("GrabFrame: %+v %v", frame, err)
	}

	ended := false
	platform.FirstVideoTrack(stream).OnEnded(func() { ended = true })
	platform.StopTracks(stream)
	if ended {
		t.Errorf("Stop must not fire ended listeners")
	}
	if _, err := stream.GrabFrame(context.Background()); !errors.Is(err, platform.ErrStreamEnded) {
		t.Errorf("Expected ErrStreamEnded after stop, got %v", err)
	}
}

func TestGetUserMediaErrors(t *testing.T) {
	tests := []struct {
		name   string
		config MediaConfig
		c      platform.MediaConstraints
		grab   error
		want   error
	}{
		{"no device", MediaConfig{}, platform.MediaConstraints{Video: true}, nil, platform.ErrNoDevice},
		{"device fails", DefaultMediaConfig(), platform.MediaConstraints{Video: true}, errors.New("busy"), platform.ErrNoDevice},
		{"audio only", DefaultMediaConfig(), platform.MediaConstraints{Audio: true}, nil, platform.ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestDevices(&fakeGrabber{err: tt.grab}, tt.config)
			if _, err := m.GetUserMedia(context.Background(), tt.c); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGetDisplayMediaRejectsWindowSurface(t *testing.T) {
	m := newTestDevices(&fakeGrabber{}, DefaultMediaConfig())
	_, err := m.GetDisplayMedia(context.Background(), platform.DisplayConstraints{Surface: "window"})
	if !errors.Is(err, platform.ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported, got %v", err)
	}
}

func TestLostScreenEndsShare(t *testing.T) {
	g := &fakeGrabber{}
	config := DefaultMediaConfig()
	config.ScreenProbeInterval = 10 * time.Millisecond
	m := newTestDevices(g, config)

	stream, err := m.GetDisplayMedia(context.Background(), platform.DisplayConstraints{Surface: platform.SurfaceMonitor})
	if err != nil {
		t.Fatalf("GetDisplayMedia: %v", err)
	}

	ended := make(chan struct{})
	platform.FirstVideoTrack(stream).OnEnded(func() { close(ended) })
	g.fail(errors.New("display closed"))

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("Expected the share to end after a failed capture")
	}
	if platform.StreamLive(stream) {
		t.Errorf("Expected stream not live")
	}
}
