// Package session runs integrity monitoring for the length of one exam. It
// takes over the media granted during onboarding instead of prompting again.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/kdimtricp/vproctor/internal/ai"
	"github.com/kdimtricp/vproctor/internal/detectors"
	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/onboarding"
	"github.com/kdimtricp/vproctor/internal/platform"
	"github.com/kdimtricp/vproctor/internal/recorder"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrMediaNotLive   = errors.New("handed-off media is not live")
)

type Config struct {
	Detectors detectors.Config
	Monitor   ai.MonitorConfig
}

func DefaultConfig() Config {
	return Config{
		Detectors: detectors.DefaultConfig(),
		Monitor:   ai.DefaultMonitorConfig(),
	}
}

type Gates struct {
	WebcamLive      bool `json:"webcamLive"`
	ScreenShareLive bool `json:"screenShareLive"`
	FullscreenLive  bool `json:"fullscreenLive"`
}

type Session struct {
	window   platform.Window
	recorder *recorder.Recorder
	engine   *ai.Engine
	matcher  ai.IdentityMatcher
	config   Config

	mu         sync.Mutex
	started    bool
	stopped    bool
	cancel     context.CancelFunc
	detectors  *detectors.Set
	monitor    *ai.Monitor
	webcam     *platform.MediaHandle
	screen     *platform.MediaHandle
	screenSub  *platform.Subscription
	screenLost bool
	photo      onboarding.CapturedPhoto
}

// New prepares a session. engine may be nil to run without face monitoring;
// matcher may be nil to skip identity checks.
func New(window platform.Window, rec *recorder.Recorder, engine *ai.Engine, matcher ai.IdentityMatcher, config Config) *Session {
	return &Session{
		window:   window,
		recorder: rec,
		engine:   engine,
		matcher:  matcher,
		config:   config,
	}
}

// Start takes ownership of the handoff and begins monitoring. It has the
// shape of onboarding.StartFunc. On error the handles are left untouched so
// onboarding can reclaim them.
func (s *Session) Start(ctx context.Context, handoff onboarding.Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if !handoff.Webcam.Live() || !handoff.Screen.Live() {
		return ErrMediaNotLive
	}
	camera, ok := handoff.Webcam.Stream().(platform.CameraStream)
	if s.engine != nil && !ok {
		return fmt.Errorf("webcam stream cannot produce frames")
	}

	s.started = true
	s.webcam = handoff.Webcam
	s.screen = handoff.Screen
	s.photo = handoff.Photo

	screen := handoff.Screen.Stream()
	if track := platform.FirstVideoTrack(screen); track != nil {
		s.screenSub = track.OnEnded(func() {
			s.mu.Lock()
			s.screenLost = true
			s.mu.Unlock()
			log.Printf("[SESSION] Screen share %s ended during the exam", screen.ID())
		})
	}

	if env := handoff.Environment; env != nil && len(env.Extensions) > 0 {
		log.Printf("[SESSION] Starting with %d flagged extension(s), high risk=%v", len(env.Extensions), env.HasHighRisk)
	}

	s.detectors = detectors.NewSet(s.window, s.emit, s.config.Detectors)
	s.detectors.Start()

	monitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	if s.engine != nil {
		s.monitor = ai.NewMonitor(s.engine, camera, s.recorder.Emit, s.config.Monitor)
		if s.matcher != nil {
			s.monitor.WithIdentity(s.matcher, handoff.Photo.Frame)
		}
		s.monitor.Start(monitorCtx)
	}

	log.Printf("[SESSION] Exam monitoring started")
	return nil
}

// emit records detector events. Fullscreen transitions carry the
// screen-share gate so a revoked share shows up on the next check.
func (s *Session) emit(eventType models.EventType, metadata map[string]any) {
	if eventType == models.FullscreenExit || eventType == models.FullscreenEnabled {
		annotated := make(map[string]any, len(metadata)+1)
		for k, v := range metadata {
			annotated[k] = v
		}
		annotated["screenShareActive"] = s.screenShareLive()
		metadata = annotated
	}
	s.recorder.Emit(eventType, metadata)
}

func (s *Session) screenShareLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.screenLost && s.screen.Live()
}

func (s *Session) Gates() Gates {
	s.mu.Lock()
	g := Gates{
		WebcamLive:      s.webcam.Live(),
		ScreenShareLive: !s.screenLost && s.screen.Live(),
	}
	set := s.detectors
	s.mu.Unlock()

	if set != nil {
		g.FullscreenLive = set.Fullscreen().Active()
	}
	return g
}

// Photo is the verified onboarding photo the session was started with.
func (s *Session) Photo() onboarding.CapturedPhoto {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.photo
}

// Running reports whether the session has started and not yet stopped.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

func (s *Session) Recorder() *recorder.Recorder {
	return s.recorder
}

// Stop ends monitoring, flushes pending deliveries within ctx and releases
// the camera and screen.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	set, monitor, cancel, sub := s.detectors, s.monitor, s.cancel, s.screenSub
	s.mu.Unlock()

	set.Stop()
	if monitor != nil {
		monitor.Stop()
	}
	cancel()
	sub.Unsubscribe()

	err := s.recorder.Close(ctx)

	s.mu.Lock()
	s.webcam.Release()
	s.screen.Release()
	s.mu.Unlock()

	log.Printf("[SESSION] Exam monitoring stopped, %d violation(s) recorded", len(s.recorder.Events()))
	return err
}
