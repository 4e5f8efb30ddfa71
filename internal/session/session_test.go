package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kdimtricp/vproctor/internal/ai"
	"github.com/kdimtricp/vproctor/internal/detectors"
	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/onboarding"
	"github.com/kdimtricp/vproctor/internal/platform"
	"github.com/kdimtricp/vproctor/internal/platform/platformtest"
	"github.com/kdimtricp/vproctor/internal/recorder"
)

type noFaceModel struct{}

func (noFaceModel) Load(ctx context.Context) error { return nil }

func (noFaceModel) Infer(ctx context.Context, frame platform.Frame) ([]ai.FaceDetection, error) {
	return nil, nil
}

type fixture struct {
	window *platformtest.Window
	camera *platformtest.CameraStream
	screen *platformtest.Stream
	rec    *recorder.Recorder
}

func newFixture() *fixture {
	w := platformtest.NewWindow()
	w.SetFullscreen(true)
	return &fixture{
		window: w,
		camera: platformtest.NewCameraStream("cam", platform.Frame{Data: []byte("jpeg"), Width: 640, Height: 480}),
		screen: platformtest.NewStream("screen", platform.VideoTrack),
		rec:    recorder.New(nil, recorder.DefaultConfig("a1", "u1")),
	}
}

func (f *fixture) handoff() onboarding.Handoff {
	return onboarding.Handoff{
		Photo:  onboarding.CapturedPhoto{Result: ai.FaceDetectionResult{Status: ai.StatusSingleFace, IsValid: true}},
		Webcam: platform.NewMediaHandle(f.camera, "session"),
		Screen: platform.NewMediaHandle(f.screen, "session"),
	}
}

func testConfig() Config {
	return Config{
		Detectors: detectors.Config{Clipboard: true},
		Monitor:   ai.MonitorConfig{Interval: time.Hour, MatchEvery: 1, SampleTimeout: time.Second},
	}
}

func TestSessionRecordsDetectorEvents(t *testing.T) {
	f := newFixture()
	s := New(f.window, f.rec, nil, nil, testConfig())
	if err := s.Start(context.Background(), f.handoff()); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.window.SwitchTab()
	f.window.ReturnToTab()
	f.window.Dispatch(platform.EventPaste)

	counts := f.rec.Counts()
	if counts[models.TabSwitch] != 1 || counts[models.PasteAttempt] != 1 || counts[models.FocusLost] != 0 {
		t.Errorf("unexpected counts %v", counts)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	f.window.SwitchTab()
	if f.rec.Counts()[models.TabSwitch] != 1 {
		t.Error("stopped session must not record")
	}
}

func TestRevokedShareIsReflectedOnFullscreenExit(t *testing.T) {
	f := newFixture()
	s := New(f.window, f.rec, nil, nil, testConfig())
	if err := s.Start(context.Background(), f.handoff()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	f.screen.Video().End()
	gates := s.Gates()
	if gates.ScreenShareLive {
		t.Error("expected screen-share gate lost")
	}
	if !gates.FullscreenLive || !gates.WebcamLive {
		t.Errorf("other gates must be unaffected, got %+v", gates)
	}

	f.window.SetFullscreen(false)
	events := f.rec.Events()
	if len(events) != 1 || events[0].EventType != models.FullscreenExit {
		t.Fatalf("expected FULLSCREEN_EXIT, got %+v", events)
	}
	if events[0].Metadata["screenShareActive"] != false {
		t.Errorf("expected exit to carry lost share, got %v", events[0].Metadata)
	}
	if s.Gates().FullscreenLive {
		t.Error("expected fullscreen gate updated after exit")
	}
}

func TestStopReleasesMedia(t *testing.T) {
	f := newFixture()
	s := New(f.window, f.rec, nil, nil, testConfig())
	if err := s.Start(context.Background(), f.handoff()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if !f.camera.AllStopped() || !f.screen.AllStopped() {
		t.Error("expected all tracks stopped")
	}
	if f.window.ListenerCount(platform.EventVisibilityChange) != 0 {
		t.Error("expected detectors unsubscribed")
	}
	if f.screen.Video().EndedListeners() != 0 {
		t.Error("expected screen listener removed")
	}
}

func TestStartRejectsDeadMedia(t *testing.T) {
	f := newFixture()
	h := f.handoff()
	f.screen.Video().End()

	s := New(f.window, f.rec, nil, nil, testConfig())
	if err := s.Start(context.Background(), h); !errors.Is(err, ErrMediaNotLive) {
		t.Fatalf("expected ErrMediaNotLive, got %v", err)
	}
	if f.camera.AllStopped() {
		t.Error("failed start must leave the webcam to its owner")
	}
	if err := s.Start(context.Background(), newFixture().handoff()); err != nil {
		t.Errorf("a failed start should not consume the session: %v", err)
	}
	s.Stop(context.Background())
}

func TestFaceMonitorFeedsRecorder(t *testing.T) {
	f := newFixture()
	engine := ai.NewEngine(noFaceModel{}, ai.NewConfig())
	config := testConfig()
	config.Monitor.Interval = 5 * time.Millisecond

	s := New(f.window, f.rec, engine, nil, config)
	if err := s.Start(context.Background(), f.handoff()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.rec.Counts()[models.NoFace] == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop(context.Background())

	if n := f.rec.Counts()[models.NoFace]; n != 1 {
		t.Errorf("expected a single NO_FACE for a persistent condition, got %d", n)
	}
}

func TestOnboardingHandsOffToSession(t *testing.T) {
	f := newFixture()
	f.window.SetFullscreen(false)
	devices := &platformtest.MediaDevices{Camera: f.camera, Display: f.screen}

	s := New(f.window, f.rec, nil, nil, testConfig())
	faces := staticFaces{ai.FaceDetectionResult{Status: ai.StatusSingleFace, FaceCount: 1, IsValid: true}}
	ctrl := onboarding.NewController(devices, f.window, faces, s.Start, onboarding.Config{FullscreenSettle: time.Millisecond})

	ctx := context.Background()
	steps := []func() error{
		func() error { return ctrl.Open(ctx) },
		func() error { ctrl.SetConsent(true); return nil },
		func() error { _, err := ctrl.CapturePhoto(ctx); return err },
		ctrl.Next,
		func() error { return ctrl.RequestScreenShare(ctx) },
		ctrl.Next,
		func() error { return ctrl.RequestFullscreen(ctx) },
		ctrl.Next,
		func() error { return ctrl.StartAssessment(ctx) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	defer s.Stop(ctx)

	if g := s.Gates(); !g.WebcamLive || !g.ScreenShareLive || !g.FullscreenLive {
		t.Errorf("expected all gates live in the session, got %+v", g)
	}
	if !s.Photo().Result.IsValid {
		t.Error("expected the verified photo to travel with the handoff")
	}
	if user, display := devices.Calls(); user != 1 || display != 1 {
		t.Errorf("expected no re-prompt, got user=%d display=%d", user, display)
	}
}

type staticFaces struct {
	result ai.FaceDetectionResult
}

func (s staticFaces) DetectFaces(ctx context.Context, frame platform.Frame) ai.FaceDetectionResult {
	return s.result
}
