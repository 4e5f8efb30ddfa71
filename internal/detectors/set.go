package detectors

import (
	"log"
	"sync"
	"time"

	"github.com/kdimtricp/vproctor/internal/platform"
)

type Config struct {
	DevTools          bool
	DevToolsInterval  time.Duration
	DevToolsThreshold int
	Clipboard         bool
	// BlurSettle delays FOCUS_LOST so a tab switch is reported only once.
	BlurSettle time.Duration
}

func DefaultConfig() Config {
	return Config{
		DevTools:          true,
		DevToolsInterval:  time.Second,
		DevToolsThreshold: 160,
		Clipboard:         true,
		BlurSettle:        DefaultBlurSettle,
	}
}

// Set owns the detectors of one exam session. They start and stop together,
// and each holds at most one listener per event it watches.
type Set struct {
	window     platform.Window
	detectors  []Detector
	fullscreen *Fullscreen

	mu      sync.Mutex
	running bool
}

func NewSet(window platform.Window, emit Emit, config Config) *Set {
	def := DefaultConfig()
	if config.DevToolsInterval <= 0 {
		config.DevToolsInterval = def.DevToolsInterval
	}
	if config.DevToolsThreshold <= 0 {
		config.DevToolsThreshold = def.DevToolsThreshold
	}

	visibility := NewVisibility(emit)
	fullscreen := NewFullscreen(emit)
	detectors := []Detector{
		visibility,
		NewFocus(emit, visibility, config.BlurSettle),
		fullscreen,
	}
	if config.DevTools {
		detectors = append(detectors, NewDevTools(emit, config.DevToolsInterval, config.DevToolsThreshold))
	}
	if config.Clipboard {
		detectors = append(detectors, NewClipboard(emit))
	}

	return &Set{window: window, detectors: detectors, fullscreen: fullscreen}
}

// Fullscreen exposes the fullscreen detector so callers can observe the
// same state the violations are derived from.
func (s *Set) Fullscreen() *Fullscreen {
	return s.fullscreen
}

func (s *Set) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	for _, d := range s.detectors {
		startDetector(d, s.window)
	}
	log.Printf("[DETECT] Started %d detector(s)", len(s.detectors))
}

func startDetector(d Detector, w platform.Window) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DETECT] %s failed to start: %v", d.Name(), r)
		}
	}()
	d.Start(w)
}

func (s *Set) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	for _, d := range s.detectors {
		d.Stop()
	}
	log.Printf("[DETECT] Stopped detectors")
}

func (s *Set) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
