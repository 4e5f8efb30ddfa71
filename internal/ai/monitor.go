package ai

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/platform"
)

type FrameSource interface {
	GrabFrame(ctx context.Context) (platform.Frame, error)
}

type MonitorConfig struct {
	Interval time.Duration
	// MatchEvery runs the identity matcher on every Nth sample that holds a
	// single valid face.
	MatchEvery    int
	SampleTimeout time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:      5 * time.Second,
		MatchEvery:    6,
		SampleTimeout: 10 * time.Second,
	}
}

// Monitor runs the engine against live frames for the length of an exam and
// emits one violation per condition change, not one per sample.
type Monitor struct {
	engine    *Engine
	source    FrameSource
	emit      func(models.EventType, map[string]any)
	config    MonitorConfig
	matcher   IdentityMatcher
	reference *platform.Frame

	mu         sync.Mutex
	condition  models.EventType
	validCount int
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewMonitor(engine *Engine, source FrameSource, emit func(models.EventType, map[string]any), config MonitorConfig) *Monitor {
	def := DefaultMonitorConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.MatchEvery <= 0 {
		config.MatchEvery = def.MatchEvery
	}
	if config.SampleTimeout <= 0 {
		config.SampleTimeout = def.SampleTimeout
	}
	return &Monitor{engine: engine, source: source, emit: emit, config: config}
}

// WithIdentity enables FACE_MISMATCH checks against the verified photo.
func (m *Monitor) WithIdentity(matcher IdentityMatcher, reference platform.Frame) *Monitor {
	if matcher == nil {
		return m
	}
	m.matcher = matcher
	m.reference = &reference
	return m
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				sampleCtx, cancelSample := context.WithTimeout(loopCtx, m.config.SampleTimeout)
				m.Sample(sampleCtx)
				cancelSample()
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sample inspects one frame and returns the current condition; an empty
// condition means the candidate is alone, centered and recognized.
func (m *Monitor) Sample(ctx context.Context) models.EventType {
	frame, err := m.source.GrabFrame(ctx)
	if err != nil {
		log.Printf("[FACE] Frame grab failed: %v", err)
		return m.current()
	}

	result := m.engine.DetectFaces(ctx, frame)
	if result.Reason == ReasonError {
		return m.current()
	}

	metadata := map[string]any{
		"faceCount":  result.FaceCount,
		"confidence": result.Confidence,
		"message":    result.Message,
	}

	var next models.EventType
	switch {
	case result.Status == StatusMultipleFaces:
		next = models.MultiFace
	case result.Status == StatusNoFace && result.FaceCount == 0:
		next = models.NoFace
	case result.Status == StatusNoFace:
		next = models.GazeAway
		metadata["reason"] = string(result.Reason)
	default:
		next = m.checkIdentity(ctx, frame, metadata)
	}

	m.mu.Lock()
	changed := next != m.condition
	m.condition = next
	m.mu.Unlock()

	if changed && next != "" {
		m.emit(next, metadata)
	}
	return next
}

func (m *Monitor) checkIdentity(ctx context.Context, frame platform.Frame, metadata map[string]any) models.EventType {
	if m.matcher == nil {
		return ""
	}

	m.mu.Lock()
	m.validCount++
	due := (m.validCount-1)%m.config.MatchEvery == 0
	previous := m.condition
	m.mu.Unlock()

	if !due {
		if previous == models.FaceMismatch {
			return models.FaceMismatch
		}
		return ""
	}

	match, err := m.matcher.Match(ctx, *m.reference, frame)
	if err != nil {
		log.Printf("[FACE] Identity match failed: %v", err)
		if previous == models.FaceMismatch {
			return models.FaceMismatch
		}
		return ""
	}
	if match.Matched {
		return ""
	}
	metadata["similarity"] = match.Similarity
	return models.FaceMismatch
}

func (m *Monitor) current() models.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.condition
}
