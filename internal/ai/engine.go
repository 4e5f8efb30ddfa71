package ai

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"math"
	"sync"

	"github.com/kdimtricp/vproctor/internal/platform"
)

// Engine decides whether a frame holds exactly one usable face. One Engine
// is shared per process so the model is loaded once.
type Engine struct {
	model  FaceModel
	config *Config

	mu      sync.Mutex
	loaded  bool
	loading *loadAttempt
}

type loadAttempt struct {
	done chan struct{}
	err  error
}

func NewEngine(model FaceModel, config *Config) *Engine {
	if config == nil {
		config = NewConfig()
	}
	return &Engine{model: model, config: config.withDefaults()}
}

// LoadModel is idempotent. Concurrent callers share one in-flight load; a
// failed load is reported to everyone waiting on it and the next call tries
// again.
func (e *Engine) LoadModel(ctx context.Context) error {
	e.mu.Lock()
	if e.loaded {
		e.mu.Unlock()
		return nil
	}
	if attempt := e.loading; attempt != nil {
		e.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &loadAttempt{done: make(chan struct{})}
	e.loading = attempt
	e.mu.Unlock()

	err := e.model.Load(ctx)
	if err != nil {
		err = fmt.Errorf("loading face model: %w", err)
	}

	e.mu.Lock()
	e.loading = nil
	e.loaded = err == nil
	attempt.err = err
	close(attempt.done)
	e.mu.Unlock()

	if err == nil {
		log.Printf("[FACE] Model loaded")
	}
	return err
}

func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// DetectFaces never fails outward: model and decode errors degrade to an
// invalid no_face result carrying an explanatory message.
func (e *Engine) DetectFaces(ctx context.Context, frame platform.Frame) (result FaceDetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[FACE] Inference panic: %v", r)
			result = failedResult(MessageModelFailed)
		}
	}()

	if err := e.LoadModel(ctx); err != nil {
		log.Printf("[FACE] %v", err)
		return failedResult(MessageModelFailed)
	}

	width, height := frame.Width, frame.Height
	if width <= 0 || height <= 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(frame.Data))
		if err != nil {
			log.Printf("[FACE] Could not decode frame: %v", err)
			return failedResult("Could not read the captured image. Please retake the photo.")
		}
		width, height = cfg.Width, cfg.Height
	}

	detections, err := e.model.Infer(ctx, frame)
	if err != nil {
		log.Printf("[FACE] Inference failed: %v", err)
		return failedResult(MessageModelFailed)
	}

	return Classify(detections, width, height, e.config)
}

func failedResult(message string) FaceDetectionResult {
	return FaceDetectionResult{
		Status:  StatusNoFace,
		IsValid: false,
		Message: message,
		Reason:  ReasonError,
	}
}

// Classify applies the decision order: count, then size, then centering.
func Classify(detections []FaceDetection, frameWidth, frameHeight int, config *Config) FaceDetectionResult {
	if config == nil {
		config = NewConfig()
	}
	config = config.withDefaults()

	switch len(detections) {
	case 0:
		return FaceDetectionResult{Status: StatusNoFace, Message: MessageNoFace}
	case 1:
	default:
		return FaceDetectionResult{
			FaceCount:  len(detections),
			Status:     StatusMultipleFaces,
			Confidence: maxConfidence(detections),
			Message:    MessageMultipleFaces,
		}
	}

	face := detections[0]
	box, ok := face.Box()
	if !ok {
		return FaceDetectionResult{FaceCount: 1, Status: StatusNoFace, Confidence: face.Confidence, Message: MessageNoFace}
	}

	result := FaceDetectionResult{
		FaceCount:  1,
		Confidence: face.Confidence,
		Box:        &box,
	}

	if box.Width < config.MinFaceSize || box.Height < config.MinFaceSize {
		result.Status = StatusNoFace
		result.Reason = ReasonTooSmall
		result.Message = MessageTooSmall
		return result
	}

	cx, cy := box.Center()
	marginX := float64(frameWidth) * config.EdgeMargin
	marginY := float64(frameHeight) * config.EdgeMargin
	if cx < marginX || cx > float64(frameWidth)-marginX || cy < marginY || cy > float64(frameHeight)-marginY {
		result.Status = StatusNoFace
		result.Reason = ReasonOffCenter
		result.Message = MessageOffCenter
		return result
	}

	result.Status = StatusSingleFace
	result.IsValid = true
	result.Message = MessageVerified
	return result
}

// Box derives the face box from landmark extents, falling back to the
// model-provided box when no landmarks are present.
func (f FaceDetection) Box() (BoundingBox, bool) {
	if len(f.Landmarks) > 0 {
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, p := range f.Landmarks {
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
		return BoundingBox{
			X:      int(math.Round(minX)),
			Y:      int(math.Round(minY)),
			Width:  int(math.Round(maxX - minX)),
			Height: int(math.Round(maxY - minY)),
		}, true
	}
	if f.BoundingBox != nil {
		return *f.BoundingBox, true
	}
	return BoundingBox{}, false
}

func maxConfidence(detections []FaceDetection) float64 {
	best := 0.0
	for _, d := range detections {
		if d.Confidence > best {
			best = d.Confidence
		}
	}
	return best
}
