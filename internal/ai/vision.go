package ai

import (
	"context"
	"time"

	"github.com/kdimtricp/vproctor/internal/platform"
)

// FaceModel is the on-device (or remote) inference capability the engine
// runs on. Load may be slow; Infer is called once per frame.
type FaceModel interface {
	Load(ctx context.Context) error
	Infer(ctx context.Context, frame platform.Frame) ([]FaceDetection, error)
}

// IdentityMatcher compares a live frame against the verified onboarding
// photo.
type IdentityMatcher interface {
	Match(ctx context.Context, reference, candidate platform.Frame) (*MatchResult, error)
}

type FaceDetection struct {
	Landmarks   []Point      `json:"landmarks,omitempty"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
	Confidence  float64      `json:"confidence"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2, float64(b.Y) + float64(b.Height)/2
}

type FaceStatus string

const (
	StatusNoFace        FaceStatus = "no_face"
	StatusSingleFace    FaceStatus = "single_face"
	StatusMultipleFaces FaceStatus = "multiple_faces"
)

// FaceReason narrows a no_face verdict for a frame that did contain one face.
type FaceReason string

const (
	ReasonNone      FaceReason = ""
	ReasonTooSmall  FaceReason = "too_small"
	ReasonOffCenter FaceReason = "off_center"
	ReasonError     FaceReason = "error"
)

type FaceDetectionResult struct {
	FaceCount  int          `json:"faceCount"`
	Status     FaceStatus   `json:"status"`
	Confidence float64      `json:"confidence"`
	Box        *BoundingBox `json:"boundingBox,omitempty"`
	IsValid    bool         `json:"isValid"`
	Message    string       `json:"message"`
	Reason     FaceReason   `json:"reason,omitempty"`
}

type MatchResult struct {
	Similarity float64   `json:"similarity"`
	Matched    bool      `json:"matched"`
	CheckedAt  time.Time `json:"checked_at"`
}

const (
	MessageNoFace        = "No face detected. Make sure your face is clearly visible."
	MessageMultipleFaces = "Multiple faces detected. Only you should be in the frame."
	MessageTooSmall      = "Face is too small. Please move closer to the camera."
	MessageOffCenter     = "Please center your face in the frame."
	MessageVerified      = "Face verified."
	MessageModelFailed   = "Face detection is unavailable. Please try again."
)
