package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	TabSwitch         EventType = "TAB_SWITCH"
	FocusLost         EventType = "FOCUS_LOST"
	FullscreenExit    EventType = "FULLSCREEN_EXIT"
	FullscreenEnabled EventType = "FULLSCREEN_ENABLED"
	FullscreenRefused EventType = "FULLSCREEN_REFUSED"
	CopyRestrict      EventType = "COPY_RESTRICT"
	PasteAttempt      EventType = "PASTE_ATTEMPT"
	RightClick        EventType = "RIGHT_CLICK"
	DevToolsOpen      EventType = "DEVTOOLS_OPEN"
	ScreenshotAttempt EventType = "SCREENSHOT_ATTEMPT"
	Idle              EventType = "IDLE"
	GazeAway          EventType = "GAZE_AWAY"
	MultiFace         EventType = "MULTI_FACE"
	SpoofDetected     EventType = "SPOOF_DETECTED"
	NoFace            EventType = "NO_FACE"
	FaceMismatch      EventType = "FACE_MISMATCH"
)

var eventTypeLabels = map[EventType]string{
	TabSwitch:         "Tab switch detected",
	FullscreenExit:    "Fullscreen was exited",
	FullscreenEnabled: "Fullscreen was enabled",
	FullscreenRefused: "Fullscreen was declined",
	CopyRestrict:      "Copy restriction violated",
	FocusLost:         "Window focus was lost",
	DevToolsOpen:      "Developer tools opened",
	ScreenshotAttempt: "Screenshot attempt detected",
	PasteAttempt:      "Paste attempt blocked",
	RightClick:        "Right click blocked",
	Idle:              "Idle timeout detected",
	GazeAway:          "Gaze away detected",
	MultiFace:         "Multiple faces detected",
	SpoofDetected:     "Spoof attempt detected",
	NoFace:            "No face detected",
	FaceMismatch:      "Face does not match the verified photo",
}

func (t EventType) Valid() bool {
	_, ok := eventTypeLabels[t]
	return ok
}

func (t EventType) Label() string {
	if label, ok := eventTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

// EventTypeLabels returns a copy of the label table keyed by the wire tag.
func EventTypeLabels() map[string]string {
	labels := make(map[string]string, len(eventTypeLabels))
	for t, label := range eventTypeLabels {
		labels[string(t)] = label
	}
	return labels
}

// ViolationEvent is what a detector produces. It is never mutated after
// NewViolationEvent returns; WithSnapshot and WithMetadata return copies.
type ViolationEvent struct {
	ID             string         `json:"id"`
	EventType      EventType      `json:"eventType"`
	Timestamp      string         `json:"timestamp"`
	AssessmentID   string         `json:"assessmentId"`
	UserID         string         `json:"userId"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SnapshotBase64 string         `json:"snapshotBase64,omitempty"`
}

func NewViolationEvent(eventType EventType, assessmentID, userID string, at time.Time, metadata map[string]any) ViolationEvent {
	return ViolationEvent{
		ID:           uuid.New().String(),
		EventType:    eventType,
		Timestamp:    at.UTC().Format(time.RFC3339Nano),
		AssessmentID: assessmentID,
		UserID:       userID,
		Metadata:     copyMetadata(metadata),
	}
}

func (e ViolationEvent) WithSnapshot(snapshotBase64 string) ViolationEvent {
	e.Metadata = copyMetadata(e.Metadata)
	e.SnapshotBase64 = snapshotBase64
	return e
}

func (e ViolationEvent) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// MaxEventIDLength matches the event_id column width.
const MaxEventIDLength = 64

// Validate applies the limits the collector enforces on ingest.
func (e ViolationEvent) Validate() error {
	userID := strings.TrimSpace(e.UserID)
	assessmentID := strings.TrimSpace(e.AssessmentID)

	switch {
	case userID == "":
		return fmt.Errorf("userId is required")
	case len(userID) > 255:
		return fmt.Errorf("userId exceeds 255 characters")
	case assessmentID == "":
		return fmt.Errorf("assessmentId is required")
	case len(assessmentID) > 100:
		return fmt.Errorf("assessmentId exceeds 100 characters")
	case e.EventType == "":
		return fmt.Errorf("eventType is required")
	case len(e.EventType) > 50:
		return fmt.Errorf("eventType exceeds 50 characters")
	case !e.EventType.Valid():
		return fmt.Errorf("unknown eventType %q", e.EventType)
	case len(e.ID) > MaxEventIDLength:
		return fmt.Errorf("id exceeds %d characters", MaxEventIDLength)
	}

	if _, err := e.Time(); err != nil {
		return fmt.Errorf("timestamp must be ISO-8601: %w", err)
	}
	return nil
}

func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
