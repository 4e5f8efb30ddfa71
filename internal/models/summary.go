package models

import "time"

// Violation is a ViolationEvent as stored by the collector.
type Violation struct {
	ID           string         `json:"_id"`
	EventID      string         `json:"eventId,omitempty"`
	UserID       string         `json:"userId"`
	AssessmentID string         `json:"assessmentId"`
	EventType    EventType      `json:"eventType"`
	Timestamp    string         `json:"timestamp"`
	Metadata     map[string]any `json:"metadata"`
	SnapshotID   string         `json:"snapshotId,omitempty"`
	ReceivedAt   time.Time      `json:"receivedAt"`
}

type Summary struct {
	Summary         map[string]int    `json:"summary"`
	TotalViolations int               `json:"totalViolations"`
	Violations      []Violation       `json:"violations"`
	EventTypeLabels map[string]string `json:"eventTypeLabels"`
}

type Logs struct {
	Logs            []Violation       `json:"logs"`
	TotalCount      int               `json:"totalCount"`
	EventTypeLabels map[string]string `json:"eventTypeLabels"`
}

type UserViolations struct {
	Violations      []Violation    `json:"violations"`
	Summary         map[string]int `json:"summary"`
	TotalViolations int            `json:"totalViolations"`
}

type AssessmentViolations struct {
	Users           map[string]*UserViolations `json:"users"`
	EventTypeLabels map[string]string          `json:"eventTypeLabels"`
}

// NewSummary aggregates violations, which must already be in ascending
// timestamp order.
func NewSummary(violations []Violation) *Summary {
	counts := make(map[string]int)
	for _, v := range violations {
		counts[string(v.EventType)]++
	}
	if violations == nil {
		violations = []Violation{}
	}
	return &Summary{
		Summary:         counts,
		TotalViolations: len(violations),
		Violations:      violations,
		EventTypeLabels: EventTypeLabels(),
	}
}

func GroupByUser(violations []Violation) *AssessmentViolations {
	users := make(map[string]*UserViolations)
	for _, v := range violations {
		u, ok := users[v.UserID]
		if !ok {
			u = &UserViolations{Summary: make(map[string]int)}
			users[v.UserID] = u
		}
		u.Violations = append(u.Violations, v)
		u.Summary[string(v.EventType)]++
		u.TotalViolations++
	}
	return &AssessmentViolations{
		Users:           users,
		EventTypeLabels: EventTypeLabels(),
	}
}
