package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kdimtricp/vproctor/internal/models"
)

var ErrNotFound = errors.New("violation not found")

type ViolationRepository struct {
	db *DB
}

func NewViolationRepository(db *DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

const violationColumns = `id, event_id, user_id, assessment_id, event_type,
	event_timestamp, metadata, snapshot_id, received_at`

// Insert stores v once per user and event id. When that pair is already
// stored it reports created=false and fills v with the stored row.
func (r *ViolationRepository) Insert(ctx context.Context, v *models.Violation) (bool, error) {
	eventAt, err := time.Parse(time.RFC3339Nano, v.Timestamp)
	if err != nil {
		return false, fmt.Errorf("invalid violation timestamp %q: %w", v.Timestamp, err)
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.EventID == "" {
		v.EventID = v.ID
	}
	if v.ReceivedAt.IsZero() {
		v.ReceivedAt = time.Now().UTC()
	}

	var metadata sql.NullString
	if v.Metadata != nil {
		raw, err := json.Marshal(v.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO violations (
			id, event_id, user_id, assessment_id, event_type,
			event_timestamp, event_at, metadata, snapshot_id, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, event_id) DO NOTHING`

	result, err := r.db.conn.ExecContext(ctx, query,
		v.ID,
		v.EventID,
		v.UserID,
		v.AssessmentID,
		string(v.EventType),
		v.Timestamp,
		eventAt.UnixNano(),
		metadata,
		sql.NullString{String: v.SnapshotID, Valid: v.SnapshotID != ""},
		v.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert violation: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check insert: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	existing, err := r.GetByEventID(ctx, v.UserID, v.EventID)
	if err != nil {
		return false, err
	}
	*v = *existing
	return false, nil
}

// GetByEventID looks up an event id within one user's violations. Event ids
// are client generated, so they are only unique per user.
func (r *ViolationRepository) GetByEventID(ctx context.Context, userID, eventID string) (*models.Violation, error) {
	query := `SELECT ` + violationColumns + ` FROM violations WHERE user_id = $1 AND event_id = $2`

	v, err := scanViolation(r.db.conn.QueryRowContext(ctx, query, userID, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}
	return v, nil
}

// ListByCandidate returns one candidate's violations ordered by event time,
// oldest first unless newestFirst is set.
func (r *ViolationRepository) ListByCandidate(ctx context.Context, assessmentID, userID string, newestFirst bool) ([]models.Violation, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	query := `SELECT ` + violationColumns + `
		FROM violations
		WHERE assessment_id = $1 AND user_id = $2
		ORDER BY event_at ` + order + `, received_at ` + order

	return r.list(ctx, query, assessmentID, userID)
}

func (r *ViolationRepository) ListByAssessment(ctx context.Context, assessmentID string) ([]models.Violation, error) {
	query := `SELECT ` + violationColumns + `
		FROM violations
		WHERE assessment_id = $1
		ORDER BY event_at ASC, received_at ASC`

	return r.list(ctx, query, assessmentID)
}

func (r *ViolationRepository) list(ctx context.Context, query string, args ...any) ([]models.Violation, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	violations := []models.Violation{}
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read violations: %w", err)
	}
	return violations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanViolation(row rowScanner) (*models.Violation, error) {
	var v models.Violation
	var eventType string
	var metadata, snapshotID sql.NullString

	err := row.Scan(
		&v.ID,
		&v.EventID,
		&v.UserID,
		&v.AssessmentID,
		&eventType,
		&v.Timestamp,
		&metadata,
		&snapshotID,
		&v.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}

	v.EventType = models.EventType(eventType)
	v.SnapshotID = snapshotID.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &v.Metadata); err != nil {
			v.Metadata = map[string]any{"raw": metadata.String}
		}
	}
	return &v, nil
}
