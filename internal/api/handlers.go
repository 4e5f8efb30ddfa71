package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kdimtricp/vproctor/internal/database"
	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/storage"
)

// DefaultMaxBodySize leaves room for one base64 snapshot per event.
const DefaultMaxBodySize = 8 << 20

type App struct {
	Storage       storage.Storage
	DB            *database.DB
	ViolationRepo *database.ViolationRepository
	Metrics       *Metrics
	JWTSecret     []byte
	MaxBodySize   int64
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type recordResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// RecordHandler stores one violation event. A repeated event id is
// acknowledged with the stored row's id and no second row.
func (app *App) RecordHandler(w http.ResponseWriter, r *http.Request) {
	maxBody := app.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	var event models.ViolationEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		app.Metrics.ingestErrors.Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := event.Validate(); err != nil {
		app.Metrics.ingestErrors.Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if subject, ok := Subject(r.Context()); ok && subject != strings.TrimSpace(event.UserID) {
		app.Metrics.ingestErrors.Inc()
		writeError(w, http.StatusForbidden, "token subject does not match userId")
		return
	}

	var snapshotID string
	if event.SnapshotBase64 != "" {
		info, err := app.Storage.SaveSnapshot(event.SnapshotBase64)
		if err != nil {
			app.Metrics.ingestErrors.Inc()
			if errors.Is(err, storage.ErrInvalidSnapshot) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Printf("[Proctor API] Failed to save snapshot for event %s: %v", event.ID, err)
			writeError(w, http.StatusInternalServerError, "failed to save snapshot")
			return
		}
		snapshotID = info.ID
	}

	violation := &models.Violation{
		EventID:      event.ID,
		UserID:       strings.TrimSpace(event.UserID),
		AssessmentID: strings.TrimSpace(event.AssessmentID),
		EventType:    event.EventType,
		Timestamp:    event.Timestamp,
		Metadata:     event.Metadata,
		SnapshotID:   snapshotID,
		ReceivedAt:   time.Now().UTC(),
	}

	created, err := app.ViolationRepo.Insert(r.Context(), violation)
	if err != nil || !created {
		app.dropSnapshot(snapshotID)
	}
	if err != nil {
		app.Metrics.ingestErrors.Inc()
		log.Printf("[Proctor API] Failed to store violation %s: %v", event.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to store violation")
		return
	}

	if created {
		app.Metrics.recordViolation(violation.EventType)
		log.Printf("[Proctor API] Recorded %s for user %s in assessment %s", violation.EventType, violation.UserID, violation.AssessmentID)
	} else {
		app.Metrics.duplicatesTotal.Inc()
	}

	writeJSON(w, http.StatusOK, recordResponse{Status: "ok", ID: violation.ID})
}

func (app *App) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	assessmentID, userID, ok := candidateParams(w, r)
	if !ok {
		return
	}

	violations, err := app.ViolationRepo.ListByCandidate(r.Context(), assessmentID, userID, false)
	if err != nil {
		log.Printf("[Proctor API] Failed to load summary for %s/%s: %v", assessmentID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load violations")
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Violation summary retrieved",
		Data:    models.NewSummary(violations),
	})
}

func (app *App) LogsHandler(w http.ResponseWriter, r *http.Request) {
	assessmentID, userID, ok := candidateParams(w, r)
	if !ok {
		return
	}

	violations, err := app.ViolationRepo.ListByCandidate(r.Context(), assessmentID, userID, true)
	if err != nil {
		log.Printf("[Proctor API] Failed to load logs for %s/%s: %v", assessmentID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load violations")
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Violation logs retrieved",
		Data: models.Logs{
			Logs:            violations,
			TotalCount:      len(violations),
			EventTypeLabels: models.EventTypeLabels(),
		},
	})
}

func (app *App) AssessmentHandler(w http.ResponseWriter, r *http.Request) {
	assessmentID := strings.TrimSpace(chi.URLParam(r, "assessmentId"))
	if assessmentID == "" {
		writeError(w, http.StatusBadRequest, "assessmentId is required")
		return
	}

	violations, err := app.ViolationRepo.ListByAssessment(r.Context(), assessmentID)
	if err != nil {
		log.Printf("[Proctor API] Failed to load assessment %s: %v", assessmentID, err)
		writeError(w, http.StatusInternalServerError, "failed to load violations")
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Assessment violations retrieved",
		Data:    models.GroupByUser(violations),
	})
}

func (app *App) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	snapshotID := chi.URLParam(r, "id")
	if snapshotID == "" {
		http.NotFound(w, r)
		return
	}

	file, err := app.Storage.OpenFile(snapshotID)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPath) {
			writeError(w, http.StatusBadRequest, "invalid snapshot id")
			return
		}
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	modTime := time.Time{}
	if stater, ok := file.(interface{ Stat() (os.FileInfo, error) }); ok {
		if stat, err := stater.Stat(); err == nil {
			modTime = stat.ModTime()
		}
	}

	// ServeContent sets the content type from the extension and handles Range.
	http.ServeContent(w, r, snapshotID, modTime, file)
}

func (app *App) dropSnapshot(snapshotID string) {
	if snapshotID == "" {
		return
	}
	if err := app.Storage.DeleteFile(snapshotID); err != nil {
		log.Printf("[Proctor API] Failed to remove orphaned snapshot %s: %v", snapshotID, err)
	}
}

// candidateParams reads assessmentId and userId from the path aliases or
// from the query string.
func candidateParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	assessmentID := chi.URLParam(r, "assessmentId")
	if assessmentID == "" {
		assessmentID = r.URL.Query().Get("assessmentId")
	}
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	assessmentID = strings.TrimSpace(assessmentID)
	userID = strings.TrimSpace(userID)

	if assessmentID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "assessmentId and userId are required")
		return "", "", false
	}
	return assessmentID, userID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Proctor API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}
