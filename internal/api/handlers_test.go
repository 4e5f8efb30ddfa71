package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kdimtricp/vproctor/internal/database"
	"github.com/kdimtricp/vproctor/internal/models"
	"github.com/kdimtricp/vproctor/internal/storage"
)

type testServer struct {
	app       *App
	handler   http.Handler
	snapshots string
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	dir := t.TempDir()

	db, err := database.NewDB(database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(dir, "api_test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	snapshots := filepath.Join(dir, "snapshots")
	store, err := storage.NewLocalStorage(snapshots)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	app := &App{
		Storage:       store,
		DB:            db,
		ViolationRepo: database.NewViolationRepository(db),
		Metrics:       NewMetrics(),
		JWTSecret:     []byte(secret),
	}
	return &testServer{app: app, handler: NewRouter(app), snapshots: snapshots}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func event(eventType models.EventType, at time.Time) models.ViolationEvent {
	return models.NewViolationEvent(eventType, "exam-1", "user-1", at, map[string]any{"source": "test"})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("Failed to decode envelope %q: %v", rec.Body.String(), err)
	}
	if data != nil {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			t.Fatalf("Failed to decode data: %v", err)
		}
	}
	return envelope{Success: raw.Success, Message: raw.Message}
}

func TestPing(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodGet, "/ping", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("Expected pong, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRecordAndSummary(t *testing.T) {
	s := newTestServer(t, "")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	events := []models.ViolationEvent{
		event(models.FocusLost, base.Add(2*time.Second)),
		event(models.TabSwitch, base),
		event(models.TabSwitch, base.Add(time.Second)),
	}
	for _, ev := range events {
		rec := s.do(t, http.MethodPost, "/violations", ev, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Record %s: expected 200, got %d: %s", ev.EventType, rec.Code, rec.Body.String())
		}
		var resp recordResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Status != "ok" || resp.ID == "" {
			t.Errorf("Unexpected record response: %+v", resp)
		}
	}

	for _, path := range []string{"/summary?assessmentId=exam-1&userId=user-1", "/api/proctor/summary/exam-1/user-1"} {
		rec := s.do(t, http.MethodGet, path, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var summary models.Summary
		env := decodeEnvelope(t, rec, &summary)
		if !env.Success {
			t.Errorf("%s: expected success", path)
		}
		if summary.TotalViolations != 3 || summary.Summary["TAB_SWITCH"] != 2 || summary.Summary["FOCUS_LOST"] != 1 {
			t.Errorf("%s: unexpected summary %+v", path, summary)
		}
		if summary.Violations[0].EventType != models.TabSwitch || summary.Violations[2].EventType != models.FocusLost {
			t.Errorf("%s: violations not ascending by timestamp", path)
		}
		if summary.EventTypeLabels["TAB_SWITCH"] != "Tab switch detected" {
			t.Errorf("%s: missing labels", path)
		}
	}

	got := testutil.ToFloat64(s.app.Metrics.violationsTotal.WithLabelValues("TAB_SWITCH"))
	if got != 2 {
		t.Errorf("Expected 2 TAB_SWITCH in metrics, got %v", got)
	}
}

func TestLogsNewestFirst(t *testing.T) {
	s := newTestServer(t, "")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.do(t, http.MethodPost, "/api/proctor/record", event(models.CopyRestrict, base), "")
	s.do(t, http.MethodPost, "/api/proctor/record", event(models.PasteAttempt, base.Add(time.Minute)), "")

	rec := s.do(t, http.MethodGet, "/api/proctor/logs/exam-1/user-1", nil, "")
	var logs models.Logs
	decodeEnvelope(t, rec, &logs)
	if logs.TotalCount != 2 || logs.Logs[0].EventType != models.PasteAttempt {
		t.Errorf("Expected newest first, got %+v", logs.Logs)
	}
}

func TestRecordDuplicateEventID(t *testing.T) {
	s := newTestServer(t, "")
	ev := event(models.TabSwitch, time.Now())

	first := s.do(t, http.MethodPost, "/violations", ev, "")
	second := s.do(t, http.MethodPost, "/violations", ev, "")
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("Expected both acknowledged, got %d and %d", first.Code, second.Code)
	}

	var a, b recordResponse
	json.Unmarshal(first.Body.Bytes(), &a)
	json.Unmarshal(second.Body.Bytes(), &b)
	if a.ID != b.ID {
		t.Errorf("Expected same stored id, got %s and %s", a.ID, b.ID)
	}

	rec := s.do(t, http.MethodGet, "/summary?assessmentId=exam-1&userId=user-1", nil, "")
	var summary models.Summary
	decodeEnvelope(t, rec, &summary)
	if summary.TotalViolations != 1 {
		t.Errorf("Expected one stored row, got %d", summary.TotalViolations)
	}
	if testutil.ToFloat64(s.app.Metrics.duplicatesTotal) != 1 {
		t.Errorf("Expected duplicate to be counted")
	}
}

func TestRecordSameEventIDForAnotherUser(t *testing.T) {
	s := newTestServer(t, "")
	now := time.Now()
	alice := models.NewViolationEvent(models.TabSwitch, "exam-1", "alice", now, nil)
	bob := models.NewViolationEvent(models.PasteAttempt, "exam-1", "bob", now, nil)
	bob.ID = alice.ID

	first := s.do(t, http.MethodPost, "/violations", alice, "")
	second := s.do(t, http.MethodPost, "/violations", bob, "")
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("Expected both stored, got %d and %d", first.Code, second.Code)
	}

	var a, b recordResponse
	json.Unmarshal(first.Body.Bytes(), &a)
	json.Unmarshal(second.Body.Bytes(), &b)
	if a.ID == b.ID {
		t.Errorf("Expected bob's own row, got alice's id %s", a.ID)
	}

	rec := s.do(t, http.MethodGet, "/summary?assessmentId=exam-1&userId=bob", nil, "")
	var summary models.Summary
	decodeEnvelope(t, rec, &summary)
	if summary.TotalViolations != 1 || summary.Summary["PASTE_ATTEMPT"] != 1 {
		t.Errorf("Expected bob's paste attempt stored, got %+v", summary.Summary)
	}
	if testutil.ToFloat64(s.app.Metrics.duplicatesTotal) != 0 {
		t.Errorf("Expected no duplicate counted")
	}
}

func TestRecordValidation(t *testing.T) {
	s := newTestServer(t, "")
	valid := event(models.TabSwitch, time.Now())

	tests := []struct {
		name   string
		mutate func(e *models.ViolationEvent)
	}{
		{"missing user", func(e *models.ViolationEvent) { e.UserID = "" }},
		{"long user", func(e *models.ViolationEvent) { e.UserID = strings.Repeat("u", 256) }},
		{"missing assessment", func(e *models.ViolationEvent) { e.AssessmentID = " " }},
		{"long assessment", func(e *models.ViolationEvent) { e.AssessmentID = strings.Repeat("a", 101) }},
		{"unknown type", func(e *models.ViolationEvent) { e.EventType = "TELEPORT" }},
		{"bad timestamp", func(e *models.ViolationEvent) { e.Timestamp = "yesterday" }},
		{"long id", func(e *models.ViolationEvent) { e.ID = strings.Repeat("i", models.MaxEventIDLength+1) }},
		{"bad snapshot", func(e *models.ViolationEvent) { e.SnapshotBase64 = "%%%" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			rec := s.do(t, http.MethodPost, "/violations", ev, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/violations", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rec.Code)
	}

	if got := testutil.ToFloat64(s.app.Metrics.ingestErrors); got != float64(len(tests)+1) {
		t.Errorf("Expected %d ingest errors, got %v", len(tests)+1, got)
	}
}

func TestSummaryRequiresCandidate(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodGet, "/summary?assessmentId=exam-1", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec, nil); env.Success {
		t.Errorf("Expected success=false")
	}
}

func TestSummaryEmptyCandidate(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.do(t, http.MethodGet, "/summary?assessmentId=exam-1&userId=nobody", nil, "")
	var summary models.Summary
	decodeEnvelope(t, rec, &summary)
	if summary.TotalViolations != 0 || summary.Violations == nil {
		t.Errorf("Expected empty non-nil violations, got %+v", summary)
	}
}

func TestAssessmentGroupsByUser(t *testing.T) {
	s := newTestServer(t, "")
	now := time.Now()
	s.do(t, http.MethodPost, "/violations", models.NewViolationEvent(models.TabSwitch, "exam-1", "alice", now, nil), "")
	s.do(t, http.MethodPost, "/violations", models.NewViolationEvent(models.MultiFace, "exam-1", "bob", now, nil), "")
	s.do(t, http.MethodPost, "/violations", models.NewViolationEvent(models.MultiFace, "exam-2", "bob", now, nil), "")

	rec := s.do(t, http.MethodGet, "/api/proctor/assessment/exam-1/all", nil, "")
	var all models.AssessmentViolations
	decodeEnvelope(t, rec, &all)
	if len(all.Users) != 2 || all.Users["bob"].TotalViolations != 1 {
		t.Errorf("Unexpected grouping: %+v", all.Users)
	}
}

func TestSnapshotEvidence(t *testing.T) {
	s := newTestServer(t, "")

	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)))
	ev := event(models.MultiFace, time.Now()).WithSnapshot(base64.StdEncoding.EncodeToString(buf.Bytes()))

	rec := s.do(t, http.MethodPost, "/violations", ev, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, err := s.app.ViolationRepo.GetByEventID(context.Background(), ev.UserID, ev.ID)
	if err != nil || stored.SnapshotID == "" {
		t.Fatalf("Expected stored snapshot id, got %v %+v", err, stored)
	}

	rec = s.do(t, http.MethodGet, "/snapshots/"+stored.SnapshotID, nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Expected png evidence, got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.Equal(rec.Body.Bytes(), buf.Bytes()) {
		t.Errorf("Snapshot content mismatch")
	}

	// A resend must not leave a second file behind.
	s.do(t, http.MethodPost, "/violations", ev, "")
	entries, _ := os.ReadDir(s.snapshots)
	if len(entries) != 1 {
		t.Errorf("Expected 1 snapshot file, got %d", len(entries))
	}

	if rec := s.do(t, http.MethodGet, "/snapshots/missing.png", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing snapshot, got %d", rec.Code)
	}
}

func TestJWTAuthentication(t *testing.T) {
	secret := "test-secret"
	s := newTestServer(t, secret)
	ev := event(models.TabSwitch, time.Now())

	if rec := s.do(t, http.MethodPost, "/violations", ev, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/violations", ev, "garbage"); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad token, got %d", rec.Code)
	}

	other, _ := IssueToken([]byte(secret), "someone-else", time.Minute)
	if rec := s.do(t, http.MethodPost, "/violations", ev, other); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for subject mismatch, got %d", rec.Code)
	}

	expired, _ := IssueToken([]byte(secret), "user-1", -time.Minute)
	if rec := s.do(t, http.MethodPost, "/violations", ev, expired); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for expired token, got %d", rec.Code)
	}

	token, err := IssueToken([]byte(secret), "user-1", time.Minute)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if rec := s.do(t, http.MethodPost, "/violations", ev, token); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := s.do(t, http.MethodGet, "/ping", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("Expected /ping to stay open, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	s.do(t, http.MethodPost, "/violations", event(models.DevToolsOpen, time.Now()), "")

	rec := s.do(t, http.MethodGet, "/metrics", nil, "")
	body := rec.Body.String()
	for _, want := range []string{
		`vproctor_violations_total{event_type="DEVTOOLS_OPEN"} 1`,
		`vproctor_request_duration_seconds_count{method="POST",route="/violations",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}
}
