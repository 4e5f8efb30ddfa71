package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kdimtricp/vproctor/internal/models"
)

func TestRecordViolation(t *testing.T) {
	var got models.ViolationEvent
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/violations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"status":"ok","id":"row-1"}`))
	}))
	defer server.Close()

	client := NewClient(NewConfig(server.URL+"/", "tok"))
	ev := models.NewViolationEvent(models.TabSwitch, "a1", "u1", time.Now(), map[string]any{"k": "v"})
	if err := client.RecordViolation(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.ID != ev.ID || got.EventType != models.TabSwitch || got.Metadata["k"] != "v" {
		t.Errorf("unexpected body %+v", got)
	}
	if auth != "Bearer tok" {
		t.Errorf("expected bearer token, got %q", auth)
	}
}

func TestRecordViolationStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad event", http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewClient(NewConfig(server.URL, "")).RecordViolation(context.Background(),
		models.NewViolationEvent(models.TabSwitch, "a1", "u1", time.Now(), nil))

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
}

func TestSummaryAndLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("assessmentId") != "a 1" || r.URL.Query().Get("userId") != "u1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/summary":
			w.Write([]byte(`{"success":true,"message":"ok","data":{"summary":{"TAB_SWITCH":2},"totalViolations":2,"violations":[],"eventTypeLabels":{"TAB_SWITCH":"Tab switched"}}}`))
		case "/logs":
			w.Write([]byte(`{"success":true,"message":"ok","data":{"logs":[{"_id":"r1","eventType":"TAB_SWITCH","userId":"u1","assessmentId":"a 1"}],"totalCount":1}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(NewConfig(server.URL, ""))

	summary, err := client.Summary(context.Background(), "a 1", "u1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalViolations != 2 || summary.Summary["TAB_SWITCH"] != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}

	logs, err := client.Logs(context.Background(), "a 1", "u1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if logs.TotalCount != 1 || logs.Logs[0].ID != "r1" {
		t.Errorf("unexpected logs %+v", logs)
	}
}

func TestEnvelopeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"not allowed"}`))
	}))
	defer server.Close()

	if _, err := NewClient(NewConfig(server.URL, "")).Summary(context.Background(), "a", "u"); err == nil {
		t.Error("expected error for unsuccessful envelope")
	}
}
