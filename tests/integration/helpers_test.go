package integration

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kdimtricp/vproctor/internal/api"
	"github.com/kdimtricp/vproctor/internal/collector"
	"github.com/kdimtricp/vproctor/internal/database"
	"github.com/kdimtricp/vproctor/internal/storage"
)

type TestServer struct {
	Server        *httptest.Server
	App           *api.App
	DB            *database.DB
	ViolationRepo *database.ViolationRepository
	Storage       storage.Storage
	Secret        []byte
}

// setupTestServer runs the collector against a fresh sqlite file. A non-empty
// secret turns on session token checks.
func setupTestServer(t *testing.T, secret string) *TestServer {
	t.Helper()
	tempDir := t.TempDir()

	localStorage, err := storage.NewLocalStorage(filepath.Join(tempDir, "snapshots"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	db, err := database.NewDB(database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(tempDir, "test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	violationRepo := database.NewViolationRepository(db)
	app := &api.App{
		Storage:       localStorage,
		DB:            db,
		ViolationRepo: violationRepo,
		Metrics:       api.NewMetrics(),
		JWTSecret:     []byte(secret),
	}

	ts := &TestServer{
		Server:        httptest.NewServer(api.NewRouter(app)),
		App:           app,
		DB:            db,
		ViolationRepo: violationRepo,
		Storage:       localStorage,
		Secret:        []byte(secret),
	}
	t.Cleanup(ts.Cleanup)
	return ts
}

func (ts *TestServer) Cleanup() {
	ts.Server.Close()
	ts.DB.Close()
}

// Client returns a collector client for subject, carrying a fresh token
// when the server checks them.
func (ts *TestServer) Client(t *testing.T, subject string) *collector.Client {
	t.Helper()
	token := ""
	if len(ts.Secret) > 0 {
		var err error
		token, err = api.IssueToken(ts.Secret, subject, time.Hour)
		if err != nil {
			t.Fatalf("Failed to issue token: %v", err)
		}
	}
	return collector.NewClient(collector.NewConfig(ts.Server.URL, token))
}

func countViolationsInDB(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM violations").Scan(&count)
	return count, err
}

func postRaw(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		t.Fatalf("Failed to encode payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", &body)
	if err != nil {
		t.Fatalf("Failed to post: %v", err)
	}
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
