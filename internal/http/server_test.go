// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"light-sequencer/internal/config"
	"light-sequencer/internal/sequencer"
)

const testYAML = `
server:
  http: ":0"
fixtures:
  front:
    - id: front-1
      position: 1
      profile: {red: 1, green: 2, blue: 3, intensity: 4}
    - id: front-2
      position: 2
      profile: {red: 5, green: 6, blue: 7, intensity: 8}
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServer(t *testing.T) (*Server, *sequencer.Sequencer, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	seq := sequencer.New(cfg.Engine, cfg.BuildRegistry(), testLogger())
	seq.Start()
	t.Cleanup(seq.Stop)

	return NewServer(cfg, path, seq, testLogger()), seq, path
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var status sequencer.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !status.Running || status.Fixtures != 2 {
		t.Errorf("status = %+v", status)
	}
}

func TestFixturesEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fixtures", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var fixtures []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &fixtures); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(fixtures) != 2 {
		t.Errorf("fixtures = %d, want 2", len(fixtures))
	}
}

func TestGroupsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/groups", nil))

	var groups []string
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(groups) != 1 || groups[0] != "front" {
		t.Errorf("groups = %v", groups)
	}
}

func TestUnifiedAPIEndpoint(t *testing.T) {
	srv, seq, _ := testServer(t)

	body := `{"cmd":"set_state","fixtures":["front-1"],"color":{"red":255,"intensity":255,"opacity":1,"blend":"replace"},"duration_ms":0}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && seq.CurrentUniverse()[0] != 255 {
		time.Sleep(5 * time.Millisecond)
	}
	if seq.CurrentUniverse()[0] != 255 {
		t.Error("API command never reached the universe")
	}
}

func TestUnifiedAPIRequiresPost(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d", rec.Code)
	}
}

func TestBlackoutEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/blackout", strings.NewReader(`{"duration_ms":0}`)))
	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/blackout", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET blackout status code = %d", rec.Code)
	}
}

func TestUniverseEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/universe", nil))

	var channels []uint8
	if err := json.Unmarshal(rec.Body.Bytes(), &channels); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(channels) != 512 {
		t.Errorf("channels = %d, want 512", len(channels))
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := health["goroutines"]; !ok {
		t.Error("health missing goroutines")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sequencer_") {
		t.Error("metrics output missing sequencer series")
	}
}

func TestReloadEndpoint(t *testing.T) {
	srv, seq, path := testServer(t)

	// Shrink the rig to one fixture and reload.
	smaller := `
fixtures:
  front:
    - id: front-1
      position: 1
      profile: {red: 1, green: 2, blue: 3, intensity: 4}
`
	if err := os.WriteFile(path, []byte(smaller), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reload", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status code = %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && seq.Registry().Len() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if seq.Registry().Len() != 1 {
		t.Errorf("registry size = %d after reload, want 1", seq.Registry().Len())
	}
}

func TestReloadRejectsBadConfig(t *testing.T) {
	srv, _, path := testServer(t)

	if err := os.WriteFile(path, []byte("fixtures: {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reload", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad config reload status = %d, want 400", rec.Code)
	}
}
