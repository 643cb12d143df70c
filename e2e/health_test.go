package e2e

import (
	"net/http"
	"strings"
	"testing"
)

func TestBaseURL(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if _, ok := body["timestamp"]; !ok {
		t.Error("expected 'timestamp' field in response")
	}
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", body["status"])
	}
	if _, ok := body["services"]; !ok {
		t.Error("expected 'services' field in response")
	}
}

func TestMetrics(t *testing.T) {
	ta := setupApp(t)
	createProject(t, ta)

	resp, err := doRequest(ta.app, http.MethodGet, "/metrics", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := readBody(t, resp)
	if !strings.Contains(body, "ledger_writes") && !strings.Contains(body, "http_requests") {
		t.Errorf("expected application metrics, got:\n%s", body)
	}
}

func TestAuthVerify_NoToken(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/auth/verify", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestAuthVerify_ValidToken(t *testing.T) {
	ta := setupApp(t)

	token := generateToken(t)
	resp, err := doRequest(ta.app, http.MethodGet, "/auth/verify", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	if resp.Header.Get("X-User-Id") != "test-user-123" {
		t.Errorf("expected X-User-Id header, got %q", resp.Header.Get("X-User-Id"))
	}
	if resp.Header.Get("X-User-Email") == "" {
		t.Error("expected X-User-Email header to be set")
	}
}

func TestAPI_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/projects", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
	if code := errorCode(t, resp); code != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %q", code)
	}
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta)

	resp := mustAuthRequest(t, ta.app, http.MethodGet, "/ws/projects/"+projectID+"/jobs", "")
	assertStatus(t, resp, http.StatusUpgradeRequired)
}
