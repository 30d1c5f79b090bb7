package adspower

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "secret-key", 100, 10)
}

func TestListProfiles(t *testing.T) {
	var gotAuth string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/user/list" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"list": []map[string]any{
					{"user_id": "p1", "name": "warm-account-1"},
					{"user_id": "p2", "name": "warm-account-2"},
				},
				"total": 2,
			},
		})
	}))

	profiles, err := c.ListProfiles(context.Background())
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(profiles) != 2 || profiles[0].ID != "p1" || profiles[1].Name != "warm-account-2" {
		t.Fatalf("profiles = %+v", profiles)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestRetCodeEnvelopeAccepted(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Older agents answer with ret_code instead of code.
		json.NewEncoder(w).Encode(map[string]any{"ret_code": 0, "data": map[string]any{}})
	}))

	if err := c.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": -1, "msg": "user account invalid"})
	}))

	err := c.TestConnection(context.Background())
	if err == nil || err.Error() != "user account invalid" {
		t.Fatalf("expected api error message, got %v", err)
	}
}

func TestStartProfileReturnsWebsocket(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/browser/start" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "p1" {
			t.Errorf("user_id = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"ws": map[string]any{"puppeteer": "ws://127.0.0.1:9222/devtools/browser/abc"},
			},
		})
	}))

	ws, err := c.StartProfile(context.Background(), "p1")
	if err != nil {
		t.Fatalf("StartProfile: %v", err)
	}
	if ws != "ws://127.0.0.1:9222/devtools/browser/abc" {
		t.Fatalf("ws = %q", ws)
	}
}

func TestStartProfileNgrokRewrite(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"ws": map[string]any{"puppeteer": "ws://127.0.0.1:9222/devtools/browser/abc"},
			},
		})
	}))
	c.NgrokURL = "https://tunnel.example.io"

	ws, err := c.StartProfile(context.Background(), "p1")
	if err != nil {
		t.Fatalf("StartProfile: %v", err)
	}
	if ws != "wss://tunnel.example.io/devtools/browser/abc" {
		t.Fatalf("ws = %q", ws)
	}
}

func TestStartProfileWithoutEndpointFails(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{}})
	}))

	if _, err := c.StartProfile(context.Background(), "p1"); err == nil {
		t.Fatalf("expected error when no websocket endpoint returned")
	}
}

func TestProfileStatus(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/browser/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "p1" {
			t.Errorf("user_id = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"status": "Active"},
		})
	}))

	status, err := c.ProfileStatus(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ProfileStatus: %v", err)
	}
	if status != "Active" {
		t.Fatalf("status = %q", status)
	}
}

func TestProfileStatusDefaultsUnknown(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{}})
	}))

	status, err := c.ProfileStatus(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ProfileStatus: %v", err)
	}
	if status != "unknown" {
		t.Fatalf("status = %q, want unknown", status)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": -1, "msg": "agent busy"})
	}))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := c.TestConnection(ctx); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}
	// Breaker is open now; the next call fails fast without hitting HTTP.
	err := c.TestConnection(ctx)
	if err == nil {
		t.Fatalf("expected breaker-open failure")
	}
}
