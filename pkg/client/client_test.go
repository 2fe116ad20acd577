package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("path = %q, want /status", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": "ok",
			"data":   map[string]any{"mode": "station", "ssid": "HomeNet", "ip": "192.168.1.23"},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Mode != "station" || st.SSID != "HomeNet" {
		t.Errorf("status = %+v", st)
	}
}

func TestConnectSendsCredentialAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["ssid"] != "HomeNet" || body["password"] != "secret123" {
			t.Errorf("body = %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": "ok",
			"data":   map[string]any{"mode": "station", "ssid": "HomeNet"},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithToken("tok123"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st, err := c.Connect(context.Background(), "HomeNet", "secret123")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if st.Mode != "station" {
		t.Errorf("mode = %q, want station", st.Mode)
	}
}

func TestErrorEnvelopeCarriesFallbackStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result":  "error",
			"code":    "ASSOCIATION_TIMEOUT",
			"message": "association not confirmed before timeout",
			"data":    map[string]any{"mode": "ap", "lastError": "association not confirmed before timeout"},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Connect(context.Background(), "Nonexistent", "whatever8")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsCode(err, "ASSOCIATION_TIMEOUT") {
		t.Errorf("err = %v, want ASSOCIATION_TIMEOUT", err)
	}
	apiErr := err.(*APIError)
	if apiErr.Status == nil || apiErr.Status.Mode != "ap" {
		t.Errorf("fallback status = %+v, want ap", apiErr.Status)
	}
}
