package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClientSendsIdentityHeaders(t *testing.T) {
	var gotPath, gotUser, gotAuth, gotReqID string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get("X-User-ID")
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-Id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":"u2","amount":"5","balance":"55"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "u1", "tok")
	if _, err := c.Gift(context.Background(), "u2", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("gift: %v", err)
	}
	if gotPath != "/v1/gift" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotUser != "u1" || gotAuth != "Bearer tok" {
		t.Fatalf("identity headers user=%q auth=%q", gotUser, gotAuth)
	}
	if gotReqID == "" {
		t.Fatalf("expected a request id")
	}
	if gotBody["to"] != "u2" || gotBody["amount"] != "5" {
		t.Fatalf("unexpected body %v", gotBody)
	}
}

func TestClientDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stocks/ABC/buy" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient funds"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "u1", "")
	_, err := c.Buy(context.Background(), "$ABC")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "insufficient funds" || apiErr.RequestID == "" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "http://localhost:8080", want: "ws://localhost:8080/v1/stream"},
		{base: "https://fx.example.com/", want: "wss://fx.example.com/v1/stream"},
	}
	for _, tc := range tests {
		if got := NewClient(tc.base, "", "").StreamURL(); got != tc.want {
			t.Fatalf("base=%s got %s want %s", tc.base, got, tc.want)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prev := HomeDir
	HomeDir = func() (string, error) { return dir, nil }
	defer func() { HomeDir = prev }()

	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected missing session to fail")
	}
	want := Session{UserID: "123", APIToken: "tok", BaseURL: "http://x"}
	if err := SaveSession(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected cleared session to fail")
	}
}
