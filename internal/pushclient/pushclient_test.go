package pushclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestPushSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body payload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.APS.ContentAvailable != 1 {
			t.Errorf("content-available = %d, want 1", body.APS.ContentAvailable)
		}
		if r.Header.Get("apns-push-type") != "background" {
			t.Errorf("apns-push-type = %q", r.Header.Get("apns-push-type"))
		}
		if r.Header.Get("authorization") != "Bearer jwt-1" {
			t.Errorf("authorization = %q", r.Header.Get("authorization"))
		}
		w.Header().Set("apns-id", "provider-123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "com.example.whisper", zerolog.Nop())
	result, err := c.Push(context.Background(), "devtok", "jwt-1", "push-1", []byte("secretbytes"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !result.Success || result.ProviderUniqueID != "provider-123" {
		t.Errorf("result = %+v", result)
	}
}

func TestPushFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "com.example.whisper", zerolog.Nop())
	result, err := c.Push(context.Background(), "devtok", "jwt-1", "push-1", []byte("secretbytes"))
	if err == nil {
		t.Fatal("expected error on non-2xx response")
	}
	if result.Success {
		t.Error("expected Success=false")
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", result.StatusCode)
	}
}

func TestPushNetworkFailure(t *testing.T) {
	c := New("http://127.0.0.1:1", "com.example.whisper", zerolog.Nop())
	result, err := c.Push(context.Background(), "devtok", "jwt-1", "push-1", []byte("secretbytes"))
	if err == nil {
		t.Fatal("expected a network error")
	}
	if result.Success {
		t.Error("expected Success=false")
	}
	if result.FailureReason == "" {
		t.Error("expected a recorded failure reason")
	}
}
