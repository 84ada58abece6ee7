package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want int
	}{
		{"bad_input", KindBadInput, http.StatusBadRequest},
		{"unauthorized", KindUnauthorized, http.StatusForbidden},
		{"not_found", KindNotFound, http.StatusNotFound},
		{"conflict", KindConflict, http.StatusConflict},
		{"precondition_failed", KindPreconditionFailed, http.StatusPreconditionFailed},
		{"internal", KindInternal, http.StatusInternalServerError},
		{"unknown_defaults_to_internal", Kind("bogus"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.kind); got != tt.want {
				t.Errorf("Status(%v) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, KindNotFound, "conversation not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	var got body
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Code != "not_found" || got.Error != "conversation not found" {
		t.Errorf("body = %+v", got)
	}
}

func TestWriteErrorWithCode(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorWithCode(w, http.StatusTooManyRequests, ErrRateLimited, "rate limit exceeded")

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	var got body
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Code != "rate_limited" {
		t.Errorf("code = %q, want rate_limited", got.Code)
	}
}

func TestWriteErr(t *testing.T) {
	t.Run("classified_error", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteErr(w, Conflict("already claimed"))
		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	})

	t.Run("opaque_error_falls_back_to_internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteErr(w, errors.New("boom"))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
	})

	t.Run("wrapped_classified_error_unwraps", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := Wrap(KindBadInput, "invalid offset", errors.New("strconv error"))
		WriteErr(w, err)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestAs(t *testing.T) {
	wrapped := Wrap(KindPreconditionFailed, "stale timestamp", errors.New("cause"))
	var plain error = wrapped

	e, ok := As(plain)
	if !ok {
		t.Fatal("As() should find the classified error")
	}
	if e.Kind != KindPreconditionFailed {
		t.Errorf("Kind = %v, want precondition_failed", e.Kind)
	}

	_, ok = As(errors.New("not classified"))
	if ok {
		t.Error("As() should not find a classified error in a plain error")
	}
}

func TestErrorMessage(t *testing.T) {
	withoutCause := New(KindNotFound, "profile not found")
	if withoutCause.Error() != "profile not found" {
		t.Errorf("Error() = %q", withoutCause.Error())
	}

	withCause := Wrap(KindInternal, "store write failed", errors.New("connection reset"))
	want := "store write failed: connection reset"
	if withCause.Error() != want {
		t.Errorf("Error() = %q, want %q", withCause.Error(), want)
	}
}
