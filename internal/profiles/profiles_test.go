package profiles

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/snarg/whisper-relay/internal/apierr"
	"github.com/snarg/whisper-relay/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := store.Connect(context.Background(), "redis://"+mr.Addr()+"/0", "whisper", zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Connect: %v", err)
	}
	t.Cleanup(s.Close)
	return New(s, zerolog.Nop())
}

func TestPutCreatesSubProfile(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	sub, err := r.Put(ctx, PutInput{ProfileID: "p1", Kind: KindSettings, Body: `{"theme":"dark"}`, ClientTimestamp: 100})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if sub.ETag == "" {
		t.Error("expected a non-empty ETag")
	}

	got, found, err := r.GetSubProfile(ctx, "p1", KindSettings)
	if err != nil || !found {
		t.Fatalf("GetSubProfile: found=%v err=%v", found, err)
	}
	if got.Body != `{"theme":"dark"}` || got.Timestamp != 100 {
		t.Errorf("got = %+v", got)
	}
}

func TestPutRejectsStaleTimestamp(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Put(ctx, PutInput{ProfileID: "p1", Kind: KindWhisper, Body: "v1", ClientTimestamp: 200}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, err := r.Put(ctx, PutInput{ProfileID: "p1", Kind: KindWhisper, Body: "v2", ClientTimestamp: 100})
	if err == nil {
		t.Fatal("expected a conflict on a stale timestamp")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != "conflict" {
		t.Errorf("err = %v, want conflict", err)
	}

	sub, _, _ := r.GetSubProfile(ctx, "p1", KindWhisper)
	if sub.Body != "v1" {
		t.Errorf("stale write must not overwrite, got body %q", sub.Body)
	}
}

func TestPutRejectsIfNoneMatch(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	sub, err := r.Put(ctx, PutInput{ProfileID: "p1", Kind: KindListen, Body: "v1", ClientTimestamp: 100})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err = r.Put(ctx, PutInput{ProfileID: "p1", Kind: KindListen, Body: "v2", ClientTimestamp: 200, IfNoneMatch: sub.ETag})
	if err == nil {
		t.Fatal("expected a precondition-failed error")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != "precondition_failed" {
		t.Errorf("err = %v, want precondition_failed", err)
	}
}

func TestShareRequiresPasswordOnSubsequentWrites(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Share(ctx, "p1", "hunter2"); err != nil {
		t.Fatalf("Share: %v", err)
	}

	_, err := r.Put(ctx, PutInput{ProfileID: "p1", Kind: KindUser, Body: "v1", ClientTimestamp: 100})
	if err == nil {
		t.Fatal("expected unauthorized without a password")
	}

	_, err = r.Put(ctx, PutInput{ProfileID: "p1", Kind: KindUser, Body: "v1", ClientTimestamp: 100, Password: "wrong"})
	if err == nil {
		t.Fatal("expected unauthorized with the wrong password")
	}

	sub, err := r.Put(ctx, PutInput{ProfileID: "p1", Kind: KindUser, Body: "v1", ClientTimestamp: 100, Password: "hunter2"})
	if err != nil {
		t.Fatalf("Put with correct password: %v", err)
	}
	if sub.Body != "v1" {
		t.Errorf("sub = %+v", sub)
	}
}

func TestShareRejectsDuplicateShareWithDifferentPassword(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Share(ctx, "p1", "hunter2"); err != nil {
		t.Fatalf("Share: %v", err)
	}
	err := r.Share(ctx, "p1", "different")
	if err == nil {
		t.Fatal("expected a conflict when re-sharing with a different password")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != "conflict" {
		t.Errorf("err = %v, want conflict", err)
	}

	// re-sharing with the SAME password is a no-op, not a conflict.
	if err := r.Share(ctx, "p1", "hunter2"); err != nil {
		t.Errorf("re-sharing with the same password should succeed, got %v", err)
	}
}

func TestSetUsername(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.SetUsername(ctx, "p1", "alice"); err != nil {
		t.Fatalf("SetUsername: %v", err)
	}
	profile, found, err := r.Get(ctx, "p1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if profile.Name != "alice" {
		t.Errorf("Name = %q", profile.Name)
	}
}

func TestGetMissingProfile(t *testing.T) {
	r := newTestRegistry(t)
	_, found, err := r.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("expected found=false for a profile that was never written")
	}
}
