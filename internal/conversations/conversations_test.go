package conversations

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

func TestCreateOrUpdate(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	created, err := r.CreateOrUpdate(ctx, "conv1", "My Conv", "profile1")
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if created.Name != "My Conv" || created.OwnerProfileID != "profile1" {
		t.Errorf("created = %+v", created)
	}

	updated, err := r.CreateOrUpdate(ctx, "conv1", "Renamed", "profile1")
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", updated.Name)
	}
}

// TestOwnerImmutability mirrors the "Conversation owner immutability"
// property: a POST whose ownerId differs from the stored value returns a
// conflict and makes no change.
func TestOwnerImmutability(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.CreateOrUpdate(ctx, "conv1", "My Conv", "profile1"); err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}

	_, err := r.CreateOrUpdate(ctx, "conv1", "Hijack", "profile2")
	if err == nil {
		t.Fatal("expected conflict for a mismatched owner")
	}
	e, ok := apierr.As(err)
	if !ok || e.Kind != apierr.KindConflict {
		t.Errorf("err = %v, want apierr.KindConflict", err)
	}

	unchanged, ok, err := r.Get(ctx, "conv1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if unchanged.Name != "My Conv" || unchanged.OwnerProfileID != "profile1" {
		t.Errorf("conversation mutated despite conflict: %+v", unchanged)
	}
}

func TestGetMissing(t *testing.T) {
	r := newTestRegistry(t)
	_, ok, err := r.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing conversation")
	}
}
