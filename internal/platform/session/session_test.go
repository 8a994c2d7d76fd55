package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()
	in := Context{ID: "s1", UserID: "u1", WalletAddress: "ADDR", Flags: map[string]string{"theme": "dark"}}

	if err := s.Save(ctx, in); err != nil {
		t.Fatal(err)
	}
	in.Flags["theme"] = "light"

	out, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	want := Context{ID: "s1", UserID: "u1", WalletAddress: "ADDR", Flags: map[string]string{"theme": "dark"}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("stored context was aliased (-want +got):\n%s", diff)
	}
	if !out.WalletConnected() {
		t.Error("expected wallet to be connected")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore(time.Minute)
	s.now = func() time.Time { return now }
	_ = s.Save(context.Background(), Context{ID: "s1"})

	now = now.Add(2 * time.Minute)
	if _, err := s.Load(context.Background(), "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired context, got %v", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	_ = s.Save(context.Background(), Context{ID: "s1"})
	_ = s.Delete(context.Background(), "s1")
	if _, err := s.Load(context.Background(), "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
