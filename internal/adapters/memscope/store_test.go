package memscope

import (
	"context"
	"testing"
	"time"
)

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Set(ctx, "pending.eventCode", "482913", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "pending.eventCode")
	if err != nil || got != "482913" {
		t.Fatalf("get: %q %v", got, err)
	}

	if err = s.Delete(ctx, "pending.eventCode"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = s.Get(ctx, "pending.eventCode")
	if got != "" {
		t.Fatalf("expected empty after delete, got %q", got)
	}

	// Deleting an absent key is not an error.
	if err = s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	current := time.Now()
	s := NewWithClock(func() time.Time { return current })

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != "v" {
		t.Fatalf("expected live value, got %q", got)
	}

	current = current.Add(2 * time.Minute)
	if got, _ := s.Get(ctx, "k"); got != "" {
		t.Fatalf("expected expired value to read empty, got %q", got)
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry should be evicted")
	}
}

func TestStore_ClearPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()

	_ = s.Set(ctx, "sb-auth.token", "t", 0)
	_ = s.Set(ctx, "sb-auth.refresh", "r", 0)
	_ = s.Set(ctx, "pending.eventCode", "482913", 0)

	if err := s.ClearPrefix(ctx, "sb-auth."); err != nil {
		t.Fatalf("clear prefix: %v", err)
	}

	if got, _ := s.Get(ctx, "sb-auth.token"); got != "" {
		t.Fatalf("prefixed key should be gone")
	}
	if got, _ := s.Get(ctx, "pending.eventCode"); got != "482913" {
		t.Fatalf("unrelated key should survive, got %q", got)
	}
}
