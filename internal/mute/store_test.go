package mute

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a local Redis instance and cleans up test keys.
// Tests that call this helper require a running Redis on localhost:6379 and
// skip otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		for _, pattern := range []string{MutePrefix + "test_*", KicksPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestIsMuted_NotMuted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	muted, remaining, reason, err := store.IsMuted(ctx, "test_nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if muted {
		t.Errorf("expected not muted, got muted (remaining=%v reason=%q)", remaining, reason)
	}
}

func TestMuteAndUnmute(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "test_mute_cycle"

	if err := store.Mute(ctx, key, 30*time.Second, "spam"); err != nil {
		t.Fatalf("Mute error: %v", err)
	}

	muted, remaining, reason, err := store.IsMuted(ctx, key)
	if err != nil {
		t.Fatalf("IsMuted error: %v", err)
	}
	if !muted || reason != "spam" {
		t.Errorf("IsMuted = (%v, %q), want (true, spam)", muted, reason)
	}
	if remaining <= 0 || remaining > 30*time.Second {
		t.Errorf("remaining = %v, want (0, 30s]", remaining)
	}

	if err := store.Unmute(ctx, key); err != nil {
		t.Fatalf("Unmute error: %v", err)
	}
	if store.Muted(ctx, key) {
		t.Error("still muted after Unmute")
	}
}

func TestRecordKick_EscalatesToAutoMute(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "test_escalation"

	for i := 1; i <= 2; i++ {
		muted, _, err := store.RecordKick(ctx, key, "spam kick")
		if err != nil {
			t.Fatalf("RecordKick %d error: %v", i, err)
		}
		if muted {
			t.Errorf("kick %d triggered auto-mute, want none before threshold", i)
		}
	}

	muted, duration, err := store.RecordKick(ctx, key, "spam kick")
	if err != nil {
		t.Fatalf("RecordKick 3 error: %v", err)
	}
	if !muted {
		t.Fatal("3rd kick should trigger auto-mute")
	}
	if duration != Mute15Min {
		t.Errorf("duration = %v, want %v", duration, Mute15Min)
	}
	if !store.Muted(ctx, key) {
		t.Error("principal not muted after auto-mute")
	}

	// 4th kick escalates.
	muted, duration, err = store.RecordKick(ctx, key, "spam kick")
	if err != nil {
		t.Fatalf("RecordKick 4 error: %v", err)
	}
	if !muted || duration != Mute1Hour {
		t.Errorf("4th kick = (%v, %v), want (true, %v)", muted, duration, Mute1Hour)
	}
}

func TestKickCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "test_kick_count"

	n, err := store.KickCount(ctx, key)
	if err != nil || n != 0 {
		t.Fatalf("KickCount = (%d, %v), want (0, nil)", n, err)
	}

	store.RecordKick(ctx, key, "spam")
	store.RecordKick(ctx, key, "spam")
	n, err = store.KickCount(ctx, key)
	if err != nil {
		t.Fatalf("KickCount error: %v", err)
	}
	if n != 2 {
		t.Errorf("KickCount = %d, want 2", n)
	}
}
