// Package mute provides Redis-backed mute management for chat senders.
// Mutes are stored as simple key-value pairs with TTL-based expiry:
//
//	Key:   mute:<principal key>
//	Value: <reason>
//	TTL:   mute duration
//
// The store also tracks spam kicks per principal so that repeat offenders
// are automatically muted for escalating durations.
package mute

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MutePrefix is the Redis key prefix for mute records.
	MutePrefix = "mute:"

	// KicksPrefix is the Redis key prefix for spam-kick counters.
	KicksPrefix = "kicks:"

	// Escalating auto-mute durations.
	Mute15Min = 15 * time.Minute // 1st kick
	Mute1Hour = 1 * time.Hour    // 2nd kick
	Mute24Hour = 24 * time.Hour  // 3rd+ kick

	// KicksTTL is how long the kick counter lives. After 24h without new
	// kicks the counter resets to zero.
	KicksTTL = 24 * time.Hour

	// AutoMuteThreshold is the number of kicks within KicksTTL that
	// triggers an automatic mute.
	AutoMuteThreshold = 3
)

// Store manages mute records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a mute store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsMuted checks whether a principal is currently muted.
// Returns (muted, remaining, reason, error). Redis errors are returned so
// callers can decide how to handle them; the recommended policy is to fail
// open so a Redis outage does not silence legitimate chat.
func (s *Store) IsMuted(ctx context.Context, key string) (bool, time.Duration, string, error) {
	k := MutePrefix + key

	reason, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, k).Result()
	if err != nil {
		// The mute exists but the TTL is unreadable. Report muted rather
		// than swallowing the mute.
		return true, 0, reason, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, reason, nil
}

// Muted is the fail-open convenience form used on the chat hot path.
func (s *Store) Muted(ctx context.Context, key string) bool {
	muted, _, _, err := s.IsMuted(ctx, key)
	if err != nil {
		log.Printf("[mute] redis lookup error key=%s: %v (failing open)", key, err)
		return false
	}
	return muted
}

// Mute silences a principal for the given duration with a reason. The mute
// expires automatically.
func (s *Store) Mute(ctx context.Context, key string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, MutePrefix+key, reason, duration).Err()
}

// Unmute lifts a mute immediately.
func (s *Store) Unmute(ctx context.Context, key string) error {
	return s.client.Del(ctx, MutePrefix+key).Err()
}

// escalationDuration returns the auto-mute duration for a kick count.
func escalationDuration(kicks int) time.Duration {
	switch {
	case kicks <= 1:
		return Mute15Min
	case kicks == 2:
		return Mute1Hour
	default:
		return Mute24Hour
	}
}

// KickCount returns the current spam-kick counter for a principal. Returns 0
// if no kicks are recorded or the counter expired.
func (s *Store) KickCount(ctx context.Context, key string) (int, error) {
	val, err := s.client.Get(ctx, KicksPrefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// RecordKick increments the spam-kick counter for a principal. Once the
// counter reaches AutoMuteThreshold within the counter's 24h lifetime, an
// automatic mute is applied with escalating duration:
//
//	3rd kick  -> 15 minutes
//	4th kick  -> 1 hour (and so on per escalationDuration)
//
// Returns (muted, duration) describing whether an auto-mute was applied.
func (s *Store) RecordKick(ctx context.Context, key string, reason string) (bool, time.Duration, error) {
	k := KicksPrefix + key

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("mute: record kick incr: %w", err)
	}

	// Set TTL only on first increment so the 24h window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, k, KicksTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("mute: record kick expire: %w", err)
		}
	}

	if count >= AutoMuteThreshold {
		duration := escalationDuration(int(count) - AutoMuteThreshold + 1)
		if err := s.Mute(ctx, key, duration, reason); err != nil {
			return false, 0, fmt.Errorf("mute: record kick mute: %w", err)
		}
		return true, duration, nil
	}
	return false, 0, nil
}
