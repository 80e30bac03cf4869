package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gameforge/chatguard/internal/admin"
	"github.com/gameforge/chatguard/internal/engine"
	"github.com/gameforge/chatguard/internal/profile"
	"github.com/gameforge/chatguard/internal/protocol"
)

// Roster is the slot-indexed registry of players currently on the host. The
// host embeds player state in every event; the roster keeps the latest copy
// so role defaults and permissions resolve without a round trip.
//
// It implements engine.RoleProvider and admin.Directory.
type Roster struct {
	mu    sync.RWMutex
	slots map[int]*rosterEntry
}

type rosterEntry struct {
	principal engine.Principal
	defaults  engine.RoleDefaults
	caps      map[string]bool
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{slots: make(map[int]*rosterEntry)}
}

// Observe records the player state carried by an event and returns the
// principal for the moderation pipeline.
func (r *Roster) Observe(ref protocol.PlayerRef) engine.Principal {
	p := engine.Principal{
		Slot:          ref.Slot,
		Name:          ref.Name,
		UserID:        ref.UserID,
		Authenticated: ref.Authenticated,
	}

	defaults := engine.RoleDefaults{
		Name:   ref.Group.Name,
		Prefix: ref.Group.Prefix,
		Suffix: ref.Group.Suffix,
		Color:  profile.Color{R: 255, G: 255, B: 255},
	}
	if ref.Group.Color != "" {
		if c, err := profile.ParseColor(ref.Group.Color); err == nil {
			defaults.Color = c
		} else {
			log.Printf("[gateway] slot %d: bad role color %q: %v", ref.Slot, ref.Group.Color, err)
		}
	}

	caps := make(map[string]bool, len(ref.Group.Permissions))
	for _, name := range ref.Group.Permissions {
		caps[name] = true
	}

	r.mu.Lock()
	r.slots[ref.Slot] = &rosterEntry{principal: p, defaults: defaults, caps: caps}
	r.mu.Unlock()
	return p
}

// Remove drops the entry for a vacated slot.
func (r *Roster) Remove(slot int) {
	r.mu.Lock()
	delete(r.slots, slot)
	r.mu.Unlock()
}

// Count returns the number of occupied slots.
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Defaults returns the role appearance for a slot. An unknown slot gets the
// zero role with white chat.
func (r *Roster) Defaults(slot int) engine.RoleDefaults {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.slots[slot]; ok {
		return e.defaults
	}
	return engine.RoleDefaults{Color: profile.Color{R: 255, G: 255, B: 255}}
}

// HasPermission reports whether the slot's role carries the permission.
func (r *Roster) HasPermission(slot int, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.slots[slot]; ok {
		return e.caps[name]
	}
	return false
}

// FindUser resolves an account name to an online, authenticated player.
// Matching is case-insensitive.
func (r *Roster) FindUser(_ context.Context, name string) (admin.UserAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.slots {
		if e.principal.Authenticated && strings.EqualFold(e.principal.Name, name) {
			return admin.UserAccount{UserID: e.principal.UserID, Name: e.principal.Name}, nil
		}
	}
	return admin.UserAccount{}, fmt.Errorf("gateway: no online user named %q", name)
}
