package gateway

import (
	"context"
	"testing"

	"github.com/gameforge/chatguard/internal/profile"
	"github.com/gameforge/chatguard/internal/protocol"
)

func TestRosterObserve(t *testing.T) {
	r := NewRoster()

	p := r.Observe(protocol.PlayerRef{
		Slot:          4,
		Name:          "Alice",
		UserID:        10,
		Authenticated: true,
		Group: protocol.GroupInfo{
			Name:        "vip",
			Prefix:      "[VIP] ",
			Color:       "0,255,0",
			Permissions: []string{"chat.speak"},
		},
	})

	if p.Slot != 4 || p.Name != "Alice" || !p.Authenticated {
		t.Errorf("principal = %+v", p)
	}

	d := r.Defaults(4)
	if d.Name != "vip" || d.Prefix != "[VIP] " || d.Color != (profile.Color{G: 255}) {
		t.Errorf("defaults = %+v", d)
	}
	if !r.HasPermission(4, "chat.speak") {
		t.Error("role permission lost")
	}
	if r.HasPermission(4, "chat.bypass.antispam") {
		t.Error("unlisted permission granted")
	}
}

func TestRosterObserveReplacesState(t *testing.T) {
	r := NewRoster()
	ref := protocol.PlayerRef{Slot: 1, Name: "Bob", Group: protocol.GroupInfo{Permissions: []string{"chat.speak"}}}
	r.Observe(ref)

	// The host demoted Bob; the next event carries the new role.
	ref.Group.Permissions = nil
	r.Observe(ref)

	if r.HasPermission(1, "chat.speak") {
		t.Error("stale role permission survived re-observation")
	}
}

func TestRosterUnknownSlotDefaults(t *testing.T) {
	r := NewRoster()

	d := r.Defaults(200)
	if d.Color != (profile.Color{R: 255, G: 255, B: 255}) {
		t.Errorf("unknown slot color = %v, want white", d.Color)
	}
	if r.HasPermission(200, "chat.speak") {
		t.Error("unknown slot should hold no permissions")
	}
}

func TestRosterBadRoleColorFallsBack(t *testing.T) {
	r := NewRoster()
	r.Observe(protocol.PlayerRef{Slot: 2, Name: "Eve", Group: protocol.GroupInfo{Color: "bogus"}})

	if r.Defaults(2).Color != (profile.Color{R: 255, G: 255, B: 255}) {
		t.Errorf("color = %v, want white fallback", r.Defaults(2).Color)
	}
}

func TestRosterFindUser(t *testing.T) {
	r := NewRoster()
	r.Observe(protocol.PlayerRef{Slot: 1, Name: "Alice", UserID: 10, Authenticated: true, Group: protocol.GroupInfo{}})
	r.Observe(protocol.PlayerRef{Slot: 2, Name: "Guest", Group: protocol.GroupInfo{}})

	account, err := r.FindUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindUser error: %v", err)
	}
	if account.UserID != 10 {
		t.Errorf("account = %+v", account)
	}

	if _, err := r.FindUser(context.Background(), "guest"); err == nil {
		t.Error("unauthenticated player must not resolve")
	}

	r.Remove(1)
	if _, err := r.FindUser(context.Background(), "alice"); err == nil {
		t.Error("removed player must not resolve")
	}
}
