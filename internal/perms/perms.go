// Package perms implements per-user permission overrides layered above the
// host's role-based permission system. An override set holds explicit grants
// and denials; resolution is tri-state so that callers can fall through to
// the role defaults when the set has no opinion.
package perms

import (
	"encoding/json"
	"strings"
)

// NegationPrefix marks a permission name as an explicit denial when it is
// passed to Add (e.g. "!chat.speak").
const NegationPrefix = "!"

// Result is the outcome of resolving a single permission query.
type Result int

const (
	// Unhandled means the override set has no entry for the permission and
	// the caller should fall back to role-based resolution.
	Unhandled Result = iota

	// Granted means the permission is explicitly granted.
	Granted

	// Denied means the permission is explicitly denied, regardless of what
	// the role defaults would say.
	Denied
)

// String returns a human-readable name for the result.
func (r Result) String() string {
	switch r {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unhandled"
	}
}

// Entry is a single override: a permission name and whether it is negated.
type Entry struct {
	Name    string `json:"name"`
	Negated bool   `json:"negated,omitempty"`
}

// String renders the entry using the negation-prefix syntax.
func (e Entry) String() string {
	if e.Negated {
		return NegationPrefix + e.Name
	}
	return e.Name
}

// OverrideSet is an ordered collection of permission overrides. A permission
// name appears at most once; re-adding an existing name overwrites its
// negation flag in place (last write wins) without changing its position.
//
// The zero value is an empty set ready for use. Methods with a nil receiver
// behave as an empty set for reads, so callers holding an absent record can
// resolve without a nil check.
type OverrideSet struct {
	entries []Entry
}

// NewOverrideSet builds a set from permission names, honoring the negation
// prefix on each name.
func NewOverrideSet(names ...string) *OverrideSet {
	s := &OverrideSet{}
	for _, name := range names {
		s.Add(name)
	}
	return s
}

// Add inserts a permission by name, treating a leading "!" as a denial.
// Empty names are ignored.
func (s *OverrideSet) Add(name string) {
	if negated := strings.HasPrefix(name, NegationPrefix); negated {
		s.Deny(strings.TrimPrefix(name, NegationPrefix))
	} else {
		s.Grant(name)
	}
}

// Grant inserts or overwrites an entry as an explicit grant.
func (s *OverrideSet) Grant(name string) {
	s.put(name, false)
}

// Deny inserts or overwrites an entry as an explicit denial.
func (s *OverrideSet) Deny(name string) {
	s.put(name, true)
}

func (s *OverrideSet) put(name string, negated bool) {
	if name == "" {
		return
	}
	for i := range s.entries {
		if s.entries[i].Name == name {
			s.entries[i].Negated = negated
			return
		}
	}
	s.entries = append(s.entries, Entry{Name: name, Negated: negated})
}

// Revoke removes the entry for name entirely, returning the permission to
// the Unhandled state. It reports whether an entry was removed. Note the
// difference from Deny: a revoked permission defers to role defaults, a
// denied one never does. Revoke also accepts the negation-prefix form.
func (s *OverrideSet) Revoke(name string) bool {
	if s == nil {
		return false
	}
	name = strings.TrimPrefix(name, NegationPrefix)
	for i := range s.entries {
		if s.entries[i].Name == name {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Resolve answers a permission query from the overrides alone. It returns
// Unhandled when the set has no entry for name.
func (s *OverrideSet) Resolve(name string) Result {
	if s == nil {
		return Unhandled
	}
	for i := range s.entries {
		if s.entries[i].Name == name {
			if s.entries[i].Negated {
				return Denied
			}
			return Granted
		}
	}
	return Unhandled
}

// Len returns the number of entries in the set.
func (s *OverrideSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns a copy of the entries in insertion order.
func (s *OverrideSet) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clone returns a deep copy of the set.
func (s *OverrideSet) Clone() *OverrideSet {
	if s == nil {
		return &OverrideSet{}
	}
	return &OverrideSet{entries: s.Entries()}
}

// String joins the entries for display, e.g. "chat.speak, !chat.emote".
func (s *OverrideSet) String() string {
	if s == nil || len(s.entries) == 0 {
		return ""
	}
	parts := make([]string, len(s.entries))
	for i, e := range s.entries {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON encodes the set as a flat array of entries.
func (s *OverrideSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.entries)
}

// UnmarshalJSON decodes a flat array of entries, replacing the set contents.
func (s *OverrideSet) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	s.entries = nil
	for _, e := range entries {
		s.put(e.Name, e.Negated)
	}
	return nil
}
