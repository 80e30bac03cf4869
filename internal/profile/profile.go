// Package profile defines the persistent per-user moderation record: chat
// cosmetics (color, prefix, suffix) and the user's permission override set.
package profile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gameforge/chatguard/internal/perms"
)

// Color is an RGB chat color.
type Color struct {
	R, G, B uint8
}

// String serializes the color in the "r,g,b" wire form.
func (c Color) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// ParseColor parses a "r,g,b" triple where each component is a decimal byte.
func ParseColor(s string) (Color, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Color{}, fmt.Errorf("profile: invalid color %q: want r,g,b", s)
	}
	var vals [3]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return Color{}, fmt.Errorf("profile: invalid color component %q: must be 0-255", p)
		}
		vals[i] = uint8(n)
	}
	return Color{R: vals[0], G: vals[1], B: vals[2]}, nil
}

// Cosmetics holds a user's chat appearance overrides. An empty field means
// "defer to the role default" — it never forces a blank value.
type Cosmetics struct {
	Color  string `json:"color,omitempty"`  // "r,g,b" triple
	Prefix string `json:"prefix,omitempty"`
	Suffix string `json:"suffix,omitempty"`
}

// IsZero reports whether every cosmetic field is absent.
func (c Cosmetics) IsZero() bool {
	return c == Cosmetics{}
}

// Record is the aggregate moderation state persisted for a registered user.
type Record struct {
	UserID    int64              `json:"user_id"`
	Cosmetics Cosmetics          `json:"cosmetics"`
	Overrides *perms.OverrideSet `json:"overrides"`
}

// NewRecord creates an empty record for a user.
func NewRecord(userID int64) *Record {
	return &Record{UserID: userID, Overrides: perms.NewOverrideSet()}
}

// Clone returns a deep copy. Cached records are treated as immutable by
// readers, so mutators clone, modify, and save the copy.
func (r *Record) Clone() *Record {
	return &Record{
		UserID:    r.UserID,
		Cosmetics: r.Cosmetics,
		Overrides: r.Overrides.Clone(),
	}
}
