package profile

import "testing"

func TestParseColor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Color
		wantErr bool
	}{
		{"white", "255,255,255", Color{255, 255, 255}, false},
		{"black", "0,0,0", Color{0, 0, 0}, false},
		{"mixed", "205,133,63", Color{205, 133, 63}, false},
		{"spaces tolerated", "10, 20, 30", Color{10, 20, 30}, false},
		{"too few components", "255,255", Color{}, true},
		{"too many components", "1,2,3,4", Color{}, true},
		{"component out of range", "256,0,0", Color{}, true},
		{"negative component", "-1,0,0", Color{}, true},
		{"not a number", "red,green,blue", Color{}, true},
		{"empty", "", Color{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseColor(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseColor(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseColor(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestColorString_RoundTrip(t *testing.T) {
	c := Color{205, 133, 63}
	parsed, err := ParseColor(c.String())
	if err != nil {
		t.Fatalf("ParseColor(%q) error: %v", c.String(), err)
	}
	if parsed != c {
		t.Errorf("round trip = %v, want %v", parsed, c)
	}
}

func TestRecordClone_Independent(t *testing.T) {
	rec := NewRecord(42)
	rec.Cosmetics.Prefix = "[VIP] "
	rec.Overrides.Grant("chat.speak")

	clone := rec.Clone()
	clone.Cosmetics.Prefix = "[MOD] "
	clone.Overrides.Deny("chat.speak")

	if rec.Cosmetics.Prefix != "[VIP] " {
		t.Errorf("clone mutated original prefix: %q", rec.Cosmetics.Prefix)
	}
	if got := rec.Overrides.Resolve("chat.speak"); got.String() != "granted" {
		t.Errorf("clone mutated original overrides: %v", got)
	}
}

func TestCosmeticsIsZero(t *testing.T) {
	if !(Cosmetics{}).IsZero() {
		t.Error("empty Cosmetics should be zero")
	}
	if (Cosmetics{Prefix: "x"}).IsZero() {
		t.Error("Cosmetics with prefix should not be zero")
	}
}
