// Package spam implements the per-connection-slot abuse scorer. Every chat
// message and tracked command from a slot adds a weight to a rolling score;
// the score decays by resetting whenever the slot has been quiet for longer
// than the configured window. Crossing the warn threshold suppresses the
// message and restarts the window; crossing the kick threshold tells the
// caller to drop the connection.
package spam

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// Verdict is the scoring outcome for a single event.
type Verdict int

const (
	// Allow lets the event proceed to sanitizing and broadcast.
	Allow Verdict = iota

	// Warn suppresses the event and surfaces the configured warning.
	Warn

	// Kick tells the caller to remove the connection; the slot state is
	// discarded when the slot is reset on disconnect.
	Kick
)

// String returns a human-readable name for the verdict.
func (v Verdict) String() string {
	switch v {
	case Warn:
		return "warn"
	case Kick:
		return "kick"
	default:
		return "allow"
	}
}

// textCommands is the whisper/emote command family whose argument text runs
// the full message classification instead of the flat command weight.
var textCommands = map[string]bool{
	"me":      true,
	"r":       true,
	"reply":   true,
	"tell":    true,
	"w":       true,
	"whisper": true,
}

// IsTextCommand reports whether a command's argument is classified like a
// chat message when scored.
func IsTextCommand(name string) bool {
	return textCommands[strings.ToLower(name)]
}

// Config holds the scoring weights and thresholds.
type Config struct {
	Window        time.Duration // quiet time after which the score resets
	RepeatWeight  float64       // message identical to the previous one
	CapsWeight    float64       // uppercase ratio at or above CapsRatio
	ShortWeight   float64       // trimmed length at or below ShortLength
	NormalWeight  float64       // anything else
	CommandWeight float64       // tracked non-text commands
	CapsRatio     float64       // uppercase runes / total runes
	ShortLength   int           // trimmed rune count cutoff
	WarnThreshold float64       // score above this warns
	KickThreshold float64       // score above this kicks
}

// DefaultConfig returns the stock scoring parameters.
func DefaultConfig() Config {
	return Config{
		Window:        5 * time.Second,
		RepeatWeight:  4.0,
		CapsWeight:    2.0,
		ShortWeight:   1.5,
		NormalWeight:  1.0,
		CommandWeight: 1.0,
		CapsRatio:     0.6,
		ShortLength:   4,
		WarnThreshold: 5.0,
		KickThreshold: 11.0,
	}
}

// slotState is the mutable scoring state for one connection slot. Each slot
// has its own lock; events for distinct slots never contend.
type slotState struct {
	mu          sync.Mutex
	windowStart time.Time
	score       float64
	lastMsg     string
}

// Scorer tracks abuse scores for a fixed range of connection slots. The slot
// table is allocated once for the host's maximum connection count; access is
// O(1) and slot-isolated.
type Scorer struct {
	cfgMu sync.RWMutex
	cfg   Config

	slots []slotState
	now   func() time.Time // swapped out in tests
}

// NewScorer creates a scorer for slots [0, maxSlots).
func NewScorer(cfg Config, maxSlots int) *Scorer {
	return &Scorer{
		cfg:   cfg,
		slots: make([]slotState, maxSlots),
		now:   time.Now,
	}
}

// SetConfig replaces the scoring parameters. Existing slot scores are kept.
func (s *Scorer) SetConfig(cfg Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}

func (s *Scorer) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Reset clears a slot's scoring state. Called when a connection occupies or
// vacates the slot.
func (s *Scorer) Reset(slot int) {
	if slot < 0 || slot >= len(s.slots) {
		return
	}
	st := &s.slots[slot]
	st.mu.Lock()
	st.windowStart = time.Time{}
	st.score = 0
	st.lastMsg = ""
	st.mu.Unlock()
}

// ScoreMessage scores a chat message from the given slot. It returns the
// verdict and the text to pass downstream, which is folded to lowercase when
// the message tripped the caps classification.
//
// Callers must not invoke the scorer for connections holding the antispam
// bypass capability; bypassed traffic leaves slot state untouched.
func (s *Scorer) ScoreMessage(slot int, text string) (Verdict, string) {
	if slot < 0 || slot >= len(s.slots) {
		return Allow, text
	}
	cfg := s.config()
	st := &s.slots[slot]

	st.mu.Lock()
	defer st.mu.Unlock()

	s.renewWindow(st, cfg)
	text = s.classify(st, cfg, text)
	return s.verdict(st, cfg), text
}

// ScoreCommand scores a tracked command. Whisper-family commands classify
// their argument text exactly like a chat message; any other command adds
// the flat command weight. The returned text is the (possibly case-folded)
// argument.
func (s *Scorer) ScoreCommand(slot int, name, arg string) (Verdict, string) {
	if slot < 0 || slot >= len(s.slots) {
		return Allow, arg
	}
	cfg := s.config()
	st := &s.slots[slot]

	st.mu.Lock()
	defer st.mu.Unlock()

	s.renewWindow(st, cfg)
	if IsTextCommand(name) {
		arg = s.classify(st, cfg, arg)
	} else {
		st.score += cfg.CommandWeight
	}
	return s.verdict(st, cfg), arg
}

// renewWindow resets the score if the slot has been idle longer than the
// window. The window is sliding-renewed: it only restarts on idle expiry,
// never on a fixed schedule.
func (s *Scorer) renewWindow(st *slotState, cfg Config) {
	now := s.now()
	if now.Sub(st.windowStart) > cfg.Window {
		st.score = 0
		st.windowStart = now
	}
}

// classify adds the weight for one message, first match wins:
// repeat, caps, short, normal. A caps hit folds the text to lowercase for
// everything downstream, and the folded form is what repeat detection
// compares against next time.
func (s *Scorer) classify(st *slotState, cfg Config, text string) string {
	if text == st.lastMsg {
		st.score += cfg.RepeatWeight
		return text
	}

	if upperRatio(text) >= cfg.CapsRatio {
		st.score += cfg.CapsWeight
		text = strings.ToLower(text)
	} else if utf8.RuneCountInString(strings.TrimSpace(text)) <= cfg.ShortLength {
		st.score += cfg.ShortWeight
	} else {
		st.score += cfg.NormalWeight
	}

	st.lastMsg = text
	return text
}

// verdict compares the accumulated score against the thresholds. A warning
// restarts the window so that continued spam keeps the penalty alive.
func (s *Scorer) verdict(st *slotState, cfg Config) Verdict {
	if st.score > cfg.KickThreshold {
		return Kick
	}
	if st.score > cfg.WarnThreshold {
		st.windowStart = s.now()
		return Warn
	}
	return Allow
}

// upperRatio returns uppercase runes over total runes. The denominator is
// the raw, untrimmed rune count — punctuation and spaces dilute the ratio,
// matching the host's historical behavior. Empty text returns 0 so the
// caller falls through to the short classification.
func upperRatio(text string) float64 {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return 0
	}
	upper := 0
	for _, r := range text {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper) / float64(total)
}
