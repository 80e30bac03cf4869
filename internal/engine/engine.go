// Package engine wires the moderation pipeline together: spam scoring, the
// mute list, permission resolution, tag sanitizing, and chat formatting.
// Every inbound chat event flows through here and comes out as a Result
// describing what the host should do with it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gameforge/chatguard/internal/config"
	"github.com/gameforge/chatguard/internal/metrics"
	"github.com/gameforge/chatguard/internal/perms"
	"github.com/gameforge/chatguard/internal/profile"
	"github.com/gameforge/chatguard/internal/spam"
	"github.com/gameforge/chatguard/internal/tags"
)

// Capabilities consulted on the chat path. Role defaults may carry them;
// per-user overrides can grant or deny them individually.
const (
	// CapSpeak gates all chat output.
	CapSpeak = "chat.speak"

	// CapBypassAntispam exempts a sender from spam scoring entirely; the
	// sender's slot state is left untouched.
	CapBypassAntispam = "chat.bypass.antispam"
)

// Fixed colors for the emote and whisper channels.
var (
	emoteColor   = profile.Color{R: 205, G: 133, B: 63}
	whisperColor = profile.Color{R: 147, G: 112, B: 219}
)

var (
	// ErrEmptyMessage is returned when an emote, whisper, or reply carries
	// no text.
	ErrEmptyMessage = errors.New("engine: empty message")

	// ErrNoReplyTarget is returned by Reply when the sender has not
	// exchanged a whisper this session.
	ErrNoReplyTarget = errors.New("engine: no one to reply to")
)

// Principal identifies the sender of an event. Slot is the host connection
// slot; UserID is only meaningful when Authenticated is true.
type Principal struct {
	Slot          int
	Name          string
	UserID        int64
	Authenticated bool
}

// Key returns the stable identity used for mute records: the account for
// authenticated senders, the lowercased name otherwise.
func (p Principal) Key() string {
	if p.Authenticated {
		return fmt.Sprintf("user:%d", p.UserID)
	}
	return "name:" + strings.ToLower(p.Name)
}

// RoleDefaults carries the host role's chat appearance and is the fallback
// when a user has no cosmetic of their own.
type RoleDefaults struct {
	Name   string
	Prefix string
	Suffix string
	Color  profile.Color
}

// RoleProvider answers role-level questions about a slot. The gateway's
// roster implements it from the state the host streams with each event.
type RoleProvider interface {
	Defaults(slot int) RoleDefaults
	HasPermission(slot int, name string) bool
}

// Records looks up the per-user moderation record; nil means no record.
type Records interface {
	Get(userID int64) *profile.Record
}

// MuteList reports whether a principal is currently muted.
type MuteList interface {
	Muted(ctx context.Context, key string) bool
}

// BroadcastSink receives formatted chat lines for delivery.
type BroadcastSink interface {
	Broadcast(ctx context.Context, message string, color profile.Color) error
}

// Disposition is the engine's decision for one event.
type Disposition int

const (
	// Delivered means the event was (or may be) carried out: chat was
	// broadcast, a command may proceed.
	Delivered Disposition = iota

	// Suppressed means the event was silently dropped for everyone but the
	// sender, who receives Result.Notice if set.
	Suppressed

	// Warned means the event was dropped and the sender warned for spam.
	Warned

	// Kicked means the sender crossed the kick threshold and the host
	// should drop the connection.
	Kicked
)

// String returns a human-readable name for the disposition.
func (d Disposition) String() string {
	switch d {
	case Suppressed:
		return "suppressed"
	case Warned:
		return "warned"
	case Kicked:
		return "kicked"
	default:
		return "delivered"
	}
}

// Direct is a message for a single slot, used by whispers.
type Direct struct {
	TargetSlot int
	Message    string
	Color      profile.Color
}

// Result tells the caller what came of an event.
type Result struct {
	Disposition Disposition
	Broadcast   string        // formatted line sent to everyone, if any
	Color       profile.Color // broadcast color
	Directs     []Direct      // per-slot deliveries (whispers)
	Notice      string        // message for the sender on Suppressed/Warned
	KickReason  string        // reason for the host's kick message
}

// Engine is the moderation pipeline. All methods are safe for concurrent use.
type Engine struct {
	cfgMu sync.RWMutex
	cfg   config.Config

	scorer  *spam.Scorer
	roles   RoleProvider
	records Records
	mutes   MuteList
	sink    BroadcastSink

	whisperMu   sync.Mutex
	lastWhisper map[int]Principal // slot -> most recent whisper counterpart
}

// New assembles an engine. The scorer is owned by the engine thereafter;
// Reload keeps its parameters in sync with the config.
func New(cfg config.Config, scorer *spam.Scorer, roles RoleProvider, records Records, mutes MuteList, sink BroadcastSink) *Engine {
	return &Engine{
		cfg:         cfg,
		scorer:      scorer,
		roles:       roles,
		records:     records,
		mutes:       mutes,
		sink:        sink,
		lastWhisper: make(map[int]Principal),
	}
}

func (e *Engine) config() config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Reload swaps in a new configuration, updating the scorer in place. Slot
// scores survive the reload.
func (e *Engine) Reload(cfg config.Config) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
	e.scorer.SetConfig(cfg.ScorerConfig())
	log.Printf("[engine] configuration reloaded")
}

// Config returns the current configuration snapshot.
func (e *Engine) Config() config.Config {
	return e.config()
}

// OnJoin resets moderation state for a slot when a connection occupies it.
func (e *Engine) OnJoin(slot int) {
	e.scorer.Reset(slot)
	e.clearWhisperState(slot)
}

// OnLeave resets moderation state when a slot is vacated.
func (e *Engine) OnLeave(slot int) {
	e.scorer.Reset(slot)
	e.clearWhisperState(slot)
}

// clearWhisperState drops the slot's reply target and any targets pointing
// at it, so a reply never reaches whoever takes over the slot next.
func (e *Engine) clearWhisperState(slot int) {
	e.whisperMu.Lock()
	delete(e.lastWhisper, slot)
	for s, p := range e.lastWhisper {
		if p.Slot == slot {
			delete(e.lastWhisper, s)
		}
	}
	e.whisperMu.Unlock()
}

// ResolvePermission answers a permission query from the sender's override
// set alone. Unauthenticated senders and users without a record resolve to
// Unhandled.
func (e *Engine) ResolvePermission(p Principal, name string) perms.Result {
	if !p.Authenticated {
		return perms.Unhandled
	}
	rec := e.records.Get(p.UserID)
	if rec == nil {
		return perms.Unhandled
	}
	return rec.Overrides.Resolve(name)
}

// HasPermission layers the override set above the role defaults: an explicit
// grant or denial wins, otherwise the role decides.
func (e *Engine) HasPermission(p Principal, name string) bool {
	switch e.ResolvePermission(p, name) {
	case perms.Granted:
		return true
	case perms.Denied:
		return false
	default:
		return e.roles.HasPermission(p.Slot, name)
	}
}

// HandleChat runs a chat message through the full pipeline and, when it
// survives, formats and broadcasts it.
func (e *Engine) HandleChat(ctx context.Context, p Principal, text string) (Result, error) {
	start := time.Now()
	defer func() { metrics.ChatLatency.Observe(time.Since(start).Seconds()) }()
	metrics.EventsTotal.WithLabelValues("chat").Inc()

	cfg := e.config()
	bypass := e.HasPermission(p, CapBypassAntispam)

	if !bypass {
		verdict, folded := e.scorer.ScoreMessage(p.Slot, text)
		metrics.VerdictsTotal.WithLabelValues(verdict.String()).Inc()
		switch verdict {
		case spam.Kick:
			metrics.MessagesSuppressed.Inc()
			return Result{Disposition: Kicked, KickReason: cfg.SpamKickReason}, nil
		case spam.Warn:
			metrics.MessagesSuppressed.Inc()
			return Result{Disposition: Warned, Notice: cfg.SpamWarningMessage}, nil
		}
		// Bypassed senders keep their markup verbatim; everyone else is
		// sanitized along with the case fold.
		text = sanitize(folded)
	}

	if res, blocked := e.speakGate(ctx, p); blocked {
		return res, nil
	}

	line, color := e.formatChat(cfg, p, text)

	if err := e.sink.Broadcast(ctx, line, color); err != nil {
		return Result{}, fmt.Errorf("engine: broadcast: %w", err)
	}
	metrics.MessagesBroadcast.Inc()
	log.Printf("[engine] chat slot=%d %s", p.Slot, line)

	return Result{Disposition: Delivered, Broadcast: line, Color: color}, nil
}

// HandleCommand scores a tracked command invocation. The host executes the
// command itself; the engine only decides whether the sender earned a
// warning or a kick by issuing it.
func (e *Engine) HandleCommand(ctx context.Context, p Principal, name, arg string) (Result, error) {
	metrics.EventsTotal.WithLabelValues("command").Inc()

	cfg := e.config()
	if e.HasPermission(p, CapBypassAntispam) {
		return Result{Disposition: Delivered}, nil
	}

	verdict, _ := e.scorer.ScoreCommand(p.Slot, name, arg)
	metrics.VerdictsTotal.WithLabelValues(verdict.String()).Inc()
	switch verdict {
	case spam.Kick:
		return Result{Disposition: Kicked, KickReason: cfg.SpamKickReason}, nil
	case spam.Warn:
		return Result{Disposition: Warned, Notice: cfg.SpamWarningMessage}, nil
	}
	return Result{Disposition: Delivered}, nil
}

// Emote broadcasts "*Name does something" in the emote color.
func (e *Engine) Emote(ctx context.Context, p Principal, text string) (Result, error) {
	metrics.EventsTotal.WithLabelValues("emote").Inc()

	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyMessage
	}

	cfg := e.config()
	if !e.HasPermission(p, CapBypassAntispam) {
		verdict, folded := e.scorer.ScoreCommand(p.Slot, "me", text)
		metrics.VerdictsTotal.WithLabelValues(verdict.String()).Inc()
		switch verdict {
		case spam.Kick:
			return Result{Disposition: Kicked, KickReason: cfg.SpamKickReason}, nil
		case spam.Warn:
			return Result{Disposition: Warned, Notice: cfg.SpamWarningMessage}, nil
		}
		text = sanitize(folded)
	}

	if res, blocked := e.speakGate(ctx, p); blocked {
		return res, nil
	}

	line := fmt.Sprintf("*%s %s", p.Name, text)
	if err := e.sink.Broadcast(ctx, line, emoteColor); err != nil {
		return Result{}, fmt.Errorf("engine: broadcast emote: %w", err)
	}
	metrics.MessagesBroadcast.Inc()

	return Result{Disposition: Delivered, Broadcast: line, Color: emoteColor}, nil
}

// Whisper delivers a private message to the target slot and echoes it back
// to the sender. Both parties become each other's reply target.
func (e *Engine) Whisper(ctx context.Context, from, to Principal, text string) (Result, error) {
	metrics.EventsTotal.WithLabelValues("whisper").Inc()

	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyMessage
	}

	cfg := e.config()
	if !e.HasPermission(from, CapBypassAntispam) {
		verdict, folded := e.scorer.ScoreCommand(from.Slot, "whisper", text)
		metrics.VerdictsTotal.WithLabelValues(verdict.String()).Inc()
		switch verdict {
		case spam.Kick:
			return Result{Disposition: Kicked, KickReason: cfg.SpamKickReason}, nil
		case spam.Warn:
			return Result{Disposition: Warned, Notice: cfg.SpamWarningMessage}, nil
		}
		text = sanitize(folded)
	}

	if res, blocked := e.speakGate(ctx, from); blocked {
		return res, nil
	}

	e.whisperMu.Lock()
	e.lastWhisper[from.Slot] = to
	e.lastWhisper[to.Slot] = from
	e.whisperMu.Unlock()

	return Result{
		Disposition: Delivered,
		Directs: []Direct{
			{TargetSlot: to.Slot, Message: fmt.Sprintf("<From %s> %s", from.Name, text), Color: whisperColor},
			{TargetSlot: from.Slot, Message: fmt.Sprintf("<To %s> %s", to.Name, text), Color: whisperColor},
		},
	}, nil
}

// Reply whispers back to the sender's most recent whisper counterpart.
func (e *Engine) Reply(ctx context.Context, p Principal, text string) (Result, error) {
	e.whisperMu.Lock()
	target, ok := e.lastWhisper[p.Slot]
	e.whisperMu.Unlock()
	if !ok {
		return Result{}, ErrNoReplyTarget
	}
	return e.Whisper(ctx, p, target, text)
}

// sanitize strips markup, counting messages that actually carried any.
func sanitize(text string) string {
	clean := tags.Strip(text)
	if clean != text {
		metrics.TagsStripped.Inc()
	}
	return clean
}

// speakGate enforces the speak permission and the mute list. It reports
// blocked=true with the suppression result when the sender may not talk.
func (e *Engine) speakGate(ctx context.Context, p Principal) (Result, bool) {
	if !e.HasPermission(p, CapSpeak) {
		metrics.MessagesSuppressed.Inc()
		return Result{Disposition: Suppressed}, true
	}
	if e.mutes.Muted(ctx, p.Key()) {
		metrics.MessagesSuppressed.Inc()
		return Result{Disposition: Suppressed, Notice: "You are muted."}, true
	}
	return Result{}, false
}

// formatChat renders the broadcast line from the config template and picks
// the color, falling back per field from the user's record to the role
// defaults.
func (e *Engine) formatChat(cfg config.Config, p Principal, message string) (string, profile.Color) {
	defaults := e.roles.Defaults(p.Slot)
	prefix, suffix := defaults.Prefix, defaults.Suffix
	color := defaults.Color

	if p.Authenticated {
		if rec := e.records.Get(p.UserID); rec != nil {
			if rec.Cosmetics.Prefix != "" {
				prefix = rec.Cosmetics.Prefix
			}
			if rec.Cosmetics.Suffix != "" {
				suffix = rec.Cosmetics.Suffix
			}
			if rec.Cosmetics.Color != "" {
				if c, err := profile.ParseColor(rec.Cosmetics.Color); err == nil {
					color = c
				} else {
					log.Printf("[engine] user %d: bad stored color %q: %v", p.UserID, rec.Cosmetics.Color, err)
				}
			}
		}
	}

	line := strings.NewReplacer(
		"{group}", defaults.Name,
		"{prefix}", prefix,
		"{name}", p.Name,
		"{suffix}", suffix,
		"{message}", message,
	).Replace(cfg.ChatFormat)

	return line, color
}
