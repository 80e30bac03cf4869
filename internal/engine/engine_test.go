package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gameforge/chatguard/internal/config"
	"github.com/gameforge/chatguard/internal/perms"
	"github.com/gameforge/chatguard/internal/profile"
	"github.com/gameforge/chatguard/internal/spam"
)

type fakeRoles struct {
	defaults RoleDefaults
	caps     map[string]bool
}

func (f *fakeRoles) Defaults(int) RoleDefaults { return f.defaults }
func (f *fakeRoles) HasPermission(_ int, name string) bool {
	return f.caps[name]
}

type fakeRecords map[int64]*profile.Record

func (f fakeRecords) Get(userID int64) *profile.Record { return f[userID] }

type fakeMutes map[string]bool

func (f fakeMutes) Muted(_ context.Context, key string) bool { return f[key] }

type fakeSink struct {
	lines  []string
	colors []profile.Color
	err    error
}

func (f *fakeSink) Broadcast(_ context.Context, message string, color profile.Color) error {
	if f.err != nil {
		return f.err
	}
	f.lines = append(f.lines, message)
	f.colors = append(f.colors, color)
	return nil
}

type testEnv struct {
	engine  *Engine
	roles   *fakeRoles
	records fakeRecords
	mutes   fakeMutes
	sink    *fakeSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	env := &testEnv{
		roles: &fakeRoles{
			defaults: RoleDefaults{Name: "member", Color: profile.Color{R: 255, G: 255, B: 255}},
			caps:     map[string]bool{CapSpeak: true},
		},
		records: fakeRecords{},
		mutes:   fakeMutes{},
		sink:    &fakeSink{},
	}
	env.engine = New(cfg, spam.NewScorer(cfg.ScorerConfig(), 256), env.roles, env.records, env.mutes, env.sink)
	return env
}

func alice() Principal {
	return Principal{Slot: 1, Name: "Alice", UserID: 10, Authenticated: true}
}

func TestHandleChatFormatsAndBroadcasts(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.engine.HandleChat(context.Background(), alice(), "Hello [c/FF0000:world]")
	if err != nil {
		t.Fatalf("HandleChat error: %v", err)
	}
	if res.Disposition != Delivered {
		t.Fatalf("disposition = %v, want delivered", res.Disposition)
	}
	want := "Alice: Hello world"
	if res.Broadcast != want {
		t.Errorf("broadcast = %q, want %q", res.Broadcast, want)
	}
	if len(env.sink.lines) != 1 || env.sink.lines[0] != want {
		t.Errorf("sink lines = %v, want [%q]", env.sink.lines, want)
	}
	if res.Color != env.roles.defaults.Color {
		t.Errorf("color = %v, want role default", res.Color)
	}
}

func TestHandleChatCosmeticFallbackPerField(t *testing.T) {
	env := newTestEnv(t)
	env.roles.defaults = RoleDefaults{
		Name:   "vip",
		Prefix: "[Role] ",
		Suffix: " (role)",
		Color:  profile.Color{B: 255},
	}
	rec := profile.NewRecord(10)
	rec.Cosmetics = profile.Cosmetics{Prefix: "[Mine] ", Color: "255,0,0"}
	env.records[10] = rec

	res, err := env.engine.HandleChat(context.Background(), alice(), "greetings everyone")
	if err != nil {
		t.Fatal(err)
	}
	// Prefix and color come from the record, the unset suffix falls back to
	// the role default.
	want := "[Mine] Alice (role): greetings everyone"
	if res.Broadcast != want {
		t.Errorf("broadcast = %q, want %q", res.Broadcast, want)
	}
	if res.Color != (profile.Color{R: 255}) {
		t.Errorf("color = %v, want 255,0,0", res.Color)
	}
}

func TestHandleChatBadStoredColorUsesRoleDefault(t *testing.T) {
	env := newTestEnv(t)
	env.roles.defaults.Color = profile.Color{G: 128}
	rec := profile.NewRecord(10)
	rec.Cosmetics.Color = "not-a-color"
	env.records[10] = rec

	res, err := env.engine.HandleChat(context.Background(), alice(), "checking colors here")
	if err != nil {
		t.Fatal(err)
	}
	if res.Color != (profile.Color{G: 128}) {
		t.Errorf("color = %v, want role default", res.Color)
	}
}

func TestHandleChatSpeakDeniedByOverride(t *testing.T) {
	env := newTestEnv(t)
	rec := profile.NewRecord(10)
	rec.Overrides.Deny(CapSpeak)
	env.records[10] = rec

	res, err := env.engine.HandleChat(context.Background(), alice(), "can anyone hear me")
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != Suppressed {
		t.Errorf("disposition = %v, want suppressed", res.Disposition)
	}
	if len(env.sink.lines) != 0 {
		t.Errorf("suppressed message was broadcast: %v", env.sink.lines)
	}
}

func TestHandleChatOverrideGrantBeatsRoleDenial(t *testing.T) {
	env := newTestEnv(t)
	env.roles.caps = map[string]bool{} // role denies everything
	rec := profile.NewRecord(10)
	rec.Overrides.Grant(CapSpeak)
	env.records[10] = rec

	res, err := env.engine.HandleChat(context.Background(), alice(), "override wins here")
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != Delivered {
		t.Errorf("disposition = %v, want delivered", res.Disposition)
	}
}

func TestHandleChatMutedSender(t *testing.T) {
	env := newTestEnv(t)
	env.mutes[alice().Key()] = true

	res, err := env.engine.HandleChat(context.Background(), alice(), "still muted probably")
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != Suppressed {
		t.Errorf("disposition = %v, want suppressed", res.Disposition)
	}
	if res.Notice != "You are muted." {
		t.Errorf("notice = %q, want mute notice", res.Notice)
	}
}

func TestHandleChatSpamWarn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Five distinct normal-weight messages bring the score to 5.0; the sixth
	// crosses the warn threshold.
	for i := 0; i < 5; i++ {
		res, err := env.engine.HandleChat(ctx, alice(), fmt.Sprintf("ordinary message number %d", i))
		if err != nil {
			t.Fatal(err)
		}
		if res.Disposition != Delivered {
			t.Fatalf("message %d disposition = %v, want delivered", i, res.Disposition)
		}
	}

	res, err := env.engine.HandleChat(ctx, alice(), "ordinary message number five")
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != Warned {
		t.Fatalf("disposition = %v, want warned", res.Disposition)
	}
	if res.Notice != config.Default().SpamWarningMessage {
		t.Errorf("notice = %q, want configured warning", res.Notice)
	}
	if len(env.sink.lines) != 5 {
		t.Errorf("warned message was broadcast, sink has %d lines", len(env.sink.lines))
	}
}

func TestHandleChatSpamKickOnRepeats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Scores: 1.0, 5.0, 9.0 (warn), 13.0 (kick).
	dispositions := []Disposition{Delivered, Delivered, Warned, Kicked}
	for i, want := range dispositions {
		res, err := env.engine.HandleChat(ctx, alice(), "buy gold at example dot com")
		if err != nil {
			t.Fatal(err)
		}
		if res.Disposition != want {
			t.Fatalf("message %d disposition = %v, want %v", i, res.Disposition, want)
		}
	}
}

func TestHandleChatBypassSkipsScoringAndSanitizing(t *testing.T) {
	env := newTestEnv(t)
	env.roles.caps[CapBypassAntispam] = true
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := env.engine.HandleChat(ctx, alice(), "SAME [c:TAGGED] LINE")
		if err != nil {
			t.Fatal(err)
		}
		if res.Disposition != Delivered {
			t.Fatalf("message %d disposition = %v, want delivered", i, res.Disposition)
		}
		if res.Broadcast != "Alice: SAME [c:TAGGED] LINE" {
			t.Fatalf("broadcast = %q, want markup and case preserved", res.Broadcast)
		}
	}
}

func TestHandleCommand(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.HandleCommand(ctx, alice(), "home", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != Delivered {
		t.Errorf("disposition = %v, want delivered", res.Disposition)
	}

	// Command weight is 1.0; eleven rapid commands reach 11.0 (allowed) and
	// the twelfth crosses the kick threshold.
	for i := 0; i < 10; i++ {
		if res, _ = env.engine.HandleCommand(ctx, alice(), "home", ""); res.Disposition == Kicked {
			t.Fatalf("kicked early at command %d", i)
		}
	}
	res, _ = env.engine.HandleCommand(ctx, alice(), "home", "")
	if res.Disposition != Kicked {
		t.Errorf("disposition = %v, want kicked after crossing threshold", res.Disposition)
	}
}

func TestEmote(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.engine.Emote(context.Background(), alice(), "waves at [c:everyone]")
	if err != nil {
		t.Fatal(err)
	}
	if res.Broadcast != "*Alice waves at everyone" {
		t.Errorf("broadcast = %q", res.Broadcast)
	}
	if res.Color != (profile.Color{R: 205, G: 133, B: 63}) {
		t.Errorf("color = %v, want emote color", res.Color)
	}

	if _, err := env.engine.Emote(context.Background(), alice(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank emote error = %v, want ErrEmptyMessage", err)
	}
}

func TestWhisperAndReply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := Principal{Slot: 2, Name: "Bob", UserID: 20, Authenticated: true}

	res, err := env.engine.Whisper(ctx, alice(), bob, "psst over here")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Directs) != 2 {
		t.Fatalf("directs = %d, want 2", len(res.Directs))
	}
	if res.Directs[0].TargetSlot != 2 || res.Directs[0].Message != "<From Alice> psst over here" {
		t.Errorf("target copy = %+v", res.Directs[0])
	}
	if res.Directs[1].TargetSlot != 1 || res.Directs[1].Message != "<To Bob> psst over here" {
		t.Errorf("sender echo = %+v", res.Directs[1])
	}
	if res.Broadcast != "" {
		t.Errorf("whisper must not broadcast, got %q", res.Broadcast)
	}

	// Bob can reply without naming Alice.
	res, err = env.engine.Reply(ctx, bob, "what is it")
	if err != nil {
		t.Fatalf("Reply error: %v", err)
	}
	if res.Directs[0].TargetSlot != 1 || res.Directs[0].Message != "<From Bob> what is it" {
		t.Errorf("reply copy = %+v", res.Directs[0])
	}
}

func TestReplyWithoutPriorWhisper(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.Reply(context.Background(), alice(), "hello?"); !errors.Is(err, ErrNoReplyTarget) {
		t.Errorf("error = %v, want ErrNoReplyTarget", err)
	}
}

func TestLeaveClearsReplyTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := Principal{Slot: 2, Name: "Bob", UserID: 20, Authenticated: true}

	if _, err := env.engine.Whisper(ctx, alice(), bob, "around still"); err != nil {
		t.Fatal(err)
	}
	env.engine.OnLeave(alice().Slot)

	// Bob's reply target pointed at the vacated slot and must be gone.
	if _, err := env.engine.Reply(ctx, bob, "hello?"); !errors.Is(err, ErrNoReplyTarget) {
		t.Errorf("error = %v, want ErrNoReplyTarget after counterpart left", err)
	}
}

func TestResolvePermission(t *testing.T) {
	env := newTestEnv(t)

	guest := Principal{Slot: 3, Name: "Guest"}
	if got := env.engine.ResolvePermission(guest, CapSpeak); got != perms.Unhandled {
		t.Errorf("unauthenticated = %v, want unhandled", got)
	}
	if got := env.engine.ResolvePermission(alice(), CapSpeak); got != perms.Unhandled {
		t.Errorf("no record = %v, want unhandled", got)
	}

	rec := profile.NewRecord(10)
	rec.Overrides.Grant("chat.emote")
	rec.Overrides.Deny("chat.whisper")
	env.records[10] = rec

	if got := env.engine.ResolvePermission(alice(), "chat.emote"); got != perms.Granted {
		t.Errorf("chat.emote = %v, want granted", got)
	}
	if got := env.engine.ResolvePermission(alice(), "chat.whisper"); got != perms.Denied {
		t.Errorf("chat.whisper = %v, want denied", got)
	}
}

func TestReload(t *testing.T) {
	env := newTestEnv(t)

	cfg := config.Default()
	cfg.ChatFormat = "<{name}> {message}"
	env.engine.Reload(cfg)

	res, err := env.engine.HandleChat(context.Background(), alice(), "after the reload")
	if err != nil {
		t.Fatal(err)
	}
	if res.Broadcast != "<Alice> after the reload" {
		t.Errorf("broadcast = %q, want reloaded format", res.Broadcast)
	}
}
