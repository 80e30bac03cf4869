// Package admin implements the privileged operations on moderation records:
// editing chat cosmetics, managing permission overrides, and purging deleted
// accounts. Every operation validates its input and the actor's capability
// before touching the record, so a failed call never leaves a partial write.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/gameforge/chatguard/internal/config"
	"github.com/gameforge/chatguard/internal/engine"
	"github.com/gameforge/chatguard/internal/metrics"
	"github.com/gameforge/chatguard/internal/perms"
	"github.com/gameforge/chatguard/internal/profile"
)

// Capabilities gating admin operations.
const (
	// CapSetOther allows editing another account's cosmetics; everyone may
	// edit their own.
	CapSetOther = "chatdata.setother"

	// CapResetAll allows clearing every cosmetic on an account at once.
	CapResetAll = "chatdata.resetall"

	// Per-field removal capabilities.
	CapRemoveColor  = "chatdata.remove.color"
	CapRemovePrefix = "chatdata.remove.prefix"
	CapRemoveSuffix = "chatdata.remove.suffix"

	// CapManagePerms allows granting, denying, revoking, and listing
	// permission overrides.
	CapManagePerms = "chatdata.permissions"
)

var (
	// ErrInvalidInput marks a rejected argument (bad color, oversized
	// prefix, unknown field).
	ErrInvalidInput = errors.New("admin: invalid input")

	// ErrNotFound marks an unknown target account or absent record.
	ErrNotFound = errors.New("admin: not found")

	// ErrPermissionDenied marks an actor lacking the required capability.
	ErrPermissionDenied = errors.New("admin: permission denied")
)

// UserAccount is a resolved target account.
type UserAccount struct {
	UserID int64
	Name   string
}

// Directory resolves account names to accounts. The gateway's roster serves
// online players; offline resolution is intentionally out of scope.
type Directory interface {
	FindUser(ctx context.Context, name string) (UserAccount, error)
}

// Store is the record storage the service mutates, satisfied by the
// write-through cache.
type Store interface {
	Get(userID int64) *profile.Record
	Save(ctx context.Context, rec *profile.Record) error
	Delete(ctx context.Context, userID int64) error
}

// PermissionChecker answers capability queries for the acting principal.
type PermissionChecker interface {
	HasPermission(p engine.Principal, name string) bool
}

// ConfigSource yields the current configuration snapshot.
type ConfigSource interface {
	Config() config.Config
}

// Service carries out admin operations.
type Service struct {
	checker PermissionChecker
	cfg     ConfigSource
	dir     Directory
	store   Store
}

// New assembles an admin service.
func New(checker PermissionChecker, cfg ConfigSource, dir Directory, store Store) *Service {
	return &Service{checker: checker, cfg: cfg, dir: dir, store: store}
}

// resolveTarget finds the account an operation applies to. An empty target
// means the actor's own account; editing anyone else requires CapSetOther.
func (s *Service) resolveTarget(ctx context.Context, actor engine.Principal, target string) (UserAccount, error) {
	if target == "" {
		if !actor.Authenticated {
			return UserAccount{}, fmt.Errorf("%w: you must be logged in", ErrPermissionDenied)
		}
		return UserAccount{UserID: actor.UserID, Name: actor.Name}, nil
	}

	account, err := s.dir.FindUser(ctx, target)
	if err != nil {
		return UserAccount{}, fmt.Errorf("%w: no account named %q", ErrNotFound, target)
	}
	if account.UserID != actor.UserID && !s.checker.HasPermission(actor, CapSetOther) {
		return UserAccount{}, fmt.Errorf("%w: cannot modify other accounts", ErrPermissionDenied)
	}
	return account, nil
}

// mutate applies fn to a clone of the target's record and saves the result.
// A missing record is created on the fly.
func (s *Service) mutate(ctx context.Context, userID int64, fn func(*profile.Record)) error {
	rec := s.store.Get(userID)
	if rec == nil {
		rec = profile.NewRecord(userID)
	} else {
		rec = rec.Clone()
	}
	fn(rec)
	return s.store.Save(ctx, rec)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// SetColor stores a chat color override on the target account.
func (s *Service) SetColor(ctx context.Context, actor engine.Principal, target, value string) (err error) {
	defer func() { metrics.AdminOps.WithLabelValues("set_color", outcome(err)).Inc() }()

	if _, perr := profile.ParseColor(value); perr != nil {
		return fmt.Errorf("%w: color must be \"r,g,b\" with values 0-255", ErrInvalidInput)
	}
	account, err := s.resolveTarget(ctx, actor, target)
	if err != nil {
		return err
	}
	return s.mutate(ctx, account.UserID, func(rec *profile.Record) {
		rec.Cosmetics.Color = value
	})
}

// SetPrefix stores a chat prefix override on the target account.
func (s *Service) SetPrefix(ctx context.Context, actor engine.Principal, target, value string) (err error) {
	defer func() { metrics.AdminOps.WithLabelValues("set_prefix", outcome(err)).Inc() }()

	max := s.cfg.Config().MaxPrefixLength
	if utf8.RuneCountInString(value) > max {
		return fmt.Errorf("%w: prefix longer than %d characters", ErrInvalidInput, max)
	}
	account, err := s.resolveTarget(ctx, actor, target)
	if err != nil {
		return err
	}
	return s.mutate(ctx, account.UserID, func(rec *profile.Record) {
		rec.Cosmetics.Prefix = value
	})
}

// SetSuffix stores a chat suffix override on the target account.
func (s *Service) SetSuffix(ctx context.Context, actor engine.Principal, target, value string) (err error) {
	defer func() { metrics.AdminOps.WithLabelValues("set_suffix", outcome(err)).Inc() }()

	max := s.cfg.Config().MaxSuffixLength
	if utf8.RuneCountInString(value) > max {
		return fmt.Errorf("%w: suffix longer than %d characters", ErrInvalidInput, max)
	}
	account, err := s.resolveTarget(ctx, actor, target)
	if err != nil {
		return err
	}
	return s.mutate(ctx, account.UserID, func(rec *profile.Record) {
		rec.Cosmetics.Suffix = value
	})
}

// Read returns the target account's stored cosmetics as display lines.
// Unset fields show as role defaults.
func (s *Service) Read(ctx context.Context, actor engine.Principal, target string) (lines []string, err error) {
	defer func() { metrics.AdminOps.WithLabelValues("read", outcome(err)).Inc() }()

	account, err := s.resolveTarget(ctx, actor, target)
	if err != nil {
		return nil, err
	}

	var cos profile.Cosmetics
	if rec := s.store.Get(account.UserID); rec != nil {
		cos = rec.Cosmetics
	}

	display := func(v string) string {
		if v == "" {
			return "(role default)"
		}
		return fmt.Sprintf("%q", v)
	}
	return []string{
		fmt.Sprintf("Chat data for %s:", account.Name),
		"  Color: " + display(cos.Color),
		"  Prefix: " + display(cos.Prefix),
		"  Suffix: " + display(cos.Suffix),
	}, nil
}

// removeCaps maps a removable field to its required capability.
var removeCaps = map[string]string{
	"color":  CapRemoveColor,
	"prefix": CapRemovePrefix,
	"suffix": CapRemoveSuffix,
	"all":    CapResetAll,
}

// Remove clears one cosmetic field, or all of them, on the target account.
// Permission overrides are untouched even by "all".
func (s *Service) Remove(ctx context.Context, actor engine.Principal, target, field string) (err error) {
	defer func() { metrics.AdminOps.WithLabelValues("remove", outcome(err)).Inc() }()

	capName, ok := removeCaps[field]
	if !ok {
		return fmt.Errorf("%w: unknown field %q (want color, prefix, suffix, or all)", ErrInvalidInput, field)
	}
	if !s.checker.HasPermission(actor, capName) {
		return fmt.Errorf("%w: missing %s", ErrPermissionDenied, capName)
	}

	account, err := s.resolveTarget(ctx, actor, target)
	if err != nil {
		return err
	}
	if s.store.Get(account.UserID) == nil {
		return fmt.Errorf("%w: %s has no chat data", ErrNotFound, account.Name)
	}

	return s.mutate(ctx, account.UserID, func(rec *profile.Record) {
		switch field {
		case "color":
			rec.Cosmetics.Color = ""
		case "prefix":
			rec.Cosmetics.Prefix = ""
		case "suffix":
			rec.Cosmetics.Suffix = ""
		case "all":
			rec.Cosmetics = profile.Cosmetics{}
		}
	})
}

// Grant adds an explicit permission grant to the target account.
func (s *Service) Grant(ctx context.Context, actor engine.Principal, target, permission string) error {
	return s.updatePermission(ctx, "grant", actor, target, permission)
}

// Deny adds an explicit permission denial to the target account.
func (s *Service) Deny(ctx context.Context, actor engine.Principal, target, permission string) error {
	return s.updatePermission(ctx, "deny", actor, target, permission)
}

// Revoke removes the override for a permission, returning it to role
// resolution.
func (s *Service) Revoke(ctx context.Context, actor engine.Principal, target, permission string) error {
	return s.updatePermission(ctx, "revoke", actor, target, permission)
}

func (s *Service) updatePermission(ctx context.Context, action string, actor engine.Principal, target, permission string) (err error) {
	defer func() { metrics.AdminOps.WithLabelValues("permission_"+action, outcome(err)).Inc() }()

	if permission == "" {
		return fmt.Errorf("%w: empty permission name", ErrInvalidInput)
	}
	if !s.checker.HasPermission(actor, CapManagePerms) {
		return fmt.Errorf("%w: missing %s", ErrPermissionDenied, CapManagePerms)
	}

	// Permission edits always target a named account; CapManagePerms alone
	// is the gate, self or not.
	account, err := s.dir.FindUser(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: no account named %q", ErrNotFound, target)
	}

	if action == "revoke" {
		rec := s.store.Get(account.UserID)
		name := strings.TrimPrefix(permission, perms.NegationPrefix)
		if rec == nil || rec.Overrides.Resolve(name) == perms.Unhandled {
			return fmt.Errorf("%w: no override for %q on %s", ErrNotFound, permission, account.Name)
		}
	}

	err = s.mutate(ctx, account.UserID, func(rec *profile.Record) {
		switch action {
		case "grant":
			rec.Overrides.Grant(permission)
		case "deny":
			rec.Overrides.Deny(permission)
		case "revoke":
			rec.Overrides.Revoke(permission)
		}
	})
	if err == nil {
		log.Printf("[admin] %s %s %q on user %d by %s", action, permission, account.Name, account.UserID, actor.Name)
	}
	return err
}

// ListPermissions returns the target account's overrides in insertion order,
// using the negation-prefix syntax for denials.
func (s *Service) ListPermissions(ctx context.Context, actor engine.Principal, target string) (lines []string, err error) {
	defer func() { metrics.AdminOps.WithLabelValues("permission_list", outcome(err)).Inc() }()

	if !s.checker.HasPermission(actor, CapManagePerms) {
		return nil, fmt.Errorf("%w: missing %s", ErrPermissionDenied, CapManagePerms)
	}
	account, err := s.dir.FindUser(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: no account named %q", ErrNotFound, target)
	}

	rec := s.store.Get(account.UserID)
	if rec == nil || rec.Overrides.Len() == 0 {
		return []string{fmt.Sprintf("%s has no permission overrides.", account.Name)}, nil
	}

	lines = []string{fmt.Sprintf("Permission overrides for %s:", account.Name)}
	for _, e := range rec.Overrides.Entries() {
		lines = append(lines, "  "+e.String())
	}
	return lines, nil
}

// DeleteAccount purges the moderation record for a deleted host account.
// Purging an account without a record is a no-op.
func (s *Service) DeleteAccount(ctx context.Context, userID int64) (err error) {
	defer func() { metrics.AdminOps.WithLabelValues("account_delete", outcome(err)).Inc() }()

	if err := s.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("admin: delete account %d: %w", userID, err)
	}
	log.Printf("[admin] purged moderation record for deleted account %d", userID)
	return nil
}
