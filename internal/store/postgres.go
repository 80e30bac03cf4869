// Package store persists per-user moderation records in PostgreSQL and keeps
// a full in-memory cache in front of the table. Records are read on every
// chat event, so lookups must never touch the database on the hot path; the
// cache is loaded once at startup and written through on every mutation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/gameforge/chatguard/internal/perms"
	"github.com/gameforge/chatguard/internal/profile"
)

// ErrNotFound is returned when no record exists for a user.
var ErrNotFound = errors.New("store: record not found")

// Postgres is the database-backed record store.
type Postgres struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// RunMigrations applies pending schema migrations from sourceURL
// (e.g. "file://migrations") against databaseURL.
func RunMigrations(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("store: init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// Get loads a single record by user ID.
func (p *Postgres) Get(ctx context.Context, userID int64) (*profile.Record, error) {
	const query = `
		SELECT user_id, chat_color, chat_prefix, chat_suffix, permissions
		FROM user_mod_records
		WHERE user_id = $1`

	rec, err := scanRecord(p.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user %d: %w", userID, err)
	}
	return rec, nil
}

// List loads every record in the table, used to warm the cache at startup.
func (p *Postgres) List(ctx context.Context) ([]*profile.Record, error) {
	const query = `
		SELECT user_id, chat_color, chat_prefix, chat_suffix, permissions
		FROM user_mod_records
		ORDER BY user_id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	var records []*profile.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	return records, nil
}

// Save upserts a record.
func (p *Postgres) Save(ctx context.Context, rec *profile.Record) error {
	permsJSON, err := json.Marshal(rec.Overrides)
	if err != nil {
		return fmt.Errorf("store: marshal permissions: %w", err)
	}

	const query = `
		INSERT INTO user_mod_records (user_id, chat_color, chat_prefix, chat_suffix, permissions, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			chat_color  = EXCLUDED.chat_color,
			chat_prefix = EXCLUDED.chat_prefix,
			chat_suffix = EXCLUDED.chat_suffix,
			permissions = EXCLUDED.permissions,
			updated_at  = NOW()`

	_, err = p.db.ExecContext(ctx, query,
		rec.UserID,
		rec.Cosmetics.Color,
		rec.Cosmetics.Prefix,
		rec.Cosmetics.Suffix,
		permsJSON,
	)
	if err != nil {
		return fmt.Errorf("store: save user %d: %w", rec.UserID, err)
	}
	return nil
}

// Delete removes a user's record entirely.
func (p *Postgres) Delete(ctx context.Context, userID int64) error {
	const query = `DELETE FROM user_mod_records WHERE user_id = $1`

	res, err := p.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("store: delete user %d: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*profile.Record, error) {
	var (
		rec       profile.Record
		permsJSON []byte
	)
	if err := row.Scan(&rec.UserID, &rec.Cosmetics.Color, &rec.Cosmetics.Prefix, &rec.Cosmetics.Suffix, &permsJSON); err != nil {
		return nil, err
	}

	rec.Overrides = perms.NewOverrideSet()
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, rec.Overrides); err != nil {
			// A corrupt permissions column should not take the whole record
			// down; log and continue with an empty override set.
			log.Printf("[store] user %d: corrupt permissions column: %v", rec.UserID, err)
		}
	}
	return &rec, nil
}
