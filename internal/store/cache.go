package store

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gameforge/chatguard/internal/profile"
)

// Backend is the persistence interface the cache writes through to. It is
// satisfied by *Postgres; tests substitute an in-memory fake.
type Backend interface {
	List(ctx context.Context) ([]*profile.Record, error)
	Save(ctx context.Context, rec *profile.Record) error
	Delete(ctx context.Context, userID int64) error
}

// Cache keeps every moderation record in memory. Readers get shared pointers
// to immutable records; mutators clone, modify, and Save, which swaps in the
// new pointer after the backend write succeeds.
type Cache struct {
	backend Backend

	mu      sync.RWMutex
	records map[int64]*profile.Record
}

// NewCache creates an empty cache over the given backend.
func NewCache(backend Backend) *Cache {
	return &Cache{
		backend: backend,
		records: make(map[int64]*profile.Record),
	}
}

// Load replaces the cache contents with the full backend table.
func (c *Cache) Load(ctx context.Context) error {
	records, err := c.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("store: warm cache: %w", err)
	}

	m := make(map[int64]*profile.Record, len(records))
	for _, rec := range records {
		m[rec.UserID] = rec
	}

	c.mu.Lock()
	c.records = m
	c.mu.Unlock()

	log.Printf("[store] cache loaded, %d records", len(m))
	return nil
}

// Get returns the cached record for a user, or nil when none exists. The
// returned record must be treated as read-only; mutate via Clone and Save.
func (c *Cache) Get(userID int64) *profile.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records[userID]
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Save writes the record through to the backend and then publishes it in the
// cache. On backend failure the cache is left untouched.
func (c *Cache) Save(ctx context.Context, rec *profile.Record) error {
	if err := c.backend.Save(ctx, rec); err != nil {
		return err
	}

	c.mu.Lock()
	c.records[rec.UserID] = rec
	c.mu.Unlock()
	return nil
}

// Delete removes the record from the backend and the cache. Deleting a user
// with no record is not an error at this layer.
func (c *Cache) Delete(ctx context.Context, userID int64) error {
	if err := c.backend.Delete(ctx, userID); err != nil && err != ErrNotFound {
		return err
	}

	c.mu.Lock()
	delete(c.records, userID)
	c.mu.Unlock()
	return nil
}
