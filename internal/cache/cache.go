// Package cache is a best-effort JSON cache over a durable key-value store.
// It is advisory: every value can be dropped and refetched from the backend,
// so storage failures are logged and reported as misses, never returned.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Tiliavir/stampclock/internal/kvstore"
)

// SettingsKey is the cache key for a user's settings.
func SettingsKey(ownerID string) string { return "ts:settings:" + ownerID }

// MonthEntriesKey is the cache key for a user's entries in month (YYYY-MM).
func MonthEntriesKey(ownerID, month string) string {
	return UserEntriesPrefix(ownerID) + month
}

// EntriesPrefix matches the month-entries keys of every user.
const EntriesPrefix = "ts:entries:"

// UserEntriesPrefix matches every month-entries key of a user.
func UserEntriesPrefix(ownerID string) string { return EntriesPrefix + ownerID + ":" }

// Cache wraps a kvstore.Store with JSON encoding and error absorption.
type Cache struct {
	store  kvstore.Store
	logger *slog.Logger
}

// New returns a Cache. A nil logger uses slog.Default().
func New(store kvstore.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger.With("component", "cache")}
}

// Get decodes the value under key into v and reports whether it was found.
// A value that cannot be decoded is removed and treated as a miss.
func (c *Cache) Get(ctx context.Context, key string, v any) bool {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get error", "key", key, "error", err)
		return false
	}
	if !ok || len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("dropping undecodable cache value", "key", key, "error", err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores v under key.
func (c *Cache) Set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache set error", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		c.logger.Error("cache set error", "key", key, "error", err)
	}
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Error("cache delete error", "key", key, "error", err)
	}
}

// Keys lists the keys starting with prefix; a listing failure reads as none.
func (c *Cache) Keys(ctx context.Context, prefix string) []string {
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		c.logger.Error("cache list error", "prefix", prefix, "error", err)
		return nil
	}
	return keys
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) {
	for _, k := range c.Keys(ctx, prefix) {
		c.Delete(ctx, k)
	}
}
