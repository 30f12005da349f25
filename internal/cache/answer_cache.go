// Package cache holds the in-process answer cache. Answers to repeated
// questions over the same repository snapshot are expensive to
// regenerate and safe to reuse until the index moves.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

type Entry struct {
	Answer    string
	ModelID   string
	Sources   []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

type AnswerCache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
}

func NewAnswerCache(config Config) *AnswerCache {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	return &AnswerCache{
		entries:    make(map[string]Entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func (c *AnswerCache) Get(signature string) (Entry, bool) {
	c.mu.RLock()
	entry, exists := c.entries[signature]
	c.mu.RUnlock()

	if !exists {
		return Entry{}, false
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, signature)
		c.mu.Unlock()
		return Entry{}, false
	}
	return cloneEntry(entry), true
}

func (c *AnswerCache) Set(signature string, entry Entry) {
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.ttl)
	entry.Sources = append([]string(nil), entry.Sources...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[signature] = entry
}

// Invalidate drops every entry whose signature carries the given scope
// prefix. Ingestion calls this after advancing a checkpoint so stale
// answers never outlive the index they were built from. The prefix is
// normalized the same way BuildSignature normalizes the scope, so
// callers can pass identifiers in their original case.
func (c *AnswerCache) Invalidate(scopePrefix string) int {
	prefix := normalizeScope(scopePrefix)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for signature := range c.entries {
		if strings.HasPrefix(signature, prefix) {
			delete(c.entries, signature)
			removed++
		}
	}
	return removed
}

// BuildSignature derives a stable cache key. The first part is kept in
// clear as a scope prefix so Invalidate can match on it.
func (c *AnswerCache) BuildSignature(scope string, parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.TrimSpace(strings.ToLower(part)))
	}
	joined := strings.Join(normalized, "||")
	sum := sha256.Sum256([]byte(joined))
	return normalizeScope(scope) + ":" + hex.EncodeToString(sum[:])
}

func normalizeScope(scope string) string {
	return strings.TrimSpace(strings.ToLower(scope))
}

func (c *AnswerCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value Entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.CreatedAt.Before(pairs[j].value.CreatedAt)
	})
	delete(c.entries, pairs[0].key)
}

func cloneEntry(entry Entry) Entry {
	clone := entry
	clone.Sources = append([]string(nil), entry.Sources...)
	return clone
}
