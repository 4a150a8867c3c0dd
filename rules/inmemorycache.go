package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*BusinessRule
	cachedAt time.Time
}

// InMemoryRulesCache is a simple in-memory implementation of RulesCache
// Thread-safe for concurrent access
type InMemoryRulesCache struct {
	entries    map[RuleType]cacheEntry
	generation uint64
	config     CacheConfig
	mu         sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[RuleType]cacheEntry),
		config:  config,
	}
}

// Get retrieves cached rules
// Returns nil if the entry is missing or expired
func (c *InMemoryRulesCache) Get(ruleType RuleType) []*BusinessRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[ruleType]
	if !ok || c.expired(entry) {
		return nil
	}

	// Return copies so callers cannot modify cached rules
	out := make([]*BusinessRule, len(entry.rules))
	for i, r := range entry.rules {
		out[i] = r.Clone()
	}
	return out
}

func (c *InMemoryRulesCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Set stores rules in cache unless the cache was invalidated after generation
// was read.
func (c *InMemoryRulesCache) Set(ruleType RuleType, rules []*BusinessRule, generation uint64) bool {
	stored := make([]*BusinessRule, len(rules))
	for i, r := range rules {
		stored[i] = r.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}
	c.entries[ruleType] = cacheEntry{rules: stored, cachedAt: time.Now()}
	return true
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.entries = make(map[RuleType]cacheEntry)
}

func (c *InMemoryRulesCache) expired(entry cacheEntry) bool {
	return c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL
}
