package rules

import "time"

// RulesCache caches the active rule set per rule type.
// This allows swapping between in-memory, Redis, or other caching implementations
type RulesCache interface {
	// Get returns cached rules for the type, or nil on a miss or expiry
	Get(ruleType RuleType) []*BusinessRule

	// Generation identifies the current cache contents. Read it before loading
	// from the store and pass it to Set.
	Generation() uint64

	// Set stores the active rules for the type if no Invalidate happened since
	// generation was read, and reports whether it did. The check and the store
	// are one step.
	Set(ruleType RuleType, rules []*BusinessRule, generation uint64) bool

	// Invalidate drops every entry and advances the generation. Called on any
	// lifecycle mutation.
	Invalidate()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on mutations
	}
}
