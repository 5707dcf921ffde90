package rules

import "github.com/liamcoop/compliance/rules/condition"

// CompiledCondition is the outcome of compiling one trigger condition. A
// condition that failed to compile is cached with its error so the failure is
// reported on every evaluation without re-parsing.
type CompiledCondition struct {
	Program *condition.Program
	Err     error
}

// ProgramCache stores compiled conditions keyed by condition text. Engines
// for different tenants share one cache so the built-in conditions are parsed
// once per process.
type ProgramCache interface {
	// Get returns the cached compilation, ok is false on a miss
	Get(cond string) (CompiledCondition, bool)

	// Set stores a compilation
	Set(cond string, cc CompiledCondition)

	// Invalidate drops every entry
	Invalidate()

	// Len returns the number of cached entries
	Len() int
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// MaxEntries caps the cache size. When a Set would exceed it the cache is
	// cleared first. Zero means unbounded.
	MaxEntries int
}

// DefaultCacheConfig returns sensible defaults for program caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 4096,
	}
}

// compileCached compiles cond through cache, which may be nil
func compileCached(cache ProgramCache, cond string) CompiledCondition {
	if cache != nil {
		if cc, ok := cache.Get(cond); ok {
			return cc
		}
	}
	prog, err := condition.Compile(cond)
	cc := CompiledCondition{Program: prog, Err: err}
	if cache != nil {
		cache.Set(cond, cc)
	}
	return cc
}
