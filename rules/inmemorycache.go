package rules

import (
	"sync"
)

// InMemoryProgramCache is a simple in-memory implementation of ProgramCache
// Thread-safe for concurrent access
type InMemoryProgramCache struct {
	entries map[string]CompiledCondition
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryProgramCache creates a new in-memory program cache
func NewInMemoryProgramCache(config CacheConfig) *InMemoryProgramCache {
	return &InMemoryProgramCache{
		entries: make(map[string]CompiledCondition),
		config:  config,
	}
}

// Get retrieves a cached compilation
func (c *InMemoryProgramCache) Get(cond string) (CompiledCondition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cc, ok := c.entries[cond]
	return cc, ok
}

// Set stores a compilation, clearing the cache first if it is full
func (c *InMemoryProgramCache) Set(cond string, cc CompiledCondition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[cond]; !exists && c.config.MaxEntries > 0 && len(c.entries) >= c.config.MaxEntries {
		c.entries = make(map[string]CompiledCondition)
	}
	c.entries[cond] = cc
}

// Invalidate clears the cache
func (c *InMemoryProgramCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]CompiledCondition)
}

// Len returns the number of cached compilations
func (c *InMemoryProgramCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
