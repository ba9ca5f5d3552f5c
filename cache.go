package fishfish

import "sync"

// entityCache is a mutex-guarded identifier → record map. The REST facade
// and the realtime feed share one instance per entity kind, so every
// mutation happens under the lock; merge holds it across the whole
// read-merge-write sequence to avoid lost updates.
type entityCache[T any] struct {
	mu      sync.Mutex
	entries map[string]T
}

func newEntityCache[T any]() *entityCache[T] {
	return &entityCache[T]{entries: make(map[string]T)}
}

func (c *entityCache[T]) get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *entityCache[T]) set(key string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
}

func (c *entityCache[T]) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *entityCache[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// merge applies fn to the current entry (zero value if absent) and stores
// the result, all under one lock hold. Tolerates updates arriving before
// the corresponding create: fn then merges onto an empty base.
func (c *entityCache[T]) merge(key string, fn func(T) T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := fn(c.entries[key])
	c.entries[key] = merged
	return merged
}

// snapshot returns a copy of the current entries.
func (c *entityCache[T]) snapshot() map[string]T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]T, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
