package switchboard

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// BindingCache is a bounded LRU of live server bindings keyed by handle.
// Closing a binding can block on network teardown, so every mutator stages
// doomed bindings while holding the lock and closes them only after
// releasing it.
type BindingCache struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[string, Binding]
	doomed []Binding
}

// NewBindingCache returns a cache holding at most capacity bindings.
// Capacities below one are clamped to one.
func NewBindingCache(capacity int) *BindingCache {
	if capacity < 1 {
		capacity = 1
	}
	c := &BindingCache{}
	// NewLRU only errors on a non-positive size, which the clamp above
	// rules out.
	l, _ := simplelru.NewLRU[string, Binding](capacity, func(_ string, b Binding) {
		c.doomed = append(c.doomed, b)
	})
	c.lru = l
	return c
}

// Get returns the binding for h, bumping it to most recently used.
func (c *BindingCache) Get(h string) (Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(h)
}

// Insert installs b at most recently used. An existing binding under the
// same handle is released; at capacity the least recently used entry is
// evicted and released.
func (c *BindingCache) Insert(h string, b Binding) {
	c.mu.Lock()
	if old, ok := c.lru.Peek(h); ok {
		// Add on an existing key swaps the value without firing the
		// eviction callback, so stage the old binding by hand.
		c.doomed = append(c.doomed, old)
	}
	c.lru.Add(h, b)
	doomed := c.takeDoomed()
	c.mu.Unlock()
	closeBindings(doomed)
}

// Peek returns the binding for h without disturbing recency. Toolset
// assembly reads every cached binding and must not count as use.
func (c *BindingCache) Peek(h string) (Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(h)
}

// Touch bumps h to most recently used if present.
func (c *BindingCache) Touch(h string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Get(h)
}

// Evict removes h and releases its binding, reporting whether anything was
// removed.
func (c *BindingCache) Evict(h string) bool {
	c.mu.Lock()
	removed := c.lru.Remove(h)
	doomed := c.takeDoomed()
	c.mu.Unlock()
	closeBindings(doomed)
	return removed
}

// Contents returns the cached handles, most recently used first.
func (c *BindingCache) Contents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.lru.Keys() // oldest first
	out := make([]string, len(keys))
	for i, k := range keys {
		out[len(keys)-1-i] = k
	}
	return out
}

// Len reports the number of cached bindings.
func (c *BindingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// ReleaseAll closes every binding and empties the cache. Called on
// shutdown.
func (c *BindingCache) ReleaseAll() {
	c.mu.Lock()
	c.lru.Purge()
	doomed := c.takeDoomed()
	c.mu.Unlock()
	closeBindings(doomed)
}

// takeDoomed must be called with the lock held.
func (c *BindingCache) takeDoomed() []Binding {
	d := c.doomed
	c.doomed = nil
	return d
}

func closeBindings(bindings []Binding) {
	for _, b := range bindings {
		if b != nil {
			_ = b.Close()
		}
	}
}
