package machine

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// RistrettoCache is a bounded Cache backed by ristretto.
//
// Each entry costs 1, so MaxEntries caps the number of machines held.
// Ristretto may refuse an entry under its admission policy; a refused Put
// only means the next GetMachine goes to the store.
type RistrettoCache struct {
	cache *ristretto.Cache[string, *Machine]
}

// NewRistrettoCache creates a cache holding at most maxEntries machines.
func NewRistrettoCache(maxEntries int64) (*RistrettoCache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("ristretto cache: max entries must be positive, got %d", maxEntries)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *Machine]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ristretto cache: %w", err)
	}
	return &RistrettoCache{cache: c}, nil
}

// Get returns a copy of the cached machine.
func (c *RistrettoCache) Get(id string) (*Machine, bool) {
	m, ok := c.cache.Get(id)
	if !ok || m == nil {
		return nil, false
	}
	return m.DeepCopy(), true
}

// Put stores a copy of m. It waits for ristretto's write buffer to drain so
// a Get issued right after Put observes the new value.
func (c *RistrettoCache) Put(id string, m *Machine) {
	if m == nil {
		return
	}
	c.cache.Set(id, m.DeepCopy(), 1)
	c.cache.Wait()
}

// Close releases the cache's background goroutines.
func (c *RistrettoCache) Close() {
	c.cache.Close()
}
