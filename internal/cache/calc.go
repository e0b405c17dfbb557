// Package cache provides the memoization layer for expensive aggregate
// computations. Entries live in named partitions (one per computation kind)
// so invalidation can target a single computation without evicting the rest.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Signature is a cheap fingerprint of one mutable input collection: item
// count combined with the newest last-modified timestamp. Any insert, update
// or delete in the collection changes it, which turns the next lookup into a
// miss.
type Signature struct {
	Count       int64
	LastUpdated time.Time
}

func (s Signature) String() string {
	return fmt.Sprintf("%d@%d", s.Count, s.LastUpdated.UnixNano())
}

// Key builds a cache key from the computation's logical parameters plus the
// version signatures of every collection it reads.
func Key(params string, signatures ...Signature) string {
	key := params
	for _, s := range signatures {
		key += "|" + s.String()
	}
	return key
}

// Stats are the hit/miss counters of one partition.
type Stats struct {
	Hits   int64
	Misses int64
}

type partition struct {
	mu      sync.Mutex
	entries map[string]any
	hits    atomic.Int64
	misses  atomic.Int64
}

// Calc is a concurrency-safe partitioned memoization cache. Partitions are
// independently locked, so lookups in different partitions never contend.
type Calc struct {
	mu         sync.RWMutex
	partitions map[string]*partition
}

func New() *Calc {
	return &Calc{partitions: make(map[string]*partition)}
}

func (c *Calc) partitionFor(name string) *partition {
	c.mu.RLock()
	p, ok := c.partitions[name]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.partitions[name]; ok {
		return p
	}
	p = &partition{entries: make(map[string]any)}
	c.partitions[name] = p
	return p
}

// Invalidate clears the named partitions, leaving all others intact.
// Counters survive invalidation.
func (c *Calc) Invalidate(names ...string) {
	for _, name := range names {
		c.mu.RLock()
		p, ok := c.partitions[name]
		c.mu.RUnlock()
		if !ok {
			continue
		}
		p.mu.Lock()
		p.entries = make(map[string]any)
		p.mu.Unlock()
	}
}

// Stats returns the hit/miss counters of a partition.
func (c *Calc) Stats(name string) Stats {
	c.mu.RLock()
	p, ok := c.partitions[name]
	c.mu.RUnlock()
	if !ok {
		return Stats{}
	}
	return Stats{Hits: p.hits.Load(), Misses: p.misses.Load()}
}

// GetOrCompute returns the cached value for key in the named partition,
// computing and storing it on a miss. The compute function runs outside the
// partition lock; concurrent misses on the same key may both compute, which
// is safe because the computations are pure and deterministic.
func GetOrCompute[T any](c *Calc, name, key string, compute func() (T, error)) (T, error) {
	p := c.partitionFor(name)

	p.mu.Lock()
	cached, ok := p.entries[key]
	p.mu.Unlock()
	if ok {
		if value, valid := cached.(T); valid {
			p.hits.Add(1)
			return value, nil
		}
	}
	p.misses.Add(1)

	value, err := compute()
	if err != nil {
		return value, err
	}

	p.mu.Lock()
	p.entries[key] = value
	p.mu.Unlock()
	return value, nil
}
