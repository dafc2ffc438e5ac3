package chain

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BlockCache keeps recently read blocks in memory in front of the store.
type BlockCache struct {
	lru *lru.Cache[uint64, *Block]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewBlockCache creates a cache holding up to size blocks.
func NewBlockCache(size int) (*BlockCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}

	bc := &BlockCache{}
	cache, err := lru.NewWithEvict[uint64, *Block](size, func(uint64, *Block) {
		bc.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	bc.lru = cache
	return bc, nil
}

// Get returns the cached block n, or nil.
func (bc *BlockCache) Get(n uint64) *Block {
	if b, ok := bc.lru.Get(n); ok {
		bc.hits.Add(1)
		return b
	}
	bc.misses.Add(1)
	return nil
}

// Put caches b.
func (bc *BlockCache) Put(b *Block) {
	bc.lru.Add(b.Number, b)
}

// CacheStats represents cache statistics
type CacheStats struct {
	Items     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// Stats returns cache statistics
func (bc *BlockCache) Stats() CacheStats {
	hits, misses := bc.hits.Load(), bc.misses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Items:     bc.lru.Len(),
		Hits:      hits,
		Misses:    misses,
		Evictions: bc.evictions.Load(),
		HitRate:   hitRate,
	}
}

// Clear removes all cached blocks
func (bc *BlockCache) Clear() {
	bc.lru.Purge()
}
