package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockCache(t *testing.T) {
	_, err := NewBlockCache(0)
	assert.Error(t, err)

	cache, err := NewBlockCache(2)
	require.NoError(t, err)

	genesis := GenesisBlock()
	b1 := NewBlock(genesis, nil, "a", time.UnixMilli(1))
	b2 := NewBlock(b1, nil, "a", time.UnixMilli(2))

	cache.Put(genesis)
	cache.Put(b1)
	assert.Same(t, genesis, cache.Get(0))
	assert.Nil(t, cache.Get(5))

	// Adding a third block evicts the least recently used one (b1).
	cache.Put(b2)
	assert.Nil(t, cache.Get(1))

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Items)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 0.001)

	cache.Clear()
	assert.Equal(t, 0, cache.Stats().Items)
}
