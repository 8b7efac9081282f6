package testutil

import "sync"

// BlockClock is a resettable block counter for tests and scenarios.
//
// It satisfies world.Clock. Unlike world.BlockClock it can be reset and
// moved forward explicitly, so a scenario can pin the block numbers its
// golden trace records.
type BlockClock struct {
	mu    sync.Mutex
	block int64
}

// NewBlockClock creates a clock whose first block is 1.
func NewBlockClock() *BlockClock {
	return &BlockClock{}
}

// Next mines the next block and returns its number.
func (c *BlockClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block++
	return c.block
}

// Current returns the latest block number.
func (c *BlockClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Advance skips n empty blocks.
func (c *BlockClock) Advance(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.block += n
	}
}

// Reset rewinds the clock so the next block is 1 again.
func (c *BlockClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = 0
}
