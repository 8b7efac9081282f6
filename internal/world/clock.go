package world

import "sync/atomic"

// Clock hands out block numbers.
type Clock interface {
	Next() int64
	Current() int64
}

// BlockClock is a monotonic logical block counter. Every transaction is
// mined in its own block.
//
// Thread-safety: BlockClock is safe for concurrent use (atomic operations).
type BlockClock struct {
	block atomic.Int64
}

// NewBlockClock creates a clock whose first block is 1.
func NewBlockClock() *BlockClock {
	return &BlockClock{}
}

// NewBlockClockAt creates a clock resuming after block start, so a restarted
// world keeps numbering from the store's latest block.
func NewBlockClockAt(start int64) *BlockClock {
	c := &BlockClock{}
	c.block.Store(start)
	return c
}

// Next advances the clock and returns the new block number.
func (c *BlockClock) Next() int64 {
	return c.block.Add(1)
}

// Current returns the latest block number without advancing.
func (c *BlockClock) Current() int64 {
	return c.block.Load()
}
