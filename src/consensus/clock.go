// Package consensus implements slot-based proposer selection anchored to
// genesis time, block assembly and signing, and validation of received
// blocks. There is no fork choice: one designated proposer per slot,
// single-signature finality.
package consensus

import (
	"time"
)

// SlotClock converts wall-clock time to consensus slots. Every node derives
// the same slot for the same instant because slots are anchored to the
// shared genesis time.
type SlotClock struct {
	genesisTime      int64
	blockTimeSeconds uint64

	// timeFunc is injectable for tests.
	timeFunc func() time.Time
}

// NewSlotClock ...
func NewSlotClock(genesisTime int64, blockTimeSeconds uint64) *SlotClock {
	return &SlotClock{
		genesisTime:      genesisTime,
		blockTimeSeconds: blockTimeSeconds,
		timeFunc:         time.Now,
	}
}

// NewSlotClockWithTimeFunc creates a SlotClock with a custom time source.
func NewSlotClockWithTimeFunc(genesisTime int64, blockTimeSeconds uint64, timeFunc func() time.Time) *SlotClock {
	return &SlotClock{
		genesisTime:      genesisTime,
		blockTimeSeconds: blockTimeSeconds,
		timeFunc:         timeFunc,
	}
}

// Now returns the clock's current time.
func (c *SlotClock) Now() time.Time {
	return c.timeFunc()
}

// CurrentSlot returns the slot at the clock's current time (0 before
// genesis).
func (c *SlotClock) CurrentSlot() uint64 {
	return c.SlotAt(c.timeFunc().Unix())
}

// SlotAt returns the slot active at the given Unix time.
func (c *SlotClock) SlotAt(unix int64) uint64 {
	if unix < c.genesisTime {
		return 0
	}
	return uint64(unix-c.genesisTime) / c.blockTimeSeconds
}

// SlotStartTime returns the Unix time at which a slot begins.
func (c *SlotClock) SlotStartTime(slot uint64) int64 {
	return c.genesisTime + int64(slot*c.blockTimeSeconds)
}

// UntilNextSlot returns the duration until the next slot boundary.
func (c *SlotClock) UntilNextSlot() time.Duration {
	now := c.timeFunc()
	if now.Unix() < c.genesisTime {
		return time.Duration(c.genesisTime-now.Unix()) * time.Second
	}
	next := c.SlotStartTime(c.SlotAt(now.Unix()) + 1)
	d := time.Unix(next, 0).Sub(now)
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// BeforeGenesis reports whether the current time precedes genesis.
func (c *SlotClock) BeforeGenesis() bool {
	return c.timeFunc().Unix() < c.genesisTime
}
