// Package clock defines the ledger clock observed by contract executions.
//
// Contracts never read the wall clock directly. They see the timestamp and
// the sequence number of the ledger they run in, which makes temporal checks
// deterministic and replayable.
package clock

import (
	"sync"
	"time"
)

// Clock provides the ledger time of the current execution.
type Clock interface {
	// Timestamp returns the ledger time in seconds since the unix epoch.
	Timestamp() uint64

	// Sequence returns the number of ledgers closed so far.
	Sequence() uint32
}

// Ticker is implemented by clocks that let the ledger close a ledger and
// move the sequence forward.
type Ticker interface {
	Tick()
}

// System is a clock following the wall clock, with a sequence driven by the
// ledger.
//
// - implements clock.Clock
// - implements clock.Ticker
type System struct {
	sync.Mutex

	seq uint32
}

// NewSystem creates a clock following the wall clock.
func NewSystem() *System {
	return &System{}
}

// Timestamp implements clock.Clock. It returns the current wall clock time
// in seconds.
func (c *System) Timestamp() uint64 {
	return uint64(time.Now().Unix())
}

// Sequence implements clock.Clock. It returns the number of ledgers closed
// so far.
func (c *System) Sequence() uint32 {
	c.Lock()
	defer c.Unlock()

	return c.seq
}

// Tick implements clock.Ticker. It closes a ledger.
func (c *System) Tick() {
	c.Lock()
	c.seq++
	c.Unlock()
}

// Manual is a deterministic clock for tests and reproducible runs. Time
// moves only when told to.
//
// - implements clock.Clock
// - implements clock.Ticker
type Manual struct {
	sync.Mutex

	now uint64
	seq uint32
}

// NewManual creates a clock starting at the given time.
func NewManual(now uint64) *Manual {
	return &Manual{
		now: now,
	}
}

// Timestamp implements clock.Clock. It returns the current ledger time.
func (c *Manual) Timestamp() uint64 {
	c.Lock()
	defer c.Unlock()

	return c.now
}

// Sequence implements clock.Clock. It returns the number of ledgers closed
// so far.
func (c *Manual) Sequence() uint32 {
	c.Lock()
	defer c.Unlock()

	return c.seq
}

// Advance moves the ledger time forward by the given number of seconds.
func (c *Manual) Advance(seconds uint64) {
	c.Lock()
	c.now += seconds
	c.Unlock()
}

// Set forces the ledger time to the given value.
func (c *Manual) Set(now uint64) {
	c.Lock()
	c.now = now
	c.Unlock()
}

// Tick implements clock.Ticker. It closes a ledger.
func (c *Manual) Tick() {
	c.Lock()
	c.seq++
	c.Unlock()
}
