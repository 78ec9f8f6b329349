// package rtos emulates the preemptive-RTOS primitives a chipset driver
// expects on top of cooperatively scheduled goroutines.
package rtos

import (
	"sync/atomic"
	"time"

	"golang.org/x/exp/constraints"
)

// TickRate is the nominal rate of the reference clock in Hz.
const TickRate = 100_000_000

// TicksPerMillisecond is the number of reference clock ticks in one millisecond.
const TicksPerMillisecond = TickRate / 1000

// Clock is a monotonic tick source running at TickRate.
type Clock interface {
	Ticks() uint64
}

// SystemClock derives ticks from the monotonic wall clock.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a clock whose tick count starts at zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

func (c *SystemClock) Ticks() uint64 {
	const nsPerTick = int64(time.Second) / TickRate
	return uint64(time.Since(c.epoch).Nanoseconds() / nsPerTick)
}

// ManualClock is a deterministic clock for tests. Every call to Ticks
// advances the clock by Step after reading it.
type ManualClock struct {
	ticks atomic.Uint64
	step  atomic.Uint64
}

func (c *ManualClock) Ticks() uint64 {
	step := c.step.Load()
	return c.ticks.Add(step) - step
}

// Advance moves the clock forward by n ticks.
func (c *ManualClock) Advance(n uint64) { c.ticks.Add(n) }

// SetStep sets the number of ticks each read advances the clock by.
func (c *ManualClock) SetStep(n uint64) { c.step.Store(n) }

var defaultClock = NewSystemClock()

// DefaultClock returns the process wide system clock.
func DefaultClock() Clock { return defaultClock }

// MillisToTicks scales a millisecond count to reference clock ticks.
func MillisToTicks[T constraints.Integer](ms T) uint64 {
	return uint64(ms) * TicksPerMillisecond
}

// TicksToMillis scales reference clock ticks down to milliseconds.
func TicksToMillis[T constraints.Integer](ticks T) uint32 {
	return uint32(uint64(ticks) / TicksPerMillisecond)
}

// yield gives up the processor for the shortest sleep the runtime supports.
func yield() {
	time.Sleep(time.Microsecond)
}
