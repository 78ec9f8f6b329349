package rtos

import (
	"runtime"
	"sync"
)

// NeverTimeout disables the deadline of a semaphore wait.
const NeverTimeout = 0xffff_ffff

// Semaphore is a bounded counting semaphore built on a lock-protected counter.
// The zero value is a semaphore with count zero.
type Semaphore struct {
	mu    sync.Mutex
	count uint32
}

// Init resets the counter to zero.
func (s *Semaphore) Init() {
	s.mu.Lock()
	s.count = 0
	s.mu.Unlock()
}

// Count returns the current counter value.
func (s *Semaphore) Count() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Increment increments the counter if it is below max and reports whether it did.
// The counter is never modified when it is already at max.
func (s *Semaphore) Increment(max uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count >= max {
		return false
	}
	s.count++
	return true
}

func (s *Semaphore) tryDecrement(min uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count <= min {
		return false
	}
	s.count--
	return true
}

// Decrement decrements the counter once it is above min, polling until
// timeoutMS milliseconds of clk have passed. A zero timeout tries exactly once
// and NeverTimeout waits indefinitely. Between attempts the calling goroutine
// yields. If clk is nil the system clock is used.
func (s *Semaphore) Decrement(clk Clock, min, timeoutMS uint32) bool {
	if s.tryDecrement(min) {
		return true
	} else if timeoutMS == 0 {
		return false
	}
	if clk == nil {
		clk = defaultClock
	}
	deadline := clk.Ticks() + MillisToTicks(timeoutMS)
	for {
		runtime.Gosched()
		yield()
		if s.tryDecrement(min) {
			return true
		}
		if timeoutMS != NeverTimeout && int64(deadline-clk.Ticks()) < 0 {
			return false
		}
	}
}
