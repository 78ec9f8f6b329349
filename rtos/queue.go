package rtos

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync"
)

// ErrQueueFull is returned by TryPut when the queue has no free slot.
var ErrQueueFull = errors.New("notification queue full")

// Signal is a notification carried from event sources to the polling task.
type Signal uint8

const (
	signalNone Signal = iota
	// SignalStart requests the driver be brought up.
	SignalStart
	// SignalStopped requests the driver be torn down.
	SignalStopped
	// SignalSemaphoreIncrement notifies that a transport semaphore was set.
	SignalSemaphoreIncrement
)

func (s Signal) String() string {
	switch s {
	case SignalStart:
		return "start"
	case SignalStopped:
		return "stopped"
	case SignalSemaphoreIncrement:
		return "semaphore-increment"
	}
	return "Signal(" + strconv.Itoa(int(s)) + ")"
}

// Queue is a fixed capacity ring of signals with many producers and a single
// consumer. Producers never block: a put into a full queue fails and is
// counted. A queue of size n holds at most n-1 signals.
type Queue struct {
	mu        sync.Mutex
	buf       []Signal
	head      int
	tail      int
	overflows uint32
}

// NewQueue returns a queue backed by n slots. n must be at least 2.
func NewQueue(n int) *Queue {
	if n < 2 {
		panic("rtos: queue size must be at least 2")
	}
	return &Queue{buf: make([]Signal, n)}
}

// TryPut appends sig at the tail. It returns ErrQueueFull without modifying
// the queue when there is no free slot.
func (q *Queue) TryPut(sig Signal) error {
	q.mu.Lock()
	next := q.next(q.tail)
	if next == q.head {
		q.overflows++
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.buf[q.tail] = sig
	q.tail = next
	q.mu.Unlock()
	return nil
}

// TryTake removes the signal at the head if there is one.
func (q *Queue) TryTake() (Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == q.tail {
		return signalNone, false
	}
	sig := q.buf[q.head]
	q.head = q.next(q.head)
	return sig, true
}

// Take removes the signal at the head, yielding to other goroutines while
// the queue is empty. It returns ctx.Err() once ctx is done.
// Take must only be called from the single consumer goroutine.
func (q *Queue) Take(ctx context.Context) (Signal, error) {
	for {
		if sig, ok := q.TryTake(); ok {
			return sig, nil
		}
		if err := ctx.Err(); err != nil {
			return signalNone, err
		}
		runtime.Gosched()
		yield()
	}
}

// IsEmpty reports whether a call to TryTake would fail.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head == q.tail
}

// Len returns the number of queued signals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.tail - q.head
	if n < 0 {
		n += len(q.buf)
	}
	return n
}

// Cap returns the number of signals the queue can hold.
func (q *Queue) Cap() int { return len(q.buf) - 1 }

// Overflows returns the number of puts rejected because the queue was full.
func (q *Queue) Overflows() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflows
}

func (q *Queue) next(i int) int {
	i++
	if i == len(q.buf) {
		return 0
	}
	return i
}
