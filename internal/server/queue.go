// ABOUTME: Bounded hand-off queue between the producer pump and the fan-out loop
// ABOUTME: Push never blocks; the end sentinel is delivered exactly once
package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackstream/jackstream-go/internal/audio"
)

// DefaultQueueDepth is the number of ticks buffered before drops begin
const DefaultQueueDepth = 64

// PopResult says what Pop produced
type PopResult int

const (
	// Popped means a tick was returned
	Popped PopResult = iota
	// Timeout means the wait elapsed with nothing queued
	Timeout
	// Ended means the producer finished and every queued tick was drained
	Ended
)

func (r PopResult) String() string {
	switch r {
	case Popped:
		return "popped"
	case Timeout:
		return "timeout"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Queue carries ticks from the producer goroutine to the fan-out loop
type Queue struct {
	ticks   chan audio.Tick
	done    chan struct{}
	endOnce sync.Once
	dropped atomic.Uint64
}

// NewQueue creates a queue holding up to depth ticks
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Queue{
		ticks: make(chan audio.Tick, depth),
		done:  make(chan struct{}),
	}
}

// Push enqueues a tick, dropping it when the queue is full or ended
func (q *Queue) Push(tick audio.Tick) bool {
	select {
	case <-q.done:
		q.dropped.Add(1)
		return false
	default:
	}

	select {
	case q.ticks <- tick:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// End marks the producer as finished. Ticks already queued are still delivered.
func (q *Queue) End() {
	q.endOnce.Do(func() {
		close(q.done)
	})
}

// Dropped returns the number of ticks discarded by Push
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of queued ticks
func (q *Queue) Len() int {
	return len(q.ticks)
}

// Pop waits up to wait for a tick. Queued ticks take priority over the end
// sentinel. A cancelled context reads as Ended.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (audio.Tick, PopResult) {
	select {
	case tick := <-q.ticks:
		return tick, Popped
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case tick := <-q.ticks:
		return tick, Popped
	case <-q.done:
		select {
		case tick := <-q.ticks:
			return tick, Popped
		default:
			return nil, Ended
		}
	case <-ctx.Done():
		return nil, Ended
	case <-timer.C:
		return nil, Timeout
	}
}
