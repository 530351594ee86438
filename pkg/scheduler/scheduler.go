// Package scheduler drives the periodic activities of a node: stabilize,
// fix-fingers, gossip rounds and ping sweeps.
//
// Each activity runs on its own goroutine so a slow tick never blocks the
// others. Tick times are jittered to avoid nodes synchronising.
package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"
)

type Scheduler struct {
	shutdownCh chan struct{}
	closed     *atomic.Bool

	wg sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{
		shutdownCh: make(chan struct{}),
		closed:     atomic.NewBool(false),
	}
}

// Schedule runs f at the given interval until the scheduler is closed.
//
// f must have bounded duration; anything that may block indefinitely must be
// offloaded to its own goroutine by the caller.
func (s *Scheduler) Schedule(interval time.Duration, f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// Add 10% jitter to avoid nodes synchronising.
				jitterMs := (rand.Int63() % (interval.Milliseconds() + 1)) / 10
				select {
				case <-time.After(time.Duration(jitterMs) * time.Millisecond):
					f()
				case <-s.shutdownCh:
					return
				}

			case <-s.shutdownCh:
				return
			}
		}
	}()
}

// Close stops all scheduled activities and waits for in-flight ticks to
// finish.
func (s *Scheduler) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.shutdownCh)
	s.wg.Wait()
}
