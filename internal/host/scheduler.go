package host

import (
	"sync"
	"time"
)

// DefaultTick is the re-render coalescing window of the default scheduler.
const DefaultTick = 10 * time.Millisecond

// Scheduler runs deferred re-renders. The host schedules at most one call
// per pending batch of changes.
type Scheduler interface {
	Schedule(fn func())
}

// TickScheduler runs each scheduled func once Tick has elapsed.
type TickScheduler struct {
	Tick time.Duration
}

// Schedule implements Scheduler.
func (s TickScheduler) Schedule(fn func()) {
	time.AfterFunc(s.Tick, fn)
}

// ManualScheduler queues scheduled funcs until Flush. Tests use it to
// control exactly when a tick ends.
type ManualScheduler struct {
	queue []func()
	mutex sync.Mutex
}

// Schedule implements Scheduler.
func (s *ManualScheduler) Schedule(fn func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.queue = append(s.queue, fn)
}

// Pending returns the number of queued funcs.
func (s *ManualScheduler) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.queue)
}

// Flush runs every queued func and returns how many ran. Funcs scheduled
// while flushing wait for the next Flush.
func (s *ManualScheduler) Flush() int {
	s.mutex.Lock()
	queue := s.queue
	s.queue = nil
	s.mutex.Unlock()

	for _, fn := range queue {
		fn()
	}
	return len(queue)
}
