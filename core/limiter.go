package core

import (
	"fmt"
	"sync"
)

// TaskLimiter enforces a maximum number of allowed task calls per run.
type TaskLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewTaskLimiter creates a new limiter with a max number of calls.
// If max == 0, unlimited calls are allowed.
func NewTaskLimiter(max int) *TaskLimiter {
	return &TaskLimiter{max: max}
}

// Increment increases the call counter and returns an error if the limit is exceeded.
func (tl *TaskLimiter) Increment() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.count++
	if tl.max > 0 && tl.count > tl.max {
		return fmt.Errorf("%w: %d", ErrTaskLimit, tl.max)
	}

	return nil
}

// Count returns the current number of calls made.
func (tl *TaskLimiter) Count() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	return tl.count
}

// Remaining returns how many calls are left before hitting the limit.
func (tl *TaskLimiter) Remaining() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.max == 0 {
		return -1 // unlimited
	}

	return tl.max - tl.count
}
