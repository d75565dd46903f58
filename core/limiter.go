package core

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrModelCallLimit is returned once a run has exhausted its model call budget.
var ErrModelCallLimit = errors.New("model call limit exceeded")

// ModelLimiter caps the number of model calls a single run may issue. One
// limiter is created per run and shared by every stage of that run.
type ModelLimiter struct {
	max   int64
	count atomic.Int64
}

// NewModelLimiter creates a limiter allowing max calls. If max <= 0, calls are
// unlimited.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: int64(max)}
}

// Acquire records one call and fails with ErrModelCallLimit past the budget.
// A nil limiter never fails.
func (ml *ModelLimiter) Acquire() error {
	if ml == nil {
		return nil
	}
	n := ml.count.Add(1)
	if ml.max > 0 && n > ml.max {
		return fmt.Errorf("%w: %d", ErrModelCallLimit, ml.max)
	}
	return nil
}

// Count returns the number of calls recorded so far.
func (ml *ModelLimiter) Count() int {
	if ml == nil {
		return 0
	}
	return int(ml.count.Load())
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	if ml == nil || ml.max <= 0 {
		return -1
	}
	if r := ml.max - ml.count.Load(); r > 0 {
		return int(r)
	}
	return 0
}
