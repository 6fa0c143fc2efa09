package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// fakeTaskContext is a minimal, fully synchronous stand-in for a real
// coroutine-backed TaskContext. It lets tests drive DoStep/Wakeup/
// RequestCancel without any actual stack-switching machinery, which is
// out of scope for this package.
type fakeTaskContext struct {
	RefCounted

	id TaskID

	mu           sync.Mutex
	finished     bool
	detachedFlag bool
	critical     bool
	wait         time.Time
	cancelReason CancelReason

	wakeups atomic.Int32
	steps   atomic.Int32
	onStep  func(*fakeTaskContext)
}

func newFakeTaskContext() *fakeTaskContext {
	c := &fakeTaskContext{id: GenerateTaskID()}
	c.InitRefCounted(1)
	return c
}

// Release overrides the promoted RefCounted.Release(func()) so
// fakeTaskContext satisfies the zero-argument TaskContext.Release.
func (c *fakeTaskContext) Release() {
	c.RefCounted.Release(nil)
}

func (c *fakeTaskContext) DoStep() {
	c.steps.Add(1)
	if c.onStep != nil {
		c.onStep(c)
	}
}

func (c *fakeTaskContext) Steps() int32 { return c.steps.Load() }

func (c *fakeTaskContext) Wakeup(WakeupSource) { c.wakeups.Add(1) }

func (c *fakeTaskContext) Wakeups() int32 { return c.wakeups.Load() }

func (c *fakeTaskContext) RequestCancel(reason CancelReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelReason = reason
}

func (c *fakeTaskContext) CancelReason() CancelReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelReason
}

func (c *fakeTaskContext) SetQueueWaitTimepoint(t time.Time) {
	c.mu.Lock()
	c.wait = t
	c.mu.Unlock()
}

func (c *fakeTaskContext) GetQueueWaitTimepoint() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wait
}

func (c *fakeTaskContext) IsCritical() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.critical
}

func (c *fakeTaskContext) SetCritical(v bool) {
	c.mu.Lock()
	c.critical = v
	c.mu.Unlock()
}

func (c *fakeTaskContext) IsDetached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detachedFlag
}

func (c *fakeTaskContext) SetDetached() {
	c.mu.Lock()
	c.detachedFlag = true
	c.mu.Unlock()
}

func (c *fakeTaskContext) IsFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func (c *fakeTaskContext) SetFinished(v bool) {
	c.mu.Lock()
	c.finished = v
	c.mu.Unlock()
}

func (c *fakeTaskContext) GetTaskID() TaskID { return c.id }
