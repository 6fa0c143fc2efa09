package userver

import (
	"sync"
	"time"

	"github.com/fdr400/userver/core"
)

// StepFunc is one cooperative step of a FuncTaskContext's body. It
// returns true once the task has completed; returning false leaves the
// task parked until something calls Wakeup on it (typically a WaitList).
type StepFunc func(ctx *FuncTaskContext) (done bool)

// FuncTaskContext is a ready-made core.TaskContext for callers who don't
// need real stackful coroutines: it drives a StepFunc instead of
// switching stacks. Wakeup reschedules the context onto the processor
// it was created against, so it composes with core.WaitList exactly
// like a stackful task would.
type FuncTaskContext struct {
	core.RefCounted

	id        core.TaskID
	processor *core.TaskProcessor
	step      StepFunc

	mu           sync.Mutex
	finished     bool
	detached     bool
	critical     bool
	wait         time.Time
	cancelReason core.CancelReason
}

// NewFuncTaskContext creates a FuncTaskContext bound to processor. The
// context is not scheduled; call processor.Schedule(ctx) or Go to start
// it running.
func NewFuncTaskContext(processor *core.TaskProcessor, step StepFunc) *FuncTaskContext {
	c := &FuncTaskContext{
		id:        core.GenerateTaskID(),
		processor: processor,
		step:      step,
	}
	c.InitRefCounted(1)
	return c
}

// Go schedules fn to run to completion in a single step on processor and
// returns its context.
func Go(processor *core.TaskProcessor, fn func()) *FuncTaskContext {
	ctx := NewFuncTaskContext(processor, func(*FuncTaskContext) bool {
		fn()
		return true
	})
	processor.Schedule(ctx)
	return ctx
}

// GoDetached schedules fn like Go, but immediately adopts the resulting
// context so the processor tracks it even though nothing is waiting on
// its completion.
func GoDetached(processor *core.TaskProcessor, fn func()) {
	ctx := NewFuncTaskContext(processor, func(*FuncTaskContext) bool {
		fn()
		return true
	})
	processor.Schedule(ctx)
	processor.Adopt(ctx)
}

// Release overrides the promoted core.RefCounted.Release(func()) with
// the zero-argument signature core.TaskContext requires.
func (c *FuncTaskContext) Release() {
	c.RefCounted.Release(nil)
}

// DoStep runs one StepFunc call, marking the task finished if it
// reports completion.
func (c *FuncTaskContext) DoStep() {
	done := c.step(c)
	if done {
		c.mu.Lock()
		c.finished = true
		c.mu.Unlock()
	}
}

// Wakeup reschedules the context onto its owning processor.
func (c *FuncTaskContext) Wakeup(core.WakeupSource) {
	c.processor.Schedule(c)
}

// RequestCancel records reason for the step function to observe via
// CancelReason. FuncTaskContext never interrupts a running step: the
// step function must check CancelReason itself at a safe point.
func (c *FuncTaskContext) RequestCancel(reason core.CancelReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelReason = reason
}

// CancelReason returns the most recently requested cancellation reason,
// or CancelReasonNone if cancellation was never requested.
func (c *FuncTaskContext) CancelReason() core.CancelReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelReason
}

func (c *FuncTaskContext) SetQueueWaitTimepoint(t time.Time) {
	c.mu.Lock()
	c.wait = t
	c.mu.Unlock()
}

func (c *FuncTaskContext) GetQueueWaitTimepoint() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wait
}

func (c *FuncTaskContext) IsCritical() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.critical
}

// SetCritical marks the task critical, exempting it from overload
// cancellation. Call before the context is first scheduled.
func (c *FuncTaskContext) SetCritical(critical bool) {
	c.mu.Lock()
	c.critical = critical
	c.mu.Unlock()
}

func (c *FuncTaskContext) IsDetached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

func (c *FuncTaskContext) SetDetached() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

func (c *FuncTaskContext) IsFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func (c *FuncTaskContext) GetTaskID() core.TaskID { return c.id }
