package core

import (
	"sync"
	"testing"
	"time"
)

type panicHandlerSpy struct {
	mu     sync.Mutex
	called bool
}

func (s *panicHandlerSpy) HandlePanic(string, int, TaskID, any, []byte) {
	s.mu.Lock()
	s.called = true
	s.mu.Unlock()
}

func (s *panicHandlerSpy) Called() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.called
}

func newTestProcessor(workers int, settings TaskProcessorSettings, deps ProcessorDeps) *TaskProcessor {
	if deps.Logger == nil {
		deps.Logger = NewNoOpLogger()
	}
	return NewTaskProcessor(
		TaskProcessorConfig{WorkerThreads: workers, ThreadName: "test"},
		settings,
		deps,
	)
}

// TestTaskProcessorRunsScheduledTask covers S1: a scheduled task runs,
// and the live-task counter returns to zero once it finishes.
func TestTaskProcessorRunsScheduledTask(t *testing.T) {
	done := make(chan struct{})
	ctx := newFakeTaskContext()
	ctx.onStep = func(c *fakeTaskContext) {
		c.SetFinished(true)
		close(done)
	}

	p := newTestProcessor(2, DefaultTaskProcessorSettings(), ProcessorDeps{})
	defer p.Shutdown()

	p.Schedule(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("task was never run")
	}

	p.GetTaskCounter().WaitForExhaustion(time.Second)
	if live := p.GetTaskCounter().CurrentValue(); live != 0 {
		t.Fatalf("live task counter = %d, want 0 after task finished", live)
	}
	// The caller's own reference survives; only the queue's reference is
	// released after the step.
	if got := ctx.RefCount(); got != 1 {
		t.Fatalf("RefCount() = %d, want 1 (caller's own reference)", got)
	}
}

// TestTaskProcessorOverloadCancelsNonCritical covers S4/S5: once
// task_queue_size reaches MaxQueueLength, a subsequently scheduled
// non-critical task is cancelled with CancelReasonOverload while the
// task already queued ahead of it is left alone.
func TestTaskProcessorOverloadCancelsNonCritical(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	safeRelease := func() { releaseOnce.Do(func() { close(release) }) }
	defer safeRelease()

	busy := newFakeTaskContext()
	busy.onStep = func(*fakeTaskContext) {
		close(started)
		<-release
	}

	p := newTestProcessor(1, TaskProcessorSettings{
		MaxQueueLength: 1,
		OverloadAction: OverloadActionCancel,
	}, ProcessorDeps{})
	defer p.Shutdown()

	p.Schedule(busy)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("busy task never started")
	}

	queued := newFakeTaskContext()
	p.Schedule(queued)

	overloaded := newFakeTaskContext()
	p.Schedule(overloaded)

	safeRelease()
	p.GetTaskCounter().WaitForExhaustion(time.Second)

	if overloaded.CancelReason() != CancelReasonOverload {
		t.Fatalf("expected the third task to be cancelled for overload, got %v", overloaded.CancelReason())
	}
	if queued.CancelReason() != CancelReasonNone {
		t.Fatalf("the task already queued should not be cancelled, got %v", queued.CancelReason())
	}
}

// TestTaskProcessorOverloadIgnoreNeverCancels covers the Ignore policy:
// overload events are still counted, but nothing is cancelled.
func TestTaskProcessorOverloadIgnoreNeverCancels(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	safeRelease := func() { releaseOnce.Do(func() { close(release) }) }
	defer safeRelease()

	busy := newFakeTaskContext()
	busy.onStep = func(*fakeTaskContext) {
		close(started)
		<-release
	}

	p := newTestProcessor(1, TaskProcessorSettings{
		MaxQueueLength: 1,
		OverloadAction: OverloadActionIgnore,
	}, ProcessorDeps{})
	defer p.Shutdown()

	p.Schedule(busy)
	<-started

	second := newFakeTaskContext()
	p.Schedule(second)
	third := newFakeTaskContext()
	p.Schedule(third)

	safeRelease()
	p.GetTaskCounter().WaitForExhaustion(time.Second)

	if third.CancelReason() != CancelReasonNone {
		t.Fatalf("Ignore policy should never cancel, got %v", third.CancelReason())
	}
	if p.GetTaskCounter().TaskOverload() == 0 {
		t.Fatalf("overload should still be counted even under the Ignore policy")
	}
}

// TestTaskProcessorCriticalTaskNeverCancelled covers the critical-task
// carve-out from overload handling.
func TestTaskProcessorCriticalTaskNeverCancelled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	safeRelease := func() { releaseOnce.Do(func() { close(release) }) }
	defer safeRelease()

	busy := newFakeTaskContext()
	busy.onStep = func(*fakeTaskContext) {
		close(started)
		<-release
	}

	p := newTestProcessor(1, TaskProcessorSettings{
		MaxQueueLength: 1,
		OverloadAction: OverloadActionCancel,
	}, ProcessorDeps{})
	defer p.Shutdown()

	p.Schedule(busy)
	<-started

	critical := newFakeTaskContext()
	critical.SetCritical(true)
	p.Schedule(critical)

	blocker := newFakeTaskContext()
	p.Schedule(blocker)

	safeRelease()
	p.GetTaskCounter().WaitForExhaustion(time.Second)

	if critical.CancelReason() != CancelReasonNone {
		t.Fatalf("critical task must never be cancelled for overload, got %v", critical.CancelReason())
	}
}

// TestTaskProcessorOverloadByQueueWaitTime covers S6: once the 1-in-16
// sampled queue-wait check observes MaxQueueWaitTime exceeded, newly
// checked non-critical tasks start getting cancelled for overload even
// though the queue never crosses any length threshold.
func TestTaskProcessorOverloadByQueueWaitTime(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	safeRelease := func() { releaseOnce.Do(func() { close(release) }) }
	defer safeRelease()

	busy := newFakeTaskContext()
	busy.onStep = func(*fakeTaskContext) {
		close(started)
		<-release
	}

	p := newTestProcessor(1, TaskProcessorSettings{
		MaxQueueWaitTime: 10 * time.Millisecond,
		OverloadAction:   OverloadActionCancel,
	}, ProcessorDeps{})
	defer p.Shutdown()

	p.Schedule(busy)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("busy task never started")
	}

	// Schedule enough tasks past the busy one that the shared 1-in-16
	// sampling counter is guaranteed to stamp at least one of them with
	// a real queue-wait timepoint.
	const queuedCount = 20
	queued := make([]*fakeTaskContext, queuedCount)
	for i := range queued {
		queued[i] = newFakeTaskContext()
		p.Schedule(queued[i])
	}

	// Let the queued tasks sit well past MaxQueueWaitTime before the
	// worker is freed to drain them.
	time.Sleep(50 * time.Millisecond)
	safeRelease()

	p.GetTaskCounter().WaitForExhaustion(time.Second)

	if got := p.Stats().TaskCancelOverload; got == 0 {
		t.Fatalf("expected at least one task cancelled for queue-wait overload, got 0")
	}

	var cancelledForOverload int
	for _, ctx := range queued {
		if ctx.CancelReason() == CancelReasonOverload {
			cancelledForOverload++
		}
	}
	if cancelledForOverload == 0 {
		t.Fatalf("expected at least one queued task to carry CancelReasonOverload")
	}
}

// TestTaskProcessorAdoptDetachedEventuallyRemoved covers invariant 5
// end-to-end: an adopted task keeps the live counter above zero until
// it finishes, and finishing drains it.
func TestTaskProcessorAdoptDetachedEventuallyRemoved(t *testing.T) {
	ctx := newFakeTaskContext()
	p := newTestProcessor(1, DefaultTaskProcessorSettings(), ProcessorDeps{})
	defer p.Shutdown()

	p.Adopt(ctx)
	if live := p.GetTaskCounter().CurrentValue(); live != 1 {
		t.Fatalf("live counter = %d, want 1 right after adopting an unfinished task", live)
	}

	ctx.SetFinished(true)
	p.Schedule(ctx) // the task's own machinery rescheduling its final step

	p.GetTaskCounter().WaitForExhaustion(time.Second)
	if live := p.GetTaskCounter().CurrentValue(); live != 0 {
		t.Fatalf("live counter = %d, want 0 once the adopted task finishes", live)
	}
}

// TestTaskProcessorAdoptAlreadyFinished covers Adopt's immediate-release
// branch: the live counter never gets stuck above zero for a task that
// was already done by the time it was adopted.
func TestTaskProcessorAdoptAlreadyFinished(t *testing.T) {
	ctx := newFakeTaskContext()
	ctx.SetFinished(true)

	p := newTestProcessor(1, DefaultTaskProcessorSettings(), ProcessorDeps{})
	defer p.Shutdown()

	p.Adopt(ctx)

	if live := p.GetTaskCounter().CurrentValue(); live != 0 {
		t.Fatalf("live counter = %d, want 0 for an already-finished adopted task", live)
	}
}

// TestTaskProcessorRecoversFromPanic covers the DoStep-panics edge case:
// the worker survives, the panic handler runs, and the task still
// counts as done.
func TestTaskProcessorRecoversFromPanic(t *testing.T) {
	spy := &panicHandlerSpy{}
	ctx := newFakeTaskContext()
	ctx.onStep = func(*fakeTaskContext) { panic("boom") }

	p := newTestProcessor(1, DefaultTaskProcessorSettings(), ProcessorDeps{PanicHandler: spy})
	defer p.Shutdown()

	p.Schedule(ctx)
	p.GetTaskCounter().WaitForExhaustion(time.Second)

	if !spy.Called() {
		t.Fatalf("PanicHandler was never invoked")
	}
	if live := p.GetTaskCounter().CurrentValue(); live != 0 {
		t.Fatalf("a panicking task should still be counted as done, live = %d", live)
	}
}

// TestTaskProcessorShutdownCancelsDetached covers shutdown step 2: every
// still-detached context is cancelled with CancelReasonShutdown.
func TestTaskProcessorShutdownCancelsDetached(t *testing.T) {
	ctx := newFakeTaskContext()
	p := newTestProcessor(1, DefaultTaskProcessorSettings(), ProcessorDeps{})

	p.Adopt(ctx)
	p.Shutdown()

	if ctx.CancelReason() != CancelReasonShutdown {
		t.Fatalf("adopted task should be cancelled on shutdown, got %v", ctx.CancelReason())
	}
}

func TestTaskProcessorShutdownIdempotent(t *testing.T) {
	p := newTestProcessor(1, DefaultTaskProcessorSettings(), ProcessorDeps{})
	p.Shutdown()
	p.Shutdown()
}

// TestTaskProcessorScheduleDuringShutdownStillCancelled covers the
// Schedule-during-shutdown row of the error-handling table: Schedule
// never rejects a handle, it just marks it for cancellation.
func TestTaskProcessorScheduleDuringShutdownStillCancelled(t *testing.T) {
	p := newTestProcessor(1, DefaultTaskProcessorSettings(), ProcessorDeps{})
	p.shuttingDown.Store(true)

	ctx := newFakeTaskContext()
	ctx.onStep = func(c *fakeTaskContext) { c.SetFinished(true) }
	p.Schedule(ctx)

	p.GetTaskCounter().WaitForExhaustion(time.Second)
	if ctx.CancelReason() != CancelReasonShutdown {
		t.Fatalf("task scheduled while shutting down should be cancelled, got %v", ctx.CancelReason())
	}

	p.isRunning.Store(false)
	p.wg.Wait()
}
