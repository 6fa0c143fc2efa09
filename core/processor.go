package core

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// dequeuePollInterval bounds how long a worker blocks waiting for the
	// next handle before checking isRunning again. Matches the 50ms
	// wait_dequeue_timed poll in the original engine.
	dequeuePollInterval = 50 * time.Millisecond
	// shutdownDrainTimeout bounds how long Shutdown waits for the live
	// task count to reach zero before giving up and joining workers
	// anyway.
	shutdownDrainTimeout = 10 * time.Millisecond
	// queueWaitSampleFrequency: only every Nth Schedule call stamps a
	// real wait-time sample; the rest leave the timepoint unset.
	queueWaitSampleFrequency = 16
)

// ProcessorDeps bundles a TaskProcessor's pluggable collaborators. Zero
// fields fall back to no-op/stdlib defaults.
type ProcessorDeps struct {
	Logger       Logger
	Metrics      Metrics
	PanicHandler PanicHandler
}

// TaskProcessor owns a fixed pool of worker goroutines draining a shared
// MPMC queue of TaskContext handles. It is the engine's unit of
// concurrency: every task runs on exactly one TaskProcessor for its
// entire lifetime.
type TaskProcessor struct {
	name     string
	config   TaskProcessorConfig
	settings *atomicSettings

	queue     *contextQueue
	signal    chan struct{}
	queueSize atomic.Int64

	counter  *TaskCounter
	detached *detachedRegistry

	// outstanding tracks which TaskIDs have already been counted as live
	// in counter, so that a task rescheduled after waking from a
	// WaitList (or handed to Adopt) is never double-counted. A task is
	// removed the moment it is first observed finished.
	outstandingMu sync.Mutex
	outstanding   map[TaskID]struct{}

	queueWaitOverloaded atomic.Bool
	samplingCounter     atomic.Uint64

	isRunning    atomic.Bool
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler
}

// NewTaskProcessor constructs a TaskProcessor and immediately starts its
// worker goroutines.
func NewTaskProcessor(config TaskProcessorConfig, settings TaskProcessorSettings, deps ProcessorDeps) *TaskProcessor {
	if config.WorkerThreads <= 0 {
		panic("core: TaskProcessorConfig.WorkerThreads must be positive")
	}
	if deps.Logger == nil {
		deps.Logger = NewDefaultLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = NilMetrics{}
	}
	if deps.PanicHandler == nil {
		deps.PanicHandler = &DefaultPanicHandler{}
	}

	p := &TaskProcessor{
		name:         config.ThreadName,
		config:       config,
		settings:     newAtomicSettings(settings),
		queue:        newContextQueue(),
		signal:       make(chan struct{}, config.WorkerThreads*2),
		counter:      NewTaskCounter(),
		detached:     newDetachedRegistry(),
		outstanding:  make(map[TaskID]struct{}),
		logger:       deps.Logger.With(F("processor", config.ThreadName)),
		metrics:      deps.Metrics,
		panicHandler: deps.PanicHandler,
	}
	p.isRunning.Store(true)

	p.wg.Add(config.WorkerThreads)
	for i := 0; i < config.WorkerThreads; i++ {
		go p.workerLoop(i)
	}
	return p
}

// Name returns the processor's configured thread name.
func (p *TaskProcessor) Name() string { return p.name }

// GetProfilerThreshold returns the DoStep duration above which a
// slow-step warning is logged.
func (p *TaskProcessor) GetProfilerThreshold() time.Duration {
	return p.config.ProfilerThreshold
}

// SetSettings updates the three overload tunables, each with its own
// atomic store (a reader may see a mix of old and new values while the
// update is in progress). Visible to Schedule and the worker loop on
// their very next read; no draining or synchronization with in-flight
// calls is required or performed.
func (p *TaskProcessor) SetSettings(settings TaskProcessorSettings) {
	p.settings.store(settings)
}

// GetTaskCounter exposes the live-task counter for callers that need to
// wait on it directly (e.g. tests, or a parent coordinator draining
// several processors).
func (p *TaskProcessor) GetTaskCounter() *TaskCounter { return p.counter }

// Schedule enqueues ctx for execution. If the queue is already at the
// configured length threshold and ctx is not critical, HandleOverload
// runs before the enqueue. If the processor is shutting down, ctx is
// marked for cancellation but still enqueued: Schedule never rejects a
// handle outright.
func (p *TaskProcessor) Schedule(ctx TaskContext) {
	if ctx == nil {
		panic("core: TaskProcessor.Schedule of a nil context")
	}

	settings := p.settings.load()
	if settings.MaxQueueLength > 0 && !ctx.IsCritical() && int(p.queueSize.Load()) >= settings.MaxQueueLength {
		p.handleOverload(ctx, settings)
	}

	if p.shuttingDown.Load() {
		ctx.RequestCancel(CancelReasonShutdown)
	}

	p.stampQueueWaitTimepoint(ctx)
	p.markOutstanding(ctx)

	ctx.Retain()
	p.queueSize.Add(1)
	p.metrics.RecordQueueDepth(p.name, int(p.queueSize.Load()))
	p.queue.Push(ctx)
	p.signalOne()
}

// Adopt transfers ownership of a detached task into the processor's
// detached-context registry. The caller's reference on ctx is consumed:
// callers must not use ctx again after calling Adopt.
func (p *TaskProcessor) Adopt(ctx TaskContext) {
	if ctx == nil {
		panic("core: TaskProcessor.Adopt of a nil context")
	}
	p.markOutstanding(ctx)
	if alreadyFinished := p.detached.adopt(ctx); alreadyFinished {
		p.markDone(ctx)
	}
}

// Stats returns a point-in-time observability snapshot.
func (p *TaskProcessor) Stats() ProcessorStats {
	return ProcessorStats{
		Name:                    p.name,
		Workers:                 p.config.WorkerThreads,
		QueueSize:               int(p.queueSize.Load()),
		TaskOverload:            p.counter.TaskOverload(),
		TaskCancelOverload:      p.counter.TaskCancelOverload(),
		TaskSwitchSlow:          p.counter.TaskSwitchSlow(),
		QueueWaitTimeOverloaded: p.queueWaitOverloaded.Load(),
		LiveTasks:               p.counter.CurrentValue(),
	}
}

// Shutdown drains and stops the processor. Safe to call more than once;
// only the first call has any effect. Blocks until every worker
// goroutine has exited.
func (p *TaskProcessor) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.shuttingDown.Store(true)
		p.detached.cancelAll(CancelReasonShutdown)
		p.counter.WaitForExhaustion(shutdownDrainTimeout)

		p.isRunning.Store(false)
		p.wg.Wait()

		if dropped := p.queue.Clear(); dropped > 0 {
			p.queueSize.Add(int64(-dropped))
		}

		if live := p.counter.CurrentValue(); live != 0 {
			p.logger.Warn("task processor shut down with outstanding tasks", F("live_tasks", live))
		}
	})
}

// stampQueueWaitTimepoint implements 1-in-N wait-time sampling: only
// every Nth call records a real enqueue timestamp, the rest leave the
// timepoint zeroed. The original engine keys this off a per-thread call
// counter; here a single shared atomic word plays that role. The
// sampling ratio is preserved (roughly 1-in-16 calls are stamped);
// concurrent producers simply share the same rotating counter instead
// of each keeping an independent one.
func (p *TaskProcessor) stampQueueWaitTimepoint(ctx TaskContext) {
	n := p.samplingCounter.Add(1) - 1
	if n%queueWaitSampleFrequency == 0 {
		ctx.SetQueueWaitTimepoint(time.Now())
	} else {
		ctx.SetQueueWaitTimepoint(time.Time{})
	}
}

// markOutstanding records ctx as live exactly once across however many
// times it passes through Schedule/Adopt during its lifetime.
func (p *TaskProcessor) markOutstanding(ctx TaskContext) {
	id := ctx.GetTaskID()

	p.outstandingMu.Lock()
	_, already := p.outstanding[id]
	if !already {
		p.outstanding[id] = struct{}{}
	}
	p.outstandingMu.Unlock()

	if !already {
		p.counter.Increment()
	}
}

// markDone is the inverse of markOutstanding: it decrements the live
// counter exactly once, the first time ctx is observed finished or
// failed, no matter which code path (worker cleanup or Adopt) makes the
// observation.
func (p *TaskProcessor) markDone(ctx TaskContext) {
	id := ctx.GetTaskID()

	p.outstandingMu.Lock()
	_, tracked := p.outstanding[id]
	if tracked {
		delete(p.outstanding, id)
	}
	p.outstandingMu.Unlock()

	if tracked {
		p.counter.Decrement()
	}
}

func (p *TaskProcessor) signalOne() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// dequeue blocks until a handle is available or dequeuePollInterval
// elapses, whichever comes first. A timeout is reported to the caller
// as (nil, false) after accounting for it as a "slow" task switch.
func (p *TaskProcessor) dequeue(token ConsumerToken) (TaskContext, bool) {
	for {
		if ctx, ok := p.queue.Pop(token); ok {
			return ctx, true
		}

		select {
		case <-p.signal:
			continue
		case <-time.After(dequeuePollInterval):
			p.counter.AccountTaskSwitchSlow()
			p.metrics.RecordTaskSwitchSlow(p.name)
			return nil, false
		}
	}
}

// workerLoop is the body of a single worker goroutine: dequeue, run one
// step, account for the outcome, release, repeat until shut down.
func (p *TaskProcessor) workerLoop(workerID int) {
	defer p.wg.Done()

	wlog := p.logger.With(F("worker_id", workerID))

	token := NewConsumerToken()
	for {
		ctx, ok := p.dequeue(token)
		if !ok {
			if !p.isRunning.Load() {
				return
			}
			continue
		}

		p.queueSize.Add(-1)
		p.metrics.RecordQueueDepth(p.name, int(p.queueSize.Load()))

		p.checkWaitTime(ctx)

		failed := p.runStep(workerID, wlog, ctx)

		if failed || (ctx.IsDetached() && ctx.IsFinished()) {
			p.detached.removeIfPresent(ctx)
		}
		done := failed || ctx.IsFinished()
		ctx.Release()
		if done {
			p.markDone(ctx)
		}
	}
}

// runStep executes exactly one DoStep call, converting a panic into a
// reported failure instead of letting it take down the worker goroutine.
func (p *TaskProcessor) runStep(workerID int, wlog Logger, ctx TaskContext) (failed bool) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			failed = true
			p.metrics.RecordTaskPanic(p.name, rec)
			p.panicHandler.HandlePanic(p.name, workerID, ctx.GetTaskID(), rec, debug.Stack())
		}

		duration := time.Since(start)
		p.metrics.RecordStepDuration(p.name, duration)
		if threshold := p.config.ProfilerThreshold; threshold > 0 && duration > threshold {
			wlog.With(F("task_id", ctx.GetTaskID())).Warn("slow task step", F("duration", duration))
		}
	}()

	ctx.DoStep()
	return false
}

// checkWaitTime updates the processor-wide queue_wait_time_overloaded
// flag from ctx's sampled timepoint and triggers HandleOverload if it is
// set. An unset timepoint (not this call's sample) leaves the flag as
// whatever the previous task's check left it at, since only a sampled
// task has a timepoint to judge the threshold against.
func (p *TaskProcessor) checkWaitTime(ctx TaskContext) {
	settings := p.settings.load()
	if settings.MaxQueueWaitTime == 0 {
		p.queueWaitOverloaded.Store(false)
		p.metrics.RecordQueueWaitTimeOverloaded(p.name, false)
		return
	}

	if tp := ctx.GetQueueWaitTimepoint(); !tp.IsZero() {
		overloaded := time.Since(tp) >= settings.MaxQueueWaitTime
		p.queueWaitOverloaded.Store(overloaded)
		p.metrics.RecordQueueWaitTimeOverloaded(p.name, overloaded)
	}

	if p.queueWaitOverloaded.Load() {
		p.handleOverload(ctx, settings)
	}
}

// handleOverload records the overload event and, if the processor's
// current policy says to, cancels ctx when it is not critical.
func (p *TaskProcessor) handleOverload(ctx TaskContext, settings TaskProcessorSettings) {
	p.counter.AccountTaskOverload()
	p.metrics.RecordTaskOverload(p.name)

	if settings.OverloadAction != OverloadActionCancel {
		return
	}
	if ctx.IsCritical() {
		return
	}

	ctx.RequestCancel(CancelReasonOverload)
	p.counter.AccountTaskCancelOverload()
	p.metrics.RecordTaskCancelOverload(p.name)
}
