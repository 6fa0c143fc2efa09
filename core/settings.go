package core

import (
	"sync/atomic"
	"time"
)

// OverloadAction selects what HandleOverload does to a non-critical task
// once an overload condition is detected.
type OverloadAction int32

const (
	// OverloadActionIgnore counts the overload event but never cancels.
	OverloadActionIgnore OverloadAction = iota
	// OverloadActionCancel additionally calls RequestCancel(Overload) on
	// non-critical tasks.
	OverloadActionCancel
)

func (a OverloadAction) String() string {
	if a == OverloadActionCancel {
		return "cancel"
	}
	return "ignore"
}

// TaskProcessorConfig configures a TaskProcessor at construction time.
type TaskProcessorConfig struct {
	// WorkerThreads is the number of worker goroutines to run. Must be
	// positive.
	WorkerThreads int
	// ThreadName labels the worker goroutines for diagnostics/logging.
	ThreadName string
	// ProfilerThreshold is the DoStep duration above which a slow-step
	// warning is logged.
	ProfilerThreshold time.Duration
}

// TaskProcessorSettings holds the three tunables SetSettings can update
// at runtime, without restarting the processor.
type TaskProcessorSettings struct {
	// MaxQueueLength is the queue-length overload threshold; 0 disables
	// length-based overload detection.
	MaxQueueLength int
	// MaxQueueWaitTime is the queue-wait-time overload threshold; 0
	// disables wait-time-based overload detection.
	MaxQueueWaitTime time.Duration
	// OverloadAction decides whether HandleOverload also cancels.
	OverloadAction OverloadAction
}

// DefaultTaskProcessorSettings returns the zero-overload-policy default:
// no length cap, no wait-time cap, and Ignore.
func DefaultTaskProcessorSettings() TaskProcessorSettings {
	return TaskProcessorSettings{
		OverloadAction: OverloadActionIgnore,
	}
}

// atomicSettings is the lock-free home for TaskProcessorSettings so that
// Schedule and the worker loop can read it from any goroutine without a
// mutex. Each field is its own atomic word with relaxed ordering; a
// SetSettings call is visible to readers on their very next load, with
// no attempt to make a multi-field update appear atomic as a whole.
type atomicSettings struct {
	maxQueueLength   atomic.Int64
	maxQueueWaitTime atomic.Int64 // nanoseconds
	overloadAction   atomic.Int32
}

func newAtomicSettings(s TaskProcessorSettings) *atomicSettings {
	a := &atomicSettings{}
	a.store(s)
	return a
}

func (a *atomicSettings) store(s TaskProcessorSettings) {
	a.maxQueueLength.Store(int64(s.MaxQueueLength))
	a.maxQueueWaitTime.Store(int64(s.MaxQueueWaitTime))
	a.overloadAction.Store(int32(s.OverloadAction))
}

func (a *atomicSettings) load() TaskProcessorSettings {
	return TaskProcessorSettings{
		MaxQueueLength:   int(a.maxQueueLength.Load()),
		MaxQueueWaitTime: time.Duration(a.maxQueueWaitTime.Load()),
		OverloadAction:   OverloadAction(a.overloadAction.Load()),
	}
}
