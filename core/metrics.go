package core

import "time"

// Metrics defines the interface for exporting TaskProcessor
// observability to a monitoring system (Prometheus, StatsD, etc.). All
// methods are optional to implement meaningfully; a nil Metrics is never
// passed to a processor (NilMetrics is the default), so implementations
// do not need to guard against a nil receiver.
//
// Methods must be non-blocking and fast: they run on the worker's hot
// path.
type Metrics interface {
	// RecordQueueDepth records the current task_queue_size.
	RecordQueueDepth(processorName string, depth int)

	// RecordStepDuration records how long one DoStep call took.
	RecordStepDuration(processorName string, duration time.Duration)

	// RecordTaskPanic records that DoStep panicked.
	RecordTaskPanic(processorName string, panicInfo any)

	// RecordTaskOverload records one overload event (length- or
	// wait-time-based).
	RecordTaskOverload(processorName string)

	// RecordTaskCancelOverload records one overload-triggered
	// cancellation.
	RecordTaskCancelOverload(processorName string)

	// RecordTaskSwitchSlow records one worker-dequeue poll timeout.
	RecordTaskSwitchSlow(processorName string)

	// RecordQueueWaitTimeOverloaded records the current value of the
	// processor-wide queue_wait_time_overloaded flag.
	RecordQueueWaitTimeOverloaded(processorName string, overloaded bool)
}

// NilMetrics is the default, no-op Metrics implementation.
type NilMetrics struct{}

func (NilMetrics) RecordQueueDepth(string, int)               {}
func (NilMetrics) RecordStepDuration(string, time.Duration)   {}
func (NilMetrics) RecordTaskPanic(string, any)                {}
func (NilMetrics) RecordTaskOverload(string)                  {}
func (NilMetrics) RecordTaskCancelOverload(string)             {}
func (NilMetrics) RecordTaskSwitchSlow(string)                {}
func (NilMetrics) RecordQueueWaitTimeOverloaded(string, bool) {}
