// Package userver provides a Go rendering of userver's cooperative
// task-scheduling core: a bounded worker-thread pool (TaskProcessor), a
// suspension primitive for synchronization objects (WaitList), and the
// exhaustion-counting needed for graceful shutdown (TaskCounter).
//
// # Quick Start
//
// Create a processor and schedule work on it:
//
//	p := userver.NewTaskProcessor(
//		userver.TaskProcessorConfig{WorkerThreads: 4, ThreadName: "main"},
//		userver.DefaultTaskProcessorSettings(),
//		userver.ProcessorDeps{},
//	)
//	defer p.Shutdown()
//
//	userver.Go(p, func() {
//		println("running on the task processor")
//	})
//
// # Key Concepts
//
// TaskProcessor: owns a fixed pool of worker goroutines draining a
// shared FIFO queue of TaskContext handles. Schedule enqueues a handle;
// Adopt transfers ownership of a detached (fire-and-forget) task into
// the processor so its lifetime is still tracked.
//
// TaskContext: the minimal interface a coroutine implementation must
// satisfy to run on a TaskProcessor. FuncTaskContext is a ready-made
// implementation for plain Go closures, for callers that don't need
// real cooperative suspension.
//
// WaitList: an ordered set of parked TaskContexts associated with one
// synchronization object (a channel-like gate, a mutex, a future).
// Append/WakeupOne/WakeupAll require a Lock token proving the caller
// already holds the object's own critical section, so a predicate check
// and a park/wake never race.
//
// # Thread Safety
//
// Every exported type here is safe for concurrent use by multiple
// goroutines, matching the "any producer, any consumer" MPMC model the
// core package is built around.
package userver
