package core

import "sync"

// detachedRegistry owns the set of detached-but-not-yet-finished task
// contexts, letting a caller walk away from a task without waiting on
// it while the processor still tracks it to completion. It is accessed
// only by TaskProcessor.Adopt and the worker loop's cleanup path. Its
// mutex serializes adopt's SetDetached-then-IsFinished check with the
// worker's removal of the same context; the worker reads IsDetached and
// IsFinished before it takes the mutex.
type detachedRegistry struct {
	mu    sync.Mutex
	items map[TaskID]TaskContext
}

func newDetachedRegistry() *detachedRegistry {
	return &detachedRegistry{items: make(map[TaskID]TaskContext)}
}

// adopt marks ctx detached under the registry's lock, and either keeps
// it alive (inserting it into the set) or, if it is already finished,
// releases the caller's reference immediately. Mirrors
// engine::TaskProcessor::Adopt: SetDetached and IsFinished are observed
// under the same lock the worker loop's cleanup uses.
func (r *detachedRegistry) adopt(ctx TaskContext) (alreadyFinished bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx.SetDetached()
	if ctx.IsFinished() {
		ctx.Release()
		return true
	}
	r.items[ctx.GetTaskID()] = ctx
	return false
}

// removeIfPresent removes ctx from the set if present, releasing the
// registry's reference. Idempotent: removing a context not in the set
// is a no-op, which is what lets worker cleanup call this unconditionally.
func (r *detachedRegistry) removeIfPresent(ctx TaskContext) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ctx.GetTaskID()
	if _, ok := r.items[id]; !ok {
		return
	}
	delete(r.items, id)
	ctx.Release()
}

// cancelAll invokes RequestCancel(reason) on every currently detached
// context, used during TaskProcessor shutdown.
func (r *detachedRegistry) cancelAll(reason CancelReason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ctx := range r.items {
		ctx.RequestCancel(reason)
	}
}

// len reports the number of detached contexts still tracked.
func (r *detachedRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
