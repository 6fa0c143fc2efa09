package core

import "sync"

// Lock is a capability token proving the caller holds the mutex guarding
// a WaitList's predicate. Append/WakeupOne/WakeupAll all require one;
// possessing the token is what lets "check predicate" and "change
// predicate" share the critical section that avoids lost wakeups.
//
// A Lock borrows the mutex for its lifetime: construct it with NewLock(mu),
// use it across the predicate check and the WaitList call, then Unlock
// it (or let the caller's own defer do so).
type Lock struct {
	mu *sync.Mutex
}

// NewLock locks mu and returns a capability token bound to it.
func NewLock(mu *sync.Mutex) Lock {
	mu.Lock()
	return Lock{mu: mu}
}

// Unlock releases the underlying mutex. Calling it on a zero Lock
// panics; calling it twice unlocks an unlocked sync.Mutex, which is a
// fatal runtime error.
func (l Lock) Unlock() {
	if l.mu == nil {
		panic("core: Unlock of a zero Lock")
	}
	l.mu.Unlock()
}

func (l Lock) assertHeld() {
	if l.mu == nil {
		panic("core: WaitList operation called without a held Lock")
	}
}

// WaitList is an ordered collection of suspended TaskContexts associated
// with one synchronization object. Every mutating operation except
// Remove requires the caller to already hold the object's Lock, so that
// "evaluate predicate, then park" and "change predicate, then wake"
// share a critical section.
//
// Removed waiters are tombstoned (left as a nil slot) rather than
// spliced out immediately, which keeps WakeupOne/WakeupAll O(1)
// amortized at the cost of Remove being O(n).
type WaitList struct {
	mu      sync.Mutex
	waiters []TaskContext
}

// NewWaitList creates an empty wait list.
func NewWaitList() *WaitList {
	return &WaitList{}
}

// Append parks ctx at the back of the list. lock must already be held
// for the WaitList's own synchronization object (not necessarily wl's
// internal mutex, which this type never exposes). No wakeup side
// effect.
func (wl *WaitList) Append(lock Lock, ctx TaskContext) {
	lock.assertHeld()
	if ctx == nil {
		panic("core: WaitList.Append of a nil context")
	}

	wl.mu.Lock()
	defer wl.mu.Unlock()

	ctx.Retain()
	wl.waiters = append(wl.waiters, ctx)
}

// WakeupOne drains leading tombstones, then wakes at most one live
// waiter and removes it. Returns quietly if the list holds no live
// waiters.
func (wl *WaitList) WakeupOne(lock Lock) {
	lock.assertHeld()

	wl.mu.Lock()
	defer wl.mu.Unlock()

	for len(wl.waiters) > 0 {
		ctx := wl.waiters[0]
		wl.waiters[0] = nil
		wl.waiters = wl.waiters[1:]
		if ctx != nil {
			ctx.Wakeup(WakeupSourceWaitList)
			ctx.Release()
			return
		}
	}
}

// WakeupAll wakes every live waiter in FIFO (append) order, then empties
// the list, including any trailing tombstones.
func (wl *WaitList) WakeupAll(lock Lock) {
	lock.assertHeld()

	wl.mu.Lock()
	defer wl.mu.Unlock()

	for _, ctx := range wl.waiters {
		if ctx != nil {
			ctx.Wakeup(WakeupSourceWaitList)
			ctx.Release()
		}
	}
	wl.waiters = wl.waiters[:0]
}

// Remove takes the list's internal lock itself (unlike Append/WakeupOne/
// WakeupAll, which require the caller's predicate lock). It nulls the
// first slot equal to ctx, turning it into a tombstone. Safe to call
// from ctx's own execution context, e.g. during cancellation unwind;
// this is the documented escape hatch for a cancelled wait. A no-op if
// ctx is not present. Asserts ctx occurs at most once.
func (wl *WaitList) Remove(ctx TaskContext) {
	if ctx == nil {
		return
	}

	wl.mu.Lock()
	defer wl.mu.Unlock()

	found := -1
	for i, w := range wl.waiters {
		if w == ctx {
			if found != -1 {
				panic("core: WaitList invariant violated: context appears twice")
			}
			found = i
		}
	}
	if found == -1 {
		return
	}
	wl.waiters[found] = nil
	ctx.Release()
}

// Len reports the number of slots (live waiters plus tombstones)
// currently held, for tests and diagnostics.
func (wl *WaitList) Len() int {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	return len(wl.waiters)
}
