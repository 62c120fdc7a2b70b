// Package gen implements the forwarding-chain concurrent
// reference-counting protocol shared by arclog.Log and arcu.Ref: a
// linked chain of immutable generations, each an atomically
// reference-counted node with an atomic forward pointer to its
// successor. This is the "hard, interesting" subsystem the rest of
// the module builds on; arclog and arcu each supply their own payload
// type and publication protocol (append-in-place-or-grow for arclog,
// CAS-install-at-tail for arcu) but share this file's refcount and
// chain-walk machinery verbatim.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package gen

import (
	"sync/atomic"

	"github.com/NVIDIA/aisarc/internal/dbg"
)

// maxRefCount guards against a leaked-clone bug underflowing the
// counter much later; hitting it means something is cloning without
// ever dropping, not a legitimate workload.
const maxRefCount = 1 << 62

// Generation is one node in a chain. T is the payload: for arclog it
// is a pointer to a mutable log body guarded by its own packed length
// word; for arcu it is a pointer to an immutable value-plus-waker
// cell. Either way, once a Generation has a non-nil forward, its own
// payload is frozen -- no further writes land on it -- but the
// payload itself stays put and is reclaimed on this generation, not
// handed off to the successor (see Release).
type Generation[T any] struct {
	count   atomic.Int64
	forward atomic.Pointer[Generation[T]]
	Payload T
}

// New returns a generation with refcount 1 and no successor, the
// state every chain starts in and every grow/replace target is born
// into.
func New[T any](payload T) *Generation[T] {
	g := &Generation[T]{Payload: payload}
	g.count.Store(1)
	return g
}

// Acquire records one more owner of g and returns g, mirroring the
// spec's acquire(G): a relaxed fetch-add, safe because the caller
// already pins g via an existing reference.
func (g *Generation[T]) Acquire() *Generation[T] {
	n := g.count.Add(1)
	dbg.Assertf(n > 1, "acquire observed non-positive prior refcount")
	if n > maxRefCount {
		panic("arcsync: refcount overflow, leaked clone")
	}
	return g
}

// RefCount returns the current strong count. Intended for tests and
// diagnostics; the value is stale the instant it is read under
// concurrent mutation.
func (g *Generation[T]) RefCount() int64 { return g.count.Load() }

// Release drops one reference to g. Each generation owns its own
// Payload outright -- a forward pointer is a chain-walk link, not a
// payload move -- so reclaim runs on every generation whose own count
// reaches zero, including ones with a successor: that is precisely
// the moment nothing can reach this generation's payload anymore
// (arclog's own backing buffer, say) even though later generations in
// the chain are still very much alive.
//
// A forward pointer counts as one implicit reference held by its
// owning generation against its successor (InstallForward does not
// bump the successor's count; the successor's birth count already
// covers it). Dropping g to zero therefore must still decrement its
// successor once, which is why the walk continues (iteratively, not
// recursively, to bound stack depth on long chains per the spec's
// note that either is sound) instead of stopping at the first zero.
func (g *Generation[T]) Release(reclaim func(payload T)) {
	for {
		if g.count.Add(-1) != 0 {
			return
		}
		// acquire fence: synchronize with every prior Release on g.
		_ = g.count.Load()
		if reclaim != nil {
			reclaim(g.Payload)
		}
		next := g.forward.Load()
		if next == nil {
			return
		}
		g = next
	}
}

// Forward returns g's successor, or nil if g is still the tail.
func (g *Generation[T]) Forward() *Generation[T] { return g.forward.Load() }

// InstallForward CAS-installs next as g's successor, returning true
// iff this call won the race. Both arclog's grow path (under the
// writer lock, so it can never race) and arcu's replace path (which
// races deliberately against concurrent replacers) call this; arcu
// retries on failure by walking to whatever generation won.
func (g *Generation[T]) InstallForward(next *Generation[T]) bool {
	return g.forward.CompareAndSwap(nil, next)
}

// WalkToTail follows forward pointers (acquire loads) until it finds
// a generation with no successor, the chain's current tail.
func WalkToTail[T any](g *Generation[T]) *Generation[T] {
	for {
		next := g.forward.Load()
		if next == nil {
			return g
		}
		g = next
	}
}

// AdvanceToTail implements handle.update's "walk all the way" mode
// (spec.md §4.5, Arcu's update_latest and ArcLog's Update): if the
// chain has moved past cur, adopt the tail, acquiring it before
// releasing cur so cur's payload is never reclaimed mid-walk. Returns
// the (possibly unchanged) current generation and whether an advance
// happened.
func AdvanceToTail[T any](cur *Generation[T], reclaim func(T)) (*Generation[T], bool) {
	tail := WalkToTail(cur)
	if tail == cur {
		return cur, false
	}
	tail.Acquire()
	cur.Release(reclaim)
	return tail, true
}

// AdvanceOne implements Arcu's update: at most one hop toward the
// tail, never all the way, per spec.md §4.5's "commits to at most one
// hop per call for update."
func AdvanceOne[T any](cur *Generation[T], reclaim func(T)) (*Generation[T], bool) {
	next := cur.forward.Load()
	if next == nil {
		return cur, false
	}
	next.Acquire()
	cur.Release(reclaim)
	return next, true
}
