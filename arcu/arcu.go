// Package arcu implements Arcu: a single-slot, reference-counted,
// atomically-replaceable cell. Unlike ArcLog, Arcu never grows a
// sequence -- every Replace retires the entire current value and
// installs a brand new one, one generation at a time, down the same
// forwarding chain that internal/gen already implements for ArcLog.
//
// The defining asymmetry (spec.md §4.6, cross-checked against the
// replace-lag scenario of spec.md §8) is that Replace never moves the
// replacer's own handle forward. A handle only ever sees a fresher
// value by explicitly calling Update, UpdateLatest, or Observe.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package arcu

import (
	"context"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"github.com/NVIDIA/aisarc/internal/dbg"
	"github.com/NVIDIA/aisarc/internal/gen"
	"github.com/NVIDIA/aisarc/internal/xerr"
)

// cell is one generation's payload: an immutable value plus the single
// waker shared across the whole chain. wake is a pointer set once at
// New and copied unchanged into every later cell, so any generation in
// the chain can reach the one pending observer.
type cell[T any] struct {
	value T
	wake  *waker
}

// Ref is a handle on one generation of an Arcu[T] chain. Like
// arclog.Log, it is not safe to share a single Ref across goroutines;
// clone it and hand each goroutine its own handle.
type Ref[T any] struct {
	g      *gen.Generation[*cell[T]]
	closed atomic.Bool
}

// New returns a Ref owning the first generation, holding v.
func New[T any](v T) *Ref[T] {
	c := &cell[T]{value: v, wake: newWaker()}
	return &Ref[T]{g: gen.New(c)}
}

func releaseCell[T any](_ *cell[T]) {
	// Nothing to do explicitly; the garbage collector reclaims value
	// and wake once the owning *cell[T] becomes unreachable.
}

// Clone returns a new handle referencing the same generation as r,
// incrementing its refcount.
func (r *Ref[T]) Clone() *Ref[T] {
	r.g.Acquire()
	return &Ref[T]{g: r.g}
}

// Close releases r's reference. r must not be used afterwards; a
// second Close on the same handle is a double-free and panics with
// xerr.ErrClosed rather than silently double-decrementing the chain's
// refcount.
func (r *Ref[T]) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		panic(xerr.ErrClosed)
	}
	r.g.Release(releaseCell[T])
}

// RefCount reports the live strong-reference count of r's current
// generation. Diagnostic only.
func (r *Ref[T]) RefCount() int64 { return r.g.RefCount() }

// Load returns the value r currently observes. It never reflects a
// Replace made by another handle until r.Update (or UpdateLatest, or
// Observe) adopts the generation that Replace installed.
func (r *Ref[T]) Load() T { return r.g.Payload.value }

// Replace installs v as a brand new generation at the tail of r's
// chain and wakes any pending Observe call. Per spec.md §4.6, Replace
// never advances r's own handle: after Replace returns, r.Load still
// returns the value it observed before the call, exactly as the
// replace-lag scenario of spec.md §8 requires.
func (r *Ref[T]) Replace(v T) {
	tail := gen.WalkToTail(r.g)
	newCell := &cell[T]{value: v, wake: tail.Payload.wake}
	newGen := gen.New(newCell)

	for {
		if tail.InstallForward(newGen) {
			break
		}
		next := tail.Forward()
		dbg.Assert(next != nil, "InstallForward lost the race but left no successor")
		tail = next
	}

	tail.Payload.wake.fire()
}

// Update advances r by at most one hop toward the tail, per spec.md
// §4.5's "commits to at most one hop per call." Returns whether r
// moved.
func (r *Ref[T]) Update() bool {
	next, moved := gen.AdvanceOne(r.g, releaseCell[T])
	r.g = next
	return moved
}

// UpdateLatest walks r all the way to the chain's current tail.
// Returns whether r moved.
func (r *Ref[T]) UpdateLatest() bool {
	next, moved := gen.AdvanceToTail(r.g, releaseCell[T])
	r.g = next
	return moved
}

// Observe blocks until a generation newer than r's own is available
// (or ctx is done) and returns a freshly cloned handle on it. Unlike
// Update/UpdateLatest, Observe never mutates r itself -- it hands back
// an independent Ref, leaving r's own view exactly where it was, the
// same non-advancing discipline Replace follows on the writer side.
//
// Spurious wakes are permissible: every Observe call that arms the
// waker before the next fire shares one channel (waker.arm documents
// this), so Observe always re-checks the chain after waking rather
// than assuming the wake means its own generation moved.
func (r *Ref[T]) Observe(ctx context.Context) (*Ref[T], error) {
	for {
		tail := gen.WalkToTail(r.g)
		if tail != r.g {
			tail.Acquire()
			return &Ref[T]{g: tail}, nil
		}

		// Register before checking again: a Replace landing between
		// the WalkToTail above and this arm() would otherwise fire
		// into an unarmed waker and be lost, leaving this call
		// blocked until ctx is done or some later, unrelated Replace
		// happens to wake it.
		ch := tail.Payload.wake.arm()
		if newTail := gen.WalkToTail(r.g); newTail != tail {
			newTail.Acquire()
			return &Ref[T]{g: newTail}, nil
		}

		select {
		case <-ch:
			// Re-check; the wake may belong to a different, earlier
			// observer that armed the same channel.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Inspect returns a JSON snapshot of r's current generation for tests
// and diagnostics, following the teacher's jsoniter-based
// introspection style (stats/common_statsd.go).
func (r *Ref[T]) Inspect() string {
	snap := struct {
		RefCount   int64 `json:"ref_count"`
		HasForward bool  `json:"has_forward"`
	}{
		RefCount:   r.g.RefCount(),
		HasForward: r.g.Forward() != nil,
	}
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(snap)
	dbg.AssertNoErr(err)
	return out
}

// String implements fmt.Stringer via Inspect.
func (r *Ref[T]) String() string { return r.Inspect() }
