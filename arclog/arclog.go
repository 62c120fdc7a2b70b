// Package arclog implements ArcLog: an append-only, shared,
// reference-counted log that grows by cooperative forwarding. When a
// generation's backing array is exhausted, an appender allocates a new,
// larger generation, copies the committed prefix across, and links the
// old generation to it via an atomic forward pointer; readers that
// still hold the old generation keep a perfectly valid, immutable view
// of the prefix they already observed.
//
// The hard part -- the lock-free append protocol and the forwarding
// reference-counting discipline underneath it -- lives in word.go (the
// packed length word) and internal/gen (the chain/refcount core).
// Everything in this file is the engine that ties the two together.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package arclog

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	jsoniter "github.com/json-iterator/go"

	"github.com/NVIDIA/aisarc/internal/dbg"
	"github.com/NVIDIA/aisarc/internal/gen"
	"github.com/NVIDIA/aisarc/internal/nlog"
	"github.com/NVIDIA/aisarc/internal/slab"
	"github.com/NVIDIA/aisarc/internal/xerr"
)

const spinWarnThreshold = 4096

// body is one generation's payload: the packed length word plus the
// backing array and the allocator that produced it. Once word has its
// has-forward bit set, body is frozen -- nothing may write to data
// again, and len(word) is final.
type body[T any] struct {
	word  atomic.Uint64
	data  []T
	alloc slab.Allocator[T]
}

// Log is a handle on one generation of an ArcLog[T] chain. It is not
// safe to share a single Log value across goroutines: clone it with
// Clone and give each goroutine its own handle, the same discipline
// the teacher's non-shareable per-connection handles use and the
// discipline the source spec requires so that per-handle caching
// optimizations remain possible later.
type Log[T any] struct {
	g         *gen.Generation[*body[T]]
	elemSize  int
	zeroSized bool
	closed    atomic.Bool
}

// Options configures construction beyond the zero-value defaults, the
// same "plain struct literal" pattern the teacher uses for optional
// parameters (e.g. memsys.MMSA{Name, TimeIval, MinFree}).
type Options[T any] struct {
	// Capacity pre-sizes the first generation; 0 defers allocation
	// until the first append, which itself forwards into a freshly
	// grown generation (the "zero-capacity construction" boundary
	// case of spec.md §8).
	Capacity int
	// Allocator supplies backing arrays for every generation born
	// from this log, including generations created by growth.
	// Defaults to slab.Direct[T](), a pass-through make()/no-op pool.
	Allocator slab.Allocator[T]
}

// New returns an empty ArcLog with no pre-allocated capacity.
func New[T any]() *Log[T] { return NewWithOptions[T](Options[T]{}) }

// NewWithCapacity pre-sizes the first generation.
func NewWithCapacity[T any](capHint int) *Log[T] {
	return NewWithOptions[T](Options[T]{Capacity: capHint})
}

// NewWithAllocator pre-sizes the first generation and supplies a
// custom backing allocator, the two options callers need most often
// named directly rather than via a struct literal.
func NewWithAllocator[T any](capHint int, alloc slab.Allocator[T]) *Log[T] {
	return NewWithOptions[T](Options[T]{Capacity: capHint, Allocator: alloc})
}

// NewWithOptions is the fully configurable constructor.
func NewWithOptions[T any](opts Options[T]) *Log[T] {
	if opts.Capacity < 0 {
		err := fmt.Errorf("capacity must be >= 0, got %d", opts.Capacity)
		panic(xerr.Wrap(err, "arclog: invalid construction options"))
	}

	var zero T
	elemSize := int(unsafe.Sizeof(zero))

	alloc := opts.Allocator
	if alloc == nil {
		alloc = slab.Direct[T]()
	}

	b := &body[T]{alloc: alloc}
	switch {
	case elemSize == 0:
		// Zero-sized elements: capacity is effectively unbounded, so
		// pre-allocate the entire representable length range. This
		// costs nothing at runtime -- a slice of a zero-sized type
		// occupies no backing storage regardless of its length.
		b.data = alloc.Get(int(maxLen))
	case opts.Capacity > 0:
		b.data = alloc.Get(opts.Capacity)
	}

	return &Log[T]{
		g:         gen.New(b),
		elemSize:  elemSize,
		zeroSized: elemSize == 0,
	}
}

// releaseBody is the Go analogue of spec.md §4.1 step 4,
// "deallocate G via its embedded allocator handle": once nothing can
// reach this specific generation anymore -- whether it is the chain's
// tail or a frozen predecessor every reader has since walked past --
// its backing buffer goes back to whatever allocator produced it.
// Individual elements get no explicit destructor call (Go has none to
// offer); a finalizer-based dropCounter test payload (arclog_test.go)
// observes per-element collection indirectly instead.
func releaseBody[T any](b *body[T]) {
	b.alloc.Put(b.data)
}

// Clone returns a new handle referencing the same generation as l,
// incrementing its refcount. The clone observes exactly what l
// observes until it calls Update.
func (l *Log[T]) Clone() *Log[T] {
	l.g.Acquire()
	return &Log[T]{g: l.g, elemSize: l.elemSize, zeroSized: l.zeroSized}
}

// Close releases l's reference. l must not be used afterwards; a
// second Close on the same handle is a double-free and panics with
// xerr.ErrClosed rather than silently double-decrementing the chain's
// refcount.
func (l *Log[T]) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		panic(xerr.ErrClosed)
	}
	l.g.Release(releaseBody[T])
}

// RefCount reports the live strong-reference count of l's current
// generation. Diagnostic only; stale the instant it is read under
// concurrent clone/close.
func (l *Log[T]) RefCount() int64 { return l.g.RefCount() }

// Len returns the committed length of the generation l currently
// references. It never reflects appends made to a later generation
// until l.Update() (or an append through l that grows the log) adopts
// that generation.
func (l *Log[T]) Len() int {
	w := l.g.Payload.word.Load()
	return int(wordLen(w))
}

// At returns the element at index i within l's observed length, and
// whether i was in range. Once returned true for index i, it always
// will be: initialized slots are never overwritten (invariant 5).
func (l *Log[T]) At(i int) (T, bool) {
	b := l.g.Payload
	w := b.word.Load()
	if i < 0 || uint64(i) >= wordLen(w) {
		var zero T
		return zero, false
	}
	return b.data[i], true
}

// Update walks l's forward chain all the way to the tail generation
// and adopts it, mirroring spec.md §4.5's "walk to tail" handle
// adoption. Returns whether an advance happened.
func (l *Log[T]) Update() bool {
	next, moved := gen.AdvanceToTail(l.g, releaseBody[T])
	l.g = next
	return moved
}

// Inspect returns a JSON snapshot of l's current generation for tests
// and diagnostics, following the teacher's jsoniter-based
// introspection style (stats/common_statsd.go).
func (l *Log[T]) Inspect() string {
	w := l.g.Payload.word.Load()
	snap := struct {
		Len        int   `json:"len"`
		Cap        int   `json:"cap"`
		HasForward bool  `json:"has_forward"`
		Locked     bool  `json:"locked"`
		RefCount   int64 `json:"ref_count"`
	}{
		Len:        int(wordLen(w)),
		Cap:        len(l.g.Payload.data),
		HasForward: hasForward(w),
		Locked:     isLocked(w),
		RefCount:   l.g.RefCount(),
	}
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(snap)
	dbg.AssertNoErr(err)
	return out
}

// String implements fmt.Stringer via Inspect, satisfying the
// "debug-format" entry of spec.md §6's external interface.
func (l *Log[T]) String() string { return l.Inspect() }

// AppendSpin appends v, retrying under contention until it succeeds,
// and returns the index assigned to the first element of v.
func (l *Log[T]) AppendSpin(v ...T) int {
	idx, _ := l.append(v, -1, true)
	return idx
}

// AppendOneShot attempts the append exactly once. On contention it
// returns (0, false) without appending anything.
func (l *Log[T]) AppendOneShot(v ...T) (int, bool) {
	return l.append(v, -1, false)
}

// AppendOneShotErr is AppendOneShot for callers that want a wrapped
// error to log rather than a bare bool, per spec.md §7's error design:
// the zero-allocation bool return stays the primary API, this is a
// convenience wrapper around it.
func (l *Log[T]) AppendOneShotErr(v ...T) (int, error) {
	idx, ok := l.AppendOneShot(v...)
	if !ok {
		return 0, xerr.NewErrAppendRejected("contention appending %d element(s)", len(v))
	}
	return idx, nil
}

// AppendSpinFenced appends only while the observed length stays <=
// fence, spinning under contention; ok is false if the fence was
// already exceeded.
func (l *Log[T]) AppendSpinFenced(fence int, v ...T) (int, bool) {
	return l.append(v, fence, true)
}

// AppendOneShotFenced combines the one-shot and index-fence policies.
func (l *Log[T]) AppendOneShotFenced(fence int, v ...T) (int, bool) {
	return l.append(v, fence, false)
}

// append implements spec.md §4.3 end to end. fence < 0 means "no
// fence." Per spec.md §4.3's "handle advancement after grow," growing
// the log is the only way this call moves l's own handle forward: an
// in-place append into a tail reached by walking past l's own
// (possibly stale) generation leaves l referencing that same stale
// generation, exactly as if the write had been made by some other
// handle entirely. Callers that need their own view to catch up call
// Update.
func (l *Log[T]) append(v []T, fence int, spin bool) (int, bool) {
	if len(v) == 0 {
		return l.Len(), true
	}
	if l.zeroSized {
		return l.appendZeroSized(v, fence, spin)
	}

	cur := l.g
	tail := gen.WalkToTail(cur)
	spins := 0

	for {
		b := tail.Payload
		w := b.word.Load()

		if hasForward(w) {
			tail = tail.Forward()
			dbg.Assert(tail != nil, "has-forward bit set with nil forward pointer")
			continue
		}

		length := int(wordLen(w))
		count := len(v)
		grow := length+count > len(b.data)

		if fence >= 0 && length > fence {
			return 0, false
		}

		if !b.word.CompareAndSwap(w, lockWord(w)) {
			if !spin {
				return 0, false
			}
			spins++
			if spins == spinWarnThreshold {
				nlog.Warningf("arclog: append spinning, %d retries on generation with len=%d", spins, length)
			}
			runtime.Gosched()
			continue
		}

		if grow {
			idx, newTail := l.growLocked(tail, w, length, v)
			l.adopt(cur, newTail)
			return idx, true
		}

		copy(b.data[length:], v)
		b.word.Store(w + uint64(count))
		// Per spec.md §4.3, growth is the only way a handle moves
		// forward implicitly: an in-place append leaves l pointing at
		// whatever generation it already referenced, even if that
		// generation is not (any longer) the chain's tail.
		return length, true
	}
}

// appendZeroSized is the fast path of spec.md §4.3: zero-sized
// elements need no backing storage and never grow, so the protocol
// degenerates to a CAS loop over the length bits alone.
func (l *Log[T]) appendZeroSized(v []T, fence int, spin bool) (int, bool) {
	// Zero-sized elements never forward (capacity never runs out), so
	// l.g is always already the tail; no handle advancement applies.
	b := l.g.Payload
	count := uint64(len(v))
	for {
		w := b.word.Load()
		length := wordLen(w)
		if fence >= 0 && length > uint64(fence) {
			return 0, false
		}
		if length+count > maxLen {
			panic("arcsync: length overflow")
		}
		if b.word.CompareAndSwap(w, w+count) {
			return int(length), true
		}
		if !spin {
			return 0, false
		}
		runtime.Gosched()
	}
}

// adopt moves l's handle to landed if it differs from cur, following
// the same acquire-then-release dance as gen.AdvanceToTail so l never
// ends up pointing behind the generation it just wrote into.
func (l *Log[T]) adopt(cur, landed *gen.Generation[*body[T]]) {
	if landed == cur {
		return
	}
	landed.Acquire()
	cur.Release(releaseBody[T])
	l.g = landed
}

// growLocked performs spec.md §4.3 step 6. The caller must already
// hold the writer lock (its CAS from w to lockWord(w) must have
// succeeded) before calling this.
func (l *Log[T]) growLocked(tail *gen.Generation[*body[T]], w uint64, length int, v []T) (int, *gen.Generation[*body[T]]) {
	b := tail.Payload
	count := len(v)
	newCap := growCap(len(b.data), length+count, growthFloor(l.elemSize))

	newAlloc := b.alloc.Clone()
	newData := newAlloc.Get(newCap)
	if len(newData) < newCap {
		panic(fmt.Sprintf("arclog: allocator returned %d slots, want %d", len(newData), newCap))
	}
	copy(newData, b.data[:length])
	copy(newData[length:], v)

	newBody := &body[T]{alloc: newAlloc, data: newData}
	newBody.word.Store(uint64(length + count))
	newGen := gen.New(newBody)

	installed := tail.InstallForward(newGen)
	dbg.Assert(installed, "forward already installed while holding the writer lock")

	b.word.Store(markForward(w))
	nlog.Infof("arclog: grew generation len=%d cap=%d -> cap=%d", length, len(b.data), newCap)

	return length, newGen
}

func growthFloor(elemSize int) int {
	switch {
	case elemSize == 1:
		return 8
	case elemSize <= 1024:
		return 4
	default:
		return 1
	}
}

func growCap(curCap, need, floor int) int {
	newCap := curCap * 2
	if need > newCap {
		newCap = need
	}
	if floor > newCap {
		newCap = floor
	}
	return newCap
}
