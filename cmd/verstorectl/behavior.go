package main

import (
	"hash/fnv"
	"sync"

	"github.com/ca-labs/verstore/pkg/verstore"
)

// registry is a reference-counted interning table; demoBehavior keeps one
// for its key handles and one for its payload handles. Entries are
// identified by their value so that repeated InternKey/InternPayload
// calls for equal values reuse one handle instead of minting a new one per
// call.
type registry[T comparable] struct {
	mu       sync.Mutex
	byValue  map[T]uint64
	byHandle map[uint64]entry[T]
	next     uint64
}

type entry[T comparable] struct {
	value    T
	refcount int
}

func newRegistry[T comparable]() *registry[T] {
	return &registry[T]{
		byValue:  make(map[T]uint64),
		byHandle: make(map[uint64]entry[T]),
		next:     1, // 0 is reserved as the "no handle" sentinel
	}
}

// intern returns a handle for value, creating one with refcount 1 if this
// is the first reference, or bumping the refcount of an existing one.
func (r *registry[T]) intern(value T) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byValue[value]; ok {
		e := r.byHandle[h]
		e.refcount++
		r.byHandle[h] = e
		return h
	}

	h := r.next
	r.next++
	r.byValue[value] = h
	r.byHandle[h] = entry[T]{value: value, refcount: 1}
	return h
}

// duplicate bumps the refcount of an already-interned handle and returns
// it unchanged: demoBehavior's handles are plain table indices, so
// duplication is "share the slot, count one more owner" rather than a
// deep copy.
func (r *registry[T]) duplicate(h uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHandle[h]
	if !ok {
		return h
	}
	e.refcount++
	r.byHandle[h] = e
	return h
}

// release drops one reference, freeing the slot once the refcount reaches
// zero.
func (r *registry[T]) release(h uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHandle[h]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount > 0 {
		r.byHandle[h] = e
		return
	}
	delete(r.byHandle, h)
	delete(r.byValue, e.value)
}

func (r *registry[T]) value(h uint64) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byHandle[h]
	return e.value, ok
}

// demoBehavior is the Behavior verstorectl runs its Storage with: keys are
// interned strings, payloads are interned strings, and the writer
// mutex is a plain in-process sync.Mutex (the CLI is single-process, so a
// cross-process lock would be pointless machinery).
type demoBehavior struct {
	pager    verstore.Pager
	writerMu sync.Mutex
	keys     *registry[string]
	payloads *registry[string]
}

func newDemoBehavior(pager verstore.Pager) *demoBehavior {
	return &demoBehavior{
		pager:    pager,
		keys:     newRegistry[string](),
		payloads: newRegistry[string](),
	}
}

// InternKey returns a KeyHandle for s, owned by the caller. Release it with
// ReleaseKey once done; a Storage that stores the key keeps its own
// duplicate.
func (b *demoBehavior) InternKey(s string) verstore.KeyHandle {
	return verstore.KeyHandle(b.keys.intern(s))
}

// InternPayload is the payload equivalent of InternKey.
func (b *demoBehavior) InternPayload(s string) verstore.PayloadHandle {
	return verstore.PayloadHandle(b.payloads.intern(s))
}

func (b *demoBehavior) KeyString(h verstore.KeyHandle) (string, bool) {
	return b.keys.value(uint64(h))
}

func (b *demoBehavior) PayloadString(h verstore.PayloadHandle) (string, bool) {
	return b.payloads.value(uint64(h))
}

func (b *demoBehavior) HashKey(h verstore.KeyHandle) uint64 {
	s, _ := b.keys.value(uint64(h))
	sum := fnv.New64a()
	_, _ = sum.Write([]byte(s))
	return sum.Sum64()
}

func (b *demoBehavior) EqualKeys(a, c verstore.KeyHandle) bool {
	if a == c {
		return true
	}
	sa, _ := b.keys.value(uint64(a))
	sc, _ := b.keys.value(uint64(c))
	return sa == sc
}

func (b *demoBehavior) LessKeys(a, c verstore.KeyHandle) bool {
	sa, _ := b.keys.value(uint64(a))
	sc, _ := b.keys.value(uint64(c))
	return sa < sc
}

func (b *demoBehavior) EqualPayloads(a, c verstore.PayloadHandle) bool {
	if a == c {
		return true
	}
	sa, _ := b.payloads.value(uint64(a))
	sc, _ := b.payloads.value(uint64(c))
	return sa == sc
}

func (b *demoBehavior) ReleaseKey(h verstore.KeyHandle)      { b.keys.release(uint64(h)) }
func (b *demoBehavior) ReleasePayload(h verstore.PayloadHandle) { b.payloads.release(uint64(h)) }

// verstorectl never hands out subscription handles (it has no watch
// command), so these are no-ops kept only to satisfy the interface.
func (b *demoBehavior) ReleaseKeySubscription(verstore.KeySubscriptionHandle)       {}
func (b *demoBehavior) ReleaseSubkeySubscription(verstore.SubkeySubscriptionHandle) {}

func (b *demoBehavior) DuplicateKey(h verstore.KeyHandle) verstore.KeyHandle {
	return verstore.KeyHandle(b.keys.duplicate(uint64(h)))
}

func (b *demoBehavior) DuplicatePayload(h verstore.PayloadHandle) verstore.PayloadHandle {
	return verstore.PayloadHandle(b.payloads.duplicate(uint64(h)))
}

func (b *demoBehavior) Pager() verstore.Pager { return b.pager }

func (b *demoBehavior) LockWriterMutex()   { b.writerMu.Lock() }
func (b *demoBehavior) UnlockWriterMutex() { b.writerMu.Unlock() }
