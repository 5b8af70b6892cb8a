package verstore_test

import (
	"sync"

	"github.com/ca-labs/verstore/pkg/verstore"
)

// testBehavior is a minimal Behavior for string keys and string payloads,
// backed by a refcounted registry. It exists purely for tests: it panics
// on double-release (catching a test that leaks the handle-ownership
// contract) instead of silently ignoring it.
type testBehavior struct {
	pager    verstore.Pager
	mu       sync.Mutex
	writerMu sync.Mutex

	keys     map[verstore.KeyHandle]string
	keyRefs  map[verstore.KeyHandle]int
	nextKey  uint64

	payloads map[verstore.PayloadHandle]string
	payRefs  map[verstore.PayloadHandle]int
	nextPay  uint64
}

func newTestBehavior() *testBehavior {
	return &testBehavior{
		pager:    verstore.NewHeapPager(),
		keys:     make(map[verstore.KeyHandle]string),
		keyRefs:  make(map[verstore.KeyHandle]int),
		payloads: make(map[verstore.PayloadHandle]string),
		payRefs:  make(map[verstore.PayloadHandle]int),
	}
}

func (b *testBehavior) key(s string) verstore.KeyHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextKey++
	h := verstore.KeyHandle(b.nextKey)
	b.keys[h] = s
	b.keyRefs[h] = 1
	return h
}

func (b *testBehavior) payload(s string) verstore.PayloadHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPay++
	h := verstore.PayloadHandle(b.nextPay)
	b.payloads[h] = s
	b.payRefs[h] = 1
	return h
}

func (b *testBehavior) keyString(h verstore.KeyHandle) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keys[h]
}

func (b *testBehavior) payloadString(h verstore.PayloadHandle) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payloads[h]
}

func (b *testBehavior) HashKey(h verstore.KeyHandle) uint64 {
	b.mu.Lock()
	s := b.keys[h]
	b.mu.Unlock()
	var hash uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= 1099511628211
	}
	return hash
}

func (b *testBehavior) EqualKeys(x, y verstore.KeyHandle) bool {
	if x == y {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keys[x] == b.keys[y]
}

func (b *testBehavior) LessKeys(x, y verstore.KeyHandle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keys[x] < b.keys[y]
}

func (b *testBehavior) EqualPayloads(x, y verstore.PayloadHandle) bool {
	if x == y {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payloads[x] == b.payloads[y]
}

func (b *testBehavior) ReleaseKey(h verstore.KeyHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keyRefs[h] <= 0 {
		panic("testBehavior: ReleaseKey of a handle with no references left")
	}
	b.keyRefs[h]--
	if b.keyRefs[h] <= 0 {
		delete(b.keys, h)
		delete(b.keyRefs, h)
	}
}

func (b *testBehavior) ReleasePayload(h verstore.PayloadHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.payRefs[h] <= 0 {
		panic("testBehavior: ReleasePayload of a handle with no references left")
	}
	b.payRefs[h]--
	if b.payRefs[h] <= 0 {
		delete(b.payloads, h)
		delete(b.payRefs, h)
	}
}

func (b *testBehavior) ReleaseKeySubscription(verstore.KeySubscriptionHandle)       {}
func (b *testBehavior) ReleaseSubkeySubscription(verstore.SubkeySubscriptionHandle) {}

func (b *testBehavior) DuplicateKey(h verstore.KeyHandle) verstore.KeyHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keyRefs[h]++
	return h
}

func (b *testBehavior) DuplicatePayload(h verstore.PayloadHandle) verstore.PayloadHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payRefs[h]++
	return h
}

func (b *testBehavior) Pager() verstore.Pager { return b.pager }

func (b *testBehavior) LockWriterMutex()   { b.writerMu.Lock() }
func (b *testBehavior) UnlockWriterMutex() { b.writerMu.Unlock() }

var _ verstore.Behavior = (*testBehavior)(nil)
