package verstore

import "testing"

// recordingBehavior is a minimal Behavior that tracks every handle released
// through it, for asserting blob.destroy's release walk directly.
type recordingBehavior struct {
	pager Pager

	releasedKeys      []KeyHandle
	releasedPayloads  []PayloadHandle
	releasedKeySubs   []KeySubscriptionHandle
	releasedSubkeySubs []SubkeySubscriptionHandle
}

func newRecordingBehavior() *recordingBehavior {
	return &recordingBehavior{pager: NewHeapPager()}
}

func (b *recordingBehavior) HashKey(h KeyHandle) uint64       { return uint64(h) }
func (b *recordingBehavior) EqualKeys(x, y KeyHandle) bool    { return x == y }
func (b *recordingBehavior) LessKeys(x, y KeyHandle) bool     { return x < y }
func (b *recordingBehavior) EqualPayloads(x, y PayloadHandle) bool { return x == y }

func (b *recordingBehavior) ReleaseKey(h KeyHandle) { b.releasedKeys = append(b.releasedKeys, h) }
func (b *recordingBehavior) ReleasePayload(h PayloadHandle) {
	b.releasedPayloads = append(b.releasedPayloads, h)
}
func (b *recordingBehavior) ReleaseKeySubscription(h KeySubscriptionHandle) {
	b.releasedKeySubs = append(b.releasedKeySubs, h)
}
func (b *recordingBehavior) ReleaseSubkeySubscription(h SubkeySubscriptionHandle) {
	b.releasedSubkeySubs = append(b.releasedSubkeySubs, h)
}

func (b *recordingBehavior) DuplicateKey(h KeyHandle) KeyHandle         { return h }
func (b *recordingBehavior) DuplicatePayload(h PayloadHandle) PayloadHandle { return h }

func (b *recordingBehavior) Pager() Pager { return b.pager }

func (b *recordingBehavior) LockWriterMutex()   {}
func (b *recordingBehavior) UnlockWriterMutex() {}

var _ Behavior = (*recordingBehavior)(nil)

// Test_Blob_Destroy_Releases_Keys_Subkeys_And_Payloads builds a blob with one
// key and two subkeys directly through mutatingBlobAccessor, attaches
// subscriptions to both the key and one subkey, then checks destroy releases
// every handle exactly once.
func Test_Blob_Destroy_Releases_Keys_Subkeys_And_Payloads(t *testing.T) {
	behavior := newRecordingBehavior()
	b, err := newBlob(behavior.Pager(), 0, 8, 8)
	if err != nil {
		t.Fatalf("newBlob: %v", err)
	}
	acc := newMutatingBlobAccessor(b, behavior)

	key := KeyHandle(42)
	keyLoc, _, ok := acc.insertKeyIfMissing(key)
	if !ok {
		t.Fatalf("insertKeyIfMissing failed")
	}
	keySlotLoc, _ := b.findKeyState(behavior, key)
	b.keyStateBlockAt(keyLoc).setSubscription(KeySubscriptionHandle(7))

	sub1Loc, _, ok := acc.insertSubkeyIfMissing(keyLoc, 1)
	if !ok {
		t.Fatalf("insertSubkeyIfMissing(1) failed")
	}
	sub1SlotLoc, _ := b.findSubkeyState(keyLoc, mixKeyAndSubkeyHash(behavior.HashKey(key), 1), 1)
	if !acc.pushPayload(sub1Loc, sub1SlotLoc, VersionedPayload{Version: 1, Payload: PayloadHandle(100)}) {
		t.Fatalf("pushPayload(1) failed")
	}
	b.subkeyStateBlockAt(sub1Loc).setSubscription(SubkeySubscriptionHandle(9))

	sub2Loc, _, ok := acc.insertSubkeyIfMissing(keyLoc, 2)
	if !ok {
		t.Fatalf("insertSubkeyIfMissing(2) failed")
	}
	sub2SlotLoc, _ := b.findSubkeyState(keyLoc, mixKeyAndSubkeyHash(behavior.HashKey(key), 2), 2)
	if !acc.pushPayload(sub2Loc, sub2SlotLoc, VersionedPayload{Version: 1, Payload: PayloadHandle(200)}) {
		t.Fatalf("pushPayload(2) failed")
	}

	if !acc.pushSubkeysCount(keyLoc, keySlotLoc, 0, 2) {
		t.Fatalf("pushSubkeysCount failed")
	}

	if err := b.destroy(behavior); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if len(behavior.releasedKeys) != 1 || behavior.releasedKeys[0] != key {
		t.Fatalf("releasedKeys = %v, want [%v]", behavior.releasedKeys, key)
	}
	if len(behavior.releasedKeySubs) != 1 || behavior.releasedKeySubs[0] != 7 {
		t.Fatalf("releasedKeySubs = %v, want [7]", behavior.releasedKeySubs)
	}
	if len(behavior.releasedSubkeySubs) != 1 || behavior.releasedSubkeySubs[0] != 9 {
		t.Fatalf("releasedSubkeySubs = %v, want [9]", behavior.releasedSubkeySubs)
	}

	wantPayloads := map[PayloadHandle]bool{100: true, 200: true}
	if len(behavior.releasedPayloads) != len(wantPayloads) {
		t.Fatalf("releasedPayloads = %v, want 2 entries from %v", behavior.releasedPayloads, wantPayloads)
	}
	for _, p := range behavior.releasedPayloads {
		if !wantPayloads[p] {
			t.Fatalf("unexpected released payload %v", p)
		}
	}
}

// Test_ApplyTransactionLocked_Rejects_Immutable_Blob exercises the guard
// added for the "never write in place once a blob is immutable" invariant.
func Test_ApplyTransactionLocked_Rejects_Immutable_Blob(t *testing.T) {
	behavior := newRecordingBehavior()
	storage, err := NewStorage(behavior, Options{})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	defer storage.Close()

	storage.current.Load().blob.setImmutableMode()

	txn := storage.NewTransaction()
	txn.Put(KeyHandle(1), 1, PayloadHandle(1))
	result, err := storage.ApplyTransaction(txn)
	if err != ErrResourceExhausted {
		t.Fatalf("err = %v, want ErrResourceExhausted", err)
	}
	if result != TransactionFailedDueToInsufficientResources {
		t.Fatalf("result = %v, want TransactionFailedDueToInsufficientResources", result)
	}
}

// Test_Merge_Carries_A_Subscribed_Subkey_Forward_As_A_Placeholder checks
// that a subkey with no live payload as of the merge's version, but with a
// subscription attached, still survives createMergedBlob (with no payload),
// rather than being dropped along with the rest of the dead history.
func Test_Merge_Carries_A_Subscribed_Subkey_Forward_As_A_Placeholder(t *testing.T) {
	behavior := newRecordingBehavior()
	b, err := newBlob(behavior.Pager(), 0, 8, 8)
	if err != nil {
		t.Fatalf("newBlob: %v", err)
	}
	acc := newMutatingBlobAccessor(b, behavior)

	key := KeyHandle(1)
	keyLoc, _, ok := acc.insertKeyIfMissing(key)
	if !ok {
		t.Fatalf("insertKeyIfMissing failed")
	}
	keySlotLoc, _ := b.findKeyState(behavior, key)

	subLoc, _, ok := acc.insertSubkeyIfMissing(keyLoc, 1)
	if !ok {
		t.Fatalf("insertSubkeyIfMissing failed")
	}
	b.subkeyStateBlockAt(subLoc).setSubscription(SubkeySubscriptionHandle(5))

	if !acc.pushSubkeysCount(keyLoc, keySlotLoc, 0, 0) {
		t.Fatalf("pushSubkeysCount failed")
	}

	merged, err := createMergedBlob(b, behavior, 0)
	if err != nil {
		t.Fatalf("createMergedBlob: %v", err)
	}

	newKeyLoc, found := merged.findKeyState(behavior, key)
	if !found {
		t.Fatalf("merged blob dropped the key despite its subscribed subkey")
	}
	blockID, slot := decodeIndexSlotLocation(newKeyLoc)
	newKeyStateLoc := merged.slotStateBlockLocation(blockID, slot)

	newKeyBlock := merged.keyStateBlockAt(newKeyStateLoc)
	subCur := newKeyBlock.subkeyListHead()
	if subCur == invalidDataBlockLocation {
		t.Fatalf("merged blob dropped the subscribed subkey")
	}
	newSub := merged.subkeyStateBlockAt(subCur)
	if newSub.subscription() != 5 {
		t.Fatalf("subscription = %v, want 5", newSub.subscription())
	}
	if _, found := newSub.latest(); found {
		t.Fatalf("placeholder subkey should have no live payload")
	}
}
