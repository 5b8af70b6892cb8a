package verstore

// Snapshot is an immutable view of a Storage as of one specific version.
// It stays valid for as long as it is held, regardless of how many
// further transactions are applied to the Storage afterwards. Callers
// must call Release exactly once when done with it.
type Snapshot struct {
	storage       *Storage
	blob          *blob
	version       uint64
	versionOffset uint32
	released      bool
}

// Version returns the version this snapshot was taken at.
func (s *Snapshot) Version() uint64 { return s.version }

// Release gives up this snapshot's reference to the underlying blob and
// version. Safe to call at most once; calling it twice panics, matching
// the "double free" guard the rest of the engine relies on for handle
// lifetimes.
func (s *Snapshot) Release() {
	if s.released {
		panic("verstore: Snapshot.Release called twice")
	}
	s.released = true

	newVersionRefCountAccessor(s.blob).removeReference(s.versionOffset)
	if s.blob.removeReferenceFromBlob() {
		_ = s.blob.destroy(s.storage.behavior)
	}
}

// FindSubkey returns the payload stored at (key, subkey) as of this
// snapshot's version, if any.
func (s *Snapshot) FindSubkey(key KeyHandle, subkey uint64) (PayloadHandle, bool) {
	a := newBlobAccessor(s.blob, s.storage.behavior)
	keyLoc, found := a.findKey(key)
	if !found {
		return 0, false
	}
	subkeyLoc, found := a.findSubkey(keyLoc, subkey)
	if !found {
		return 0, false
	}
	vp, found := a.payloadAsOf(subkeyLoc, s.version)
	if !found || !vp.HasPayload() {
		return 0, false
	}
	return vp.Payload, true
}

// SubkeysCount returns how many subkeys key has as of this snapshot's
// version.
func (s *Snapshot) SubkeysCount(key KeyHandle) uint32 {
	a := newBlobAccessor(s.blob, s.storage.behavior)
	keyLoc, found := a.findKey(key)
	if !found {
		return 0
	}
	count, found := a.subkeysCountAsOf(keyLoc, s.versionOffset)
	if !found {
		return 0
	}
	return count
}

// KeyIterator walks every key alive (subkeys count > 0) as of a
// Snapshot's version, in the storage's sorted key order.
type KeyIterator struct {
	snap      *Snapshot
	cur       uint32
	curKeyLoc uint32
}

// Keys returns an iterator over every alive key, in sorted order.
func (s *Snapshot) Keys() *KeyIterator {
	return &KeyIterator{snap: s, cur: s.blob.keysListHead()}
}

// Next advances the iterator and reports whether a key is available. Call
// Key() to read it.
func (it *KeyIterator) Next() bool {
	a := newBlobAccessor(it.snap.blob, it.snap.storage.behavior)
	for it.cur != invalidDataBlockLocation {
		loc := it.cur
		kb := it.snap.blob.keyStateBlockAt(loc)
		it.cur = kb.nextInList()

		count, found := a.subkeysCountAsOf(loc, it.snap.versionOffset)
		if found && count > 0 {
			it.curKeyLoc = loc
			return true
		}
	}
	return false
}

// Key returns the key the iterator currently points at. Only valid after
// Next returned true.
func (it *KeyIterator) Key() KeyHandle {
	return it.snap.blob.keyStateBlockAt(it.curKeyLoc).key()
}

// SubkeysCount returns the current key's live subkeys count as of the
// snapshot's version.
func (it *KeyIterator) SubkeysCount() uint32 {
	a := newBlobAccessor(it.snap.blob, it.snap.storage.behavior)
	count, _ := a.subkeysCountAsOf(it.curKeyLoc, it.snap.versionOffset)
	return count
}

// Subkeys returns an iterator over the current key's live subkeys, in
// sorted numeric order.
func (it *KeyIterator) Subkeys() *SubkeyIterator {
	kb := it.snap.blob.keyStateBlockAt(it.curKeyLoc)
	return &SubkeyIterator{snap: it.snap, cur: kb.subkeyListHead()}
}

// SubkeyIterator walks every subkey with a live payload, as of a
// Snapshot's version, in sorted numeric order, for one key.
type SubkeyIterator struct {
	snap       *Snapshot
	cur        uint32
	curSubkey  uint64
	curPayload PayloadHandle
}

// Next advances the iterator and reports whether a subkey is available.
func (it *SubkeyIterator) Next() bool {
	a := newBlobAccessor(it.snap.blob, it.snap.storage.behavior)
	for it.cur != invalidDataBlockLocation {
		loc := it.cur
		sb := it.snap.blob.subkeyStateBlockAt(loc)
		it.cur = sb.nextInList()

		vp, found := a.payloadAsOf(loc, it.snap.version)
		if found && vp.HasPayload() {
			it.curSubkey = sb.subkey()
			it.curPayload = vp.Payload
			return true
		}
	}
	return false
}

// Subkey returns the current subkey. Only valid after Next returned true.
func (it *SubkeyIterator) Subkey() uint64 { return it.curSubkey }

// Payload returns the current subkey's payload. Only valid after Next
// returned true.
func (it *SubkeyIterator) Payload() PayloadHandle { return it.curPayload }
