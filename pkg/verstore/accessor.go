package verstore

// blobAccessor bundles a blob with the Behavior needed to interpret its
// key handles. It is safe for concurrent readers: every method only reads
// published (atomically-visible) state.
type blobAccessor struct {
	blob     *blob
	behavior Behavior
}

func newBlobAccessor(b *blob, behavior Behavior) blobAccessor {
	return blobAccessor{blob: b, behavior: behavior}
}

// findKey locates the KeyStateBlock for key, if any.
func (a blobAccessor) findKey(key KeyHandle) (loc uint32, found bool) {
	slotLoc, ok := a.blob.findKeyState(a.behavior, key)
	if !ok {
		return 0, false
	}
	blockID, slot := decodeIndexSlotLocation(slotLoc)
	return a.blob.slotStateBlockLocation(blockID, slot), true
}

// findSubkey locates the SubkeyStateBlock for (key, subkey), given the
// key's own state block location.
func (a blobAccessor) findSubkey(keyLoc uint32, subkey uint64) (loc uint32, found bool) {
	keyBlock := a.blob.keyStateBlockAt(keyLoc)
	h := mixKeyAndSubkeyHash(a.behavior.HashKey(keyBlock.key()), subkey)
	slotLoc, ok := a.blob.findSubkeyState(keyLoc, h, subkey)
	if !ok {
		return 0, false
	}
	blockID, slot := decodeIndexSlotLocation(slotLoc)
	return a.blob.slotStateBlockLocation(blockID, slot), true
}

// subkeysCountAsOf returns how many subkeys the key had as of versionOffset.
func (a blobAccessor) subkeysCountAsOf(keyLoc uint32, versionOffset uint32) (uint32, bool) {
	kb := a.blob.keyStateBlockAt(keyLoc)
	// The overflow chain location, if any, is threaded through the index
	// slot that points at this state block, not the state block itself, so
	// the slot is looked up again by the block's own key.
	if slotLoc, ok := a.blob.findKeyState(a.behavior, kb.key()); ok {
		blockID, slot := decodeIndexSlotLocation(slotLoc)
		if head := a.blob.slotVersionBlockLocation(blockID, slot); head != invalidDataBlockLocation {
			return kb.subkeysCountAsOf(versionOffset, a.blob.keyVersionBlockAt(head), true)
		}
	}
	return kb.subkeysCountAsOf(versionOffset, keyVersionBlockView{}, false)
}

// payloadAsOf returns the payload a subkey held as of version. A subkey
// state block does not record its key, so when the inline window holds no
// entry at or before version, the index is scanned for the subkey slot
// pointing at subkeyLoc to reach its overflow chain.
func (a blobAccessor) payloadAsOf(subkeyLoc uint32, version uint64) (VersionedPayload, bool) {
	sb := a.blob.subkeyStateBlockAt(subkeyLoc)
	if vp, found := sb.payloadAsOf(version, subkeyVersionBlockView{}, false); found {
		return vp, true
	}
	for blockID := uint32(0); blockID <= a.blob.indexBlocksMask(); blockID++ {
		cah := a.blob.indexBlockCountsAndHashes(blockID)
		for slot := slotsPerIndexBlock - ixSubkeysCount(cah); slot < slotsPerIndexBlock; slot++ {
			if a.blob.slotStateBlockLocation(blockID, slot) != subkeyLoc {
				continue
			}
			head := a.blob.slotVersionBlockLocation(blockID, slot)
			if head == invalidDataBlockLocation {
				return VersionedPayload{}, false
			}
			return sb.payloadAsOf(version, a.blob.subkeyVersionBlockAt(head), true)
		}
	}
	return VersionedPayload{}, false
}

// keyTreeNodes adapts the blob-wide key AA-tree to aaTreeNodes.
type keyTreeNodes struct {
	blob     *blob
	behavior Behavior
}

func (n keyTreeNodes) left(node uint32) uint32  { return n.blob.keyStateBlockAt(node).treeLeft() }
func (n keyTreeNodes) right(node uint32) uint32 { return n.blob.keyStateBlockAt(node).treeRight() }
func (n keyTreeNodes) level(node uint32) uint32 { return n.blob.keyStateBlockAt(node).treeLevel() }
func (n keyTreeNodes) setLeft(node, child uint32) {
	n.blob.keyStateBlockAt(node).setTreeLeft(child)
}
func (n keyTreeNodes) setRight(node, child uint32) {
	n.blob.keyStateBlockAt(node).setTreeRight(child)
}
func (n keyTreeNodes) setLevel(node, level uint32) {
	n.blob.keyStateBlockAt(node).setTreeLevel(level)
}
func (n keyTreeNodes) less(a, b uint32) bool {
	return n.behavior.LessKeys(n.blob.keyStateBlockAt(a).key(), n.blob.keyStateBlockAt(b).key())
}

// subkeyTreeNodes adapts a single key's per-subkey AA-tree to aaTreeNodes.
// Subkeys are plain uint64s, ordered numerically.
type subkeyTreeNodes struct {
	blob *blob
}

func (n subkeyTreeNodes) left(node uint32) uint32  { return n.blob.subkeyStateBlockAt(node).treeLeft() }
func (n subkeyTreeNodes) right(node uint32) uint32 { return n.blob.subkeyStateBlockAt(node).treeRight() }
func (n subkeyTreeNodes) level(node uint32) uint32 { return n.blob.subkeyStateBlockAt(node).treeLevel() }
func (n subkeyTreeNodes) setLeft(node, child uint32) {
	n.blob.subkeyStateBlockAt(node).setTreeLeft(child)
}
func (n subkeyTreeNodes) setRight(node, child uint32) {
	n.blob.subkeyStateBlockAt(node).setTreeRight(child)
}
func (n subkeyTreeNodes) setLevel(node, level uint32) {
	n.blob.subkeyStateBlockAt(node).setTreeLevel(level)
}
func (n subkeyTreeNodes) less(a, b uint32) bool {
	return n.blob.subkeyStateBlockAt(a).subkey() < n.blob.subkeyStateBlockAt(b).subkey()
}

// mutatingBlobAccessor is the writer-only view of a blob: in addition to
// everything blobAccessor can do, it can allocate blocks, insert new
// key/subkey state blocks, and push new versioned entries. The writer
// mutex (Behavior.LockWriterMutex) must be held for the whole lifetime of
// one of these.
type mutatingBlobAccessor struct {
	blobAccessor
}

func newMutatingBlobAccessor(b *blob, behavior Behavior) mutatingBlobAccessor {
	return mutatingBlobAccessor{blobAccessor: newBlobAccessor(b, behavior)}
}

func (a mutatingBlobAccessor) canInsertStateBlocks(n int) bool {
	return int(a.blob.availableDataBlocks()) >= n && a.blob.remainingIndexSlotsCapacity() >= uint32(n)
}

func (a mutatingBlobAccessor) canAddVersion() bool { return a.blob.canAddVersion() }

// addVersion reserves a new version, returning its offset relative to the
// blob's base version.
func (a mutatingBlobAccessor) addVersion() uint32 {
	return a.blob.addVersion()
}

// insertKeyIfMissing returns the KeyStateBlock location for key, creating
// it (and splicing it into the sorted list/tree) if it did not already
// exist. ok is false if there was no room to create it.
func (a mutatingBlobAccessor) insertKeyIfMissing(key KeyHandle) (loc uint32, created bool, ok bool) {
	if existing, found := a.findKey(key); found {
		return existing, false, true
	}
	if !a.canInsertStateBlocks(1) {
		return 0, false, false
	}

	stored := a.behavior.DuplicateKey(key)
	blockLoc := a.blob.allocateDataBlock()
	sb := a.blob.keyStateBlockAt(blockLoc)
	sb.init(stored)

	a.blob.insertKeySlot(a.behavior, stored, blockLoc)
	storeU32(a.blob.data, offKeysCount, a.blob.keysCount()+1)
	a.spliceIntoKeyList(blockLoc)

	return blockLoc, true, true
}

func (a mutatingBlobAccessor) spliceIntoKeyList(newLoc uint32) {
	nodes := keyTreeNodes{blob: a.blob, behavior: a.behavior}
	root := a.blob.keysTreeRoot()
	pred := aaFindInsertionPredecessor(nodes, root, newLoc)
	newRoot := aaInsert(nodes, root, newLoc)
	a.blob.setKeysTreeRoot(newRoot)

	newNode := a.blob.keyStateBlockAt(newLoc)
	if pred == aaNil {
		newNode.setNextInList(a.blob.keysListHead())
		a.blob.setKeysListHead(newLoc)
		return
	}
	predNode := a.blob.keyStateBlockAt(pred)
	newNode.setNextInList(predNode.nextInList())
	predNode.setNextInList(newLoc)
}

// insertSubkeyIfMissing is the per-key equivalent of insertKeyIfMissing.
func (a mutatingBlobAccessor) insertSubkeyIfMissing(keyLoc uint32, subkey uint64) (loc uint32, created bool, ok bool) {
	if existing, found := a.findSubkey(keyLoc, subkey); found {
		return existing, false, true
	}
	if !a.canInsertStateBlocks(1) {
		return 0, false, false
	}

	blockLoc := a.blob.allocateDataBlock()
	sb := a.blob.subkeyStateBlockAt(blockLoc)
	sb.init(subkey)

	keyBlock := a.blob.keyStateBlockAt(keyLoc)
	h := mixKeyAndSubkeyHash(a.behavior.HashKey(keyBlock.key()), subkey)
	a.blob.insertSubkeySlot(h, blockLoc)

	cur := loadU32(a.blob.data, offSubkeysCount)
	storeU32(a.blob.data, offSubkeysCount, cur+1)

	a.spliceIntoSubkeyList(keyLoc, blockLoc)
	return blockLoc, true, true
}

func (a mutatingBlobAccessor) spliceIntoSubkeyList(keyLoc, newLoc uint32) {
	nodes := subkeyTreeNodes{blob: a.blob}
	keyBlock := a.blob.keyStateBlockAt(keyLoc)
	root := keyBlock.subkeyTreeRoot()
	pred := aaFindInsertionPredecessor(nodes, root, newLoc)
	newRoot := aaInsert(nodes, root, newLoc)
	keyBlock.setSubkeyTreeRoot(newRoot)

	newNode := a.blob.subkeyStateBlockAt(newLoc)
	if pred == aaNil {
		newNode.setNextInList(keyBlock.subkeyListHead())
		keyBlock.setSubkeyListHead(newLoc)
		return
	}
	predNode := a.blob.subkeyStateBlockAt(pred)
	newNode.setNextInList(predNode.nextInList())
	predNode.setNextInList(newLoc)
}

// pushSubkeysCount records a new (versionOffset, subkeysCount) entry for a
// key, spilling the evicted inline entry (if any) into the overflow chain.
// The index slot's versionBlockLocation field holds the chain head.
// ok is false if an overflow block was needed but none could be allocated.
func (a mutatingBlobAccessor) pushSubkeysCount(keyLoc uint32, slotLoc uint32, versionOffset, count uint32) bool {
	kb := a.blob.keyStateBlockAt(keyLoc)
	evictedOffset, evictedCount, evicted := kb.pushInline(versionOffset, count)
	if !evicted {
		return true
	}
	return a.spillKeyOverflow(slotLoc, evictedOffset, evictedCount)
}

func (a mutatingBlobAccessor) spillKeyOverflow(slotLoc uint32, versionOffset, count uint32) bool {
	blockID, slot := decodeIndexSlotLocation(slotLoc)
	head := a.blob.slotVersionBlockLocation(blockID, slot)
	if head != invalidDataBlockLocation {
		headBlock := a.blob.keyVersionBlockAt(head)
		for i := uint32(0); i < keyVersionsPerOverflowBlock; i++ {
			off, _ := headBlock.entry(i)
			if off == invalidVersionOffset {
				headBlock.setEntry(i, versionOffset, count)
				return true
			}
		}
	}
	if !a.canInsertStateBlocks(1) {
		return false
	}
	newHead := a.blob.allocateDataBlock()
	nb := a.blob.keyVersionBlockAt(newHead)
	nb.init(head)
	nb.setEntry(0, versionOffset, count)
	a.blob.setSlotVersionBlockLocation(blockID, slot, newHead)
	return true
}

// pushPayload is the subkey equivalent of pushSubkeysCount. entry may
// displace one or both of the state block's inline entries into the
// overflow chain (oldest first) if it can no longer be represented inline.
func (a mutatingBlobAccessor) pushPayload(subkeyLoc uint32, slotLoc uint32, entry VersionedPayload) bool {
	sb := a.blob.subkeyStateBlockAt(subkeyLoc)
	spilled := sb.pushInline(entry)
	for _, e := range spilled {
		if !a.appendSubkeyOverflowEntry(slotLoc, e) {
			return false
		}
	}
	return true
}

// appendSubkeyOverflowEntry appends entry, chronologically the newest so
// far, to the overflow chain threaded through slotLoc's versionBlockLocation
// field. If the chain's current head can't absorb it (full, or entry's
// offset from the head's anchor would overflow 32 bits) a fresh block is
// allocated and linked in as the new head, with entry as its anchor.
func (a mutatingBlobAccessor) appendSubkeyOverflowEntry(slotLoc uint32, entry VersionedPayload) bool {
	blockID, slot := decodeIndexSlotLocation(slotLoc)
	head := a.blob.slotVersionBlockLocation(blockID, slot)
	if head != invalidDataBlockLocation {
		if a.blob.subkeyVersionBlockAt(head).tryAppend(entry) {
			return true
		}
	}
	if !a.canInsertStateBlocks(1) {
		return false
	}
	newHead := a.blob.allocateDataBlock()
	nb := a.blob.subkeyVersionBlockAt(newHead)
	nb.init(head, entry)
	a.blob.setSlotVersionBlockLocation(blockID, slot, newHead)
	return true
}

// subkeysCountAsOfWithOverflow is the writer-visible version of
// blobAccessor.subkeysCountAsOf that also consults the overflow chain
// threaded through the key's index slot.
func (a mutatingBlobAccessor) subkeysCountAsOfWithOverflow(keyLoc, slotLoc, versionOffset uint32) (uint32, bool) {
	kb := a.blob.keyStateBlockAt(keyLoc)
	blockID, slot := decodeIndexSlotLocation(slotLoc)
	head := a.blob.slotVersionBlockLocation(blockID, slot)
	if head == invalidDataBlockLocation {
		return kb.subkeysCountAsOf(versionOffset, keyVersionBlockView{}, false)
	}
	overflow := a.blob.keyVersionBlockAt(head)
	return kb.subkeysCountAsOf(versionOffset, overflow, true)
}

// payloadAsOfWithOverflow is the writer-visible version of
// blobAccessor.payloadAsOf.
func (a mutatingBlobAccessor) payloadAsOfWithOverflow(subkeyLoc, slotLoc uint32, version uint64) (VersionedPayload, bool) {
	sb := a.blob.subkeyStateBlockAt(subkeyLoc)
	blockID, slot := decodeIndexSlotLocation(slotLoc)
	head := a.blob.slotVersionBlockLocation(blockID, slot)
	if head == invalidDataBlockLocation {
		return sb.payloadAsOf(version, subkeyVersionBlockView{}, false)
	}
	overflow := a.blob.subkeyVersionBlockAt(head)
	return sb.payloadAsOf(version, overflow, true)
}
