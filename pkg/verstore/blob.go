package verstore

import "fmt"

// Header block field offsets, all within blob.data[0:blockSize).
//
// State/version blocks are allocated from the high end of the data section
// (descending block index), per-version refcounts from the low end
// (ascending byte offset). The two counters below (storedDataBlocksCount,
// storedVersionsCount) are enough to derive both cursors; no extra cursor
// fields are stored.
const (
	offBaseVersion                 = 0  // uint64, immutable after creation
	offIndexBlocksMask             = 8  // uint32, immutable after creation
	offDataBlocksCapacity          = 12 // uint32, immutable after creation
	offRemainingIndexSlotsCapacity = 16 // uint32, writer-only
	offStoredDataBlocksCount       = 20 // uint32, writer-only
	offKeysCount                   = 24 // uint32, writer-only
	offSubkeysCount                = 28 // uint32, writer-only
	offKeysListHead                = 32 // uint32 (DataBlockLocation), atomic
	offKeysTreeRoot                = 36 // uint32 (DataBlockLocation), writer-only
	offAliveSnapshotsCount          = 40 // uint32, atomic
	offStoredVersionsCount          = 44 // uint32, atomic
	offIsMutableMode                = 48 // uint32 (0/1), writer-only
)

// blob is one versioned storage arena: a header block, an index section,
// and a data section. Multiple blobs can be alive simultaneously (an old
// blob stays alive while any Snapshot still references one of its
// versions); Storage always writes to exactly one, the "current" blob.
type blob struct {
	data  []byte
	pager Pager

	// dataSectionStart is the byte offset of the first data block,
	// i.e. blockSize * (1 + indexBlockCount).
	dataSectionStart uint32

	// immutable is set once this blob can no longer accept new versions,
	// either because a transaction's merge moved its live state into a
	// fresh blob, or because that merge itself failed. Readers keep
	// working against it until it is no longer referenced. Never cleared.
	immutable bool

	// The writer-only AA-tree root over key state blocks, ordered by
	// Behavior.LessKeys, is stored in the header (offKeysTreeRoot), not in
	// this struct. Subkey trees are rooted per-KeyStateBlock instead (see
	// stateblock.go).
}

// newBlob allocates a fresh blob with at least minIndexSlots index slots
// and minDataBlocks data blocks, with base version baseVersion. The new
// blob starts with reference count 1 for the blob itself and 1 for its
// base version.
func newBlob(pager Pager, baseVersion uint64, minIndexSlots, minDataBlocks int) (*blob, error) {
	if minIndexSlots <= 0 {
		minIndexSlots = defaultMinIndexSlotsCapacity
	}
	if minDataBlocks <= 0 {
		minDataBlocks = defaultMinDataBlocksCapacity
	}

	indexBlockCount := nextPowerOfTwo(ceilDiv(minIndexSlots, slotsPerIndexBlock))
	if indexBlockCount == 0 {
		indexBlockCount = 1
	}

	headerAndIndexBlocks := 1 + indexBlockCount
	dataBlocks := minDataBlocks

	totalBlocks := headerAndIndexBlocks + dataBlocks
	totalBytes := totalBlocks * blockSize

	pagesCount := ceilDiv(totalBytes, pageSize)
	mem, err := pager.AllocateZeroedPages(pagesCount)
	if err != nil {
		return nil, fmt.Errorf("verstore: allocate blob pages: %w", err)
	}

	b := &blob{
		data:             mem,
		pager:            pager,
		dataSectionStart: uint32(headerAndIndexBlocks * blockSize),
	}

	storeU64(b.data, offBaseVersion, baseVersion)
	storeU32(b.data, offIndexBlocksMask, uint32(indexBlockCount-1))
	storeU32(b.data, offDataBlocksCapacity, uint32(dataBlocks))
	storeU32(b.data, offRemainingIndexSlotsCapacity, uint32(indexBlockCount*slotsPerIndexBlock))
	storeU32(b.data, offStoredDataBlocksCount, 0)
	storeU32(b.data, offKeysCount, 0)
	storeU32(b.data, offSubkeysCount, 0)
	atomicStoreU32(b.data, offKeysListHead, invalidIndexSlotLocation)
	storeU32(b.data, offKeysTreeRoot, invalidDataBlockLocation)
	atomicStoreU32(b.data, offAliveSnapshotsCount, 1)
	atomicStoreU32(b.data, offStoredVersionsCount, 1)
	storeU32(b.data, offIsMutableMode, 1)

	// The base version's refcount starts at 3 (refcount-mode, count 1).
	newVersionRefCountAccessor(b).initVersion(0)

	return b, nil
}

// destroy releases every handle this blob still owns (every payload,
// subscription, and key handle ever pushed into it that was never
// individually released) and then returns its pages to the Pager. Walks
// all state blocks in two passes, subkeys first and then keys, so that a
// Behavior's payload release may still safely observe key handles: the
// keys they belong to are not released until the second pass.
func (b *blob) destroy(behavior Behavior) error {
	for cur := b.keysListHead(); cur != invalidDataBlockLocation; {
		kb := b.keyStateBlockAt(cur)
		next := kb.nextInList()
		b.releaseSubkeysOf(behavior, cur, kb)
		cur = next
	}

	for cur := b.keysListHead(); cur != invalidDataBlockLocation; {
		kb := b.keyStateBlockAt(cur)
		next := kb.nextInList()
		if kb.hasSubscription() {
			behavior.ReleaseKeySubscription(kb.subscription())
		}
		behavior.ReleaseKey(kb.key())
		cur = next
	}

	return b.free()
}

// releaseSubkeysOf walks keyLoc's subkey list, releasing each subkey's
// subscription (if any) and every payload handle it ever held, inline or
// in its overflow chain.
func (b *blob) releaseSubkeysOf(behavior Behavior, keyLoc uint32, kb keyStateBlockView) {
	key := kb.key()
	keyHash := behavior.HashKey(key)

	for cur := kb.subkeyListHead(); cur != invalidDataBlockLocation; {
		sb := b.subkeyStateBlockAt(cur)
		next := sb.nextInList()

		if sb.hasSubscription() {
			behavior.ReleaseSubkeySubscription(sb.subscription())
		}
		sb.forEachHeldPayload(behavior.ReleasePayload)

		h := mixKeyAndSubkeyHash(keyHash, sb.subkey())
		if subSlotLoc, ok := b.findSubkeyState(keyLoc, h, sb.subkey()); ok {
			blockID, slot := decodeIndexSlotLocation(subSlotLoc)
			for head := b.slotVersionBlockLocation(blockID, slot); head != invalidDataBlockLocation; {
				vb := b.subkeyVersionBlockAt(head)
				vb.forEachHeldPayload(behavior.ReleasePayload)
				head = vb.next()
			}
		}

		cur = next
	}
}

func (b *blob) free() error {
	return b.pager.FreePages(b.data)
}

func (b *blob) baseVersion() uint64        { return loadU64(b.data, offBaseVersion) }
func (b *blob) indexBlocksMask() uint32     { return loadU32(b.data, offIndexBlocksMask) }
func (b *blob) indexBlockCount() uint32     { return b.indexBlocksMask() + 1 }
func (b *blob) dataBlocksCapacity() uint32  { return loadU32(b.data, offDataBlocksCapacity) }
func (b *blob) storedDataBlocksCount() uint32 {
	return loadU32(b.data, offStoredDataBlocksCount)
}
func (b *blob) keysCount() uint32    { return loadU32(b.data, offKeysCount) }
func (b *blob) subkeysCount() uint32 { return loadU32(b.data, offSubkeysCount) }

func (b *blob) keysListHead() uint32 { return atomicLoadU32(b.data, offKeysListHead) }
func (b *blob) setKeysListHead(loc uint32) {
	atomicStoreU32(b.data, offKeysListHead, loc)
}

func (b *blob) keysTreeRoot() uint32     { return loadU32(b.data, offKeysTreeRoot) }
func (b *blob) setKeysTreeRoot(loc uint32) { storeU32(b.data, offKeysTreeRoot, loc) }

func (b *blob) isMutableMode() bool { return loadU32(b.data, offIsMutableMode) != 0 }
func (b *blob) setImmutableMode() {
	b.immutable = true
	storeU32(b.data, offIsMutableMode, 0)
}

func (b *blob) storedVersionsCount() uint32 {
	return atomicLoadU32(b.data, offStoredVersionsCount)
}

// addReferenceToBlob increments the blob's own lifetime refcount, called
// whenever a new Snapshot is handed out against this blob. Storage.current
// starting to point at a blob adds no reference: the counter of a fresh
// blob already starts at 1 for it (see newBlob).
func (b *blob) addReferenceToBlob() {
	atomicAddU32(b.data, offAliveSnapshotsCount, 1)
}

// removeReferenceFromBlob decrements the blob's lifetime refcount,
// returning true if it reached zero (the blob should now be freed). Unlike
// VersionRefCount, this is a plain counter: a blob's own liveness is only
// ever checked for "reached zero", never iterated, so the jump-mode
// amortization that counter exists for doesn't apply here.
func (b *blob) removeReferenceFromBlob() bool {
	return atomicAddU32(b.data, offAliveSnapshotsCount, -1) == 0
}

// remainingIndexSlotsCapacity reports how many index slots are still free
// across every index block (writer-only).
func (b *blob) remainingIndexSlotsCapacity() uint32 {
	return loadU32(b.data, offRemainingIndexSlotsCapacity)
}

func (b *blob) consumeIndexSlot() {
	storeU32(b.data, offRemainingIndexSlotsCapacity, b.remainingIndexSlotsCapacity()-1)
}

// availableDataBlocks reports how many more blockSize-sized data blocks
// could be allocated before the high-end (state/version block) cursor and
// the low-end (refcount) cursor would collide.
func (b *blob) availableDataBlocks() uint32 {
	totalBytes := b.dataBlocksCapacity() * blockSize
	usedHigh := b.storedDataBlocksCount() * blockSize
	usedLow := b.storedVersionsCount() * 4
	if usedHigh+usedLow >= totalBytes {
		return 0
	}
	return (totalBytes - usedHigh - usedLow) / blockSize
}

// canAddVersion reports whether one more 4-byte refcount entry fits
// without colliding with the data block cursor.
func (b *blob) canAddVersion() bool {
	totalBytes := b.dataBlocksCapacity() * blockSize
	usedHigh := b.storedDataBlocksCount() * blockSize
	usedLow := b.storedVersionsCount() * 4
	return usedHigh+usedLow+4 <= totalBytes
}

// allocateDataBlock carves one more block off the high end of the data
// section and returns its location (relative to the data section, as used
// throughout index.go/stateblock.go/versionblock.go). Caller must have
// already checked availableDataBlocks() > 0.
func (b *blob) allocateDataBlock() uint32 {
	n := b.storedDataBlocksCount()
	storeU32(b.data, offStoredDataBlocksCount, n+1)
	return b.dataBlocksCapacity() - 1 - n
}

// addVersion reserves space for one more version, returning its
// VersionOffset relative to baseVersion. Caller must have already checked
// canAddVersion().
func (b *blob) addVersion() uint32 {
	offset := atomicLoadU32(b.data, offStoredVersionsCount)
	atomicStoreU32(b.data, offStoredVersionsCount, offset+1)
	newVersionRefCountAccessor(b).initVersion(offset)
	return offset
}

// blockOffset returns the absolute byte offset of the data block at the
// given data-section-relative location.
func (b *blob) blockOffset(location uint32) uint32 {
	return b.dataSectionStart + location*blockSize
}

// indexBlockOffset returns the absolute byte offset of index block id.
func (b *blob) indexBlockOffset(id uint32) uint32 {
	return blockSize * (1 + id)
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
