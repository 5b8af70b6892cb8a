package verstore

import "sort"

// KeyVersionBlock and SubkeyVersionBlock extend a state block's inline
// history with an overflow chain once inlineKeyVersions/
// inlineSubkeyVersions entries have been pushed out of the state block.
// Entries are appended oldest-first within a block. The chain head kept in
// the index slot is the newest block, and each block's "next" location
// points at the block started before it, so entries evicted from the
// inline array always go into the head of this chain. Lookups within one
// block use binary search: unfilled slots sort as "infinity" (their
// versionOffset/marked-version-offset is the all-ones sentinel), so the
// filled, ascending prefix and the unfilled tail form one sorted sequence.
//
// Layout (64 bytes, one block):
//
//	KeyVersionBlock:
//	  [0:4)  next                     uint32 (DataBlockLocation)
//	  [4:.)  (versionOffset, count) x keyVersionsPerOverflowBlock
//
// A SubkeyVersionBlock compresses its entries the same way a
// SubkeyStateBlock's inline window does: the block's first entry is kept
// as a full 64-bit marked-version anchor, and every later entry in the
// block is a 32-bit offset from that anchor (invalidVersionOffset marks an
// unfilled slot). When the next entry's offset from the current block's
// anchor would not fit in 32 bits, the block is left with its remaining
// slots sentinel-filled and a fresh block is started with the new entry as
// its own anchor.
//
//	SubkeyVersionBlock:
//	  [0:4)   next                    uint32 (DataBlockLocation)
//	  [4:12)  anchor                  uint64 (marked version, atomic)
//	  [12:20) anchorPayload           uint64
//	  [20:.)  (offset uint32, payload uint64) x (subkeyVersionsPerOverflowBlock-1)
const (
	voffNext          = 0
	voffEntries       = 4
	voffAnchor        = 4
	voffAnchorPayload = 12
	voffOffsetEntries = 20
	voffOffsetStride  = 12
)

type keyVersionBlockView struct {
	b   *blob
	off uint32
}

func (bl *blob) keyVersionBlockAt(loc uint32) keyVersionBlockView {
	return keyVersionBlockView{b: bl, off: bl.blockOffset(loc)}
}

func (v keyVersionBlockView) init(next uint32) {
	storeU32(v.b.data, v.off+voffNext, next)
	for i := uint32(0); i < keyVersionsPerOverflowBlock; i++ {
		base := v.off + voffEntries + i*8
		storeU32(v.b.data, base, invalidVersionOffset)
		storeU32(v.b.data, base+4, 0)
	}
}

func (v keyVersionBlockView) next() uint32 { return loadU32(v.b.data, v.off+voffNext) }

func (v keyVersionBlockView) entry(i uint32) (versionOffset, count uint32) {
	base := v.off + voffEntries + i*8
	return loadU32(v.b.data, base), loadU32(v.b.data, base+4)
}

func (v keyVersionBlockView) setEntry(i, versionOffset, count uint32) {
	base := v.off + voffEntries + i*8
	storeU32(v.b.data, base, versionOffset)
	storeU32(v.b.data, base+4, count)
}

// lastIndexAtOrBefore returns the greatest index in [0,n) whose key (as
// reported by at) is <= target, or (-1, false) if none qualifies. at must
// return values in non-decreasing order, with unfilled slots reported as
// the maximum representable value so they naturally sort last.
func lastIndexAtOrBefore(n int, target uint32, at func(int) uint32) (int, bool) {
	idx := sort.Search(n, func(i int) bool { return at(i) > target })
	if idx == 0 {
		return 0, false
	}
	return idx - 1, true
}

// subkeysCountAsOf binary-searches this block and, if not found, walks to
// older chained blocks.
func (v keyVersionBlockView) subkeysCountAsOf(versionOffset uint32) (uint32, bool) {
	cur := v
	for {
		idx, ok := lastIndexAtOrBefore(keyVersionsPerOverflowBlock, versionOffset, func(i int) uint32 {
			off, _ := cur.entry(uint32(i))
			return off
		})
		if ok {
			_, cnt := cur.entry(uint32(idx))
			return cnt, true
		}
		next := cur.next()
		if next == invalidDataBlockLocation {
			return 0, false
		}
		cur = v.b.keyVersionBlockAt(next)
	}
}

type subkeyVersionBlockView struct {
	b   *blob
	off uint32
}

func (bl *blob) subkeyVersionBlockAt(loc uint32) subkeyVersionBlockView {
	return subkeyVersionBlockView{b: bl, off: bl.blockOffset(loc)}
}

// init starts a fresh block whose anchor is first's marked version.
func (v subkeyVersionBlockView) init(next uint32, first VersionedPayload) {
	storeU32(v.b.data, v.off+voffNext, next)
	atomicStoreU64(v.b.data, v.off+voffAnchor, markedVersionOf(first))
	storeU64(v.b.data, v.off+voffAnchorPayload, uint64(first.Payload))
	for i := uint32(0); i < subkeyVersionsPerOverflowBlock-1; i++ {
		base := v.off + voffOffsetEntries + i*voffOffsetStride
		atomicStoreU32(v.b.data, base, invalidVersionOffset)
		storeU64(v.b.data, base+4, 0)
	}
}

func (v subkeyVersionBlockView) next() uint32 { return loadU32(v.b.data, v.off+voffNext) }

// markedAt returns the absolute marked version stored at slot i (0 is the
// anchor itself) and whether that slot is filled.
func (v subkeyVersionBlockView) markedAt(i uint32) (marked uint64, filled bool) {
	anchor := atomicLoadU64(v.b.data, v.off+voffAnchor)
	if i == 0 {
		return anchor, true
	}
	base := v.off + voffOffsetEntries + (i-1)*voffOffsetStride
	offset := atomicLoadU32(v.b.data, base)
	if offset == invalidVersionOffset {
		return 0, false
	}
	return anchor + uint64(offset), true
}

func (v subkeyVersionBlockView) payloadAt(i uint32) PayloadHandle {
	if i == 0 {
		return PayloadHandle(loadU64(v.b.data, v.off+voffAnchorPayload))
	}
	base := v.off + voffOffsetEntries + (i-1)*voffOffsetStride
	return PayloadHandle(loadU64(v.b.data, base+4))
}

// filledCount returns how many of this block's slots (including the
// anchor) are in use.
func (v subkeyVersionBlockView) filledCount() uint32 {
	for i := uint32(1); i < subkeyVersionsPerOverflowBlock; i++ {
		if _, filled := v.markedAt(i); !filled {
			return i
		}
	}
	return subkeyVersionsPerOverflowBlock
}

// tryAppend appends entry as this block's next slot if there is room and
// entry's marked version fits as a 32-bit offset from the block's anchor.
// ok is false if the block is full, or the offset overflows 32 bits (a
// subkey version block where the next version does not compress into an
// offset forces opening a new block rather than writing a wrapped or
// truncated one).
func (v subkeyVersionBlockView) tryAppend(entry VersionedPayload) (ok bool) {
	n := v.filledCount()
	if n >= subkeyVersionsPerOverflowBlock {
		return false
	}
	anchor := atomicLoadU64(v.b.data, v.off+voffAnchor)
	marked := markedVersionOf(entry)
	if marked < anchor || marked-anchor >= uint64(invalidVersionOffset) {
		return false
	}
	base := v.off + voffOffsetEntries + (n-1)*voffOffsetStride
	storeU64(v.b.data, base+4, uint64(entry.Payload))
	atomicStoreU32(v.b.data, base, uint32(marked-anchor))
	return true
}

func (v subkeyVersionBlockView) entryAt(i uint32) VersionedPayload {
	marked, _ := v.markedAt(i)
	return versionedPayloadFromMarked(marked, v.payloadAt(i))
}

// forEachHeldPayload calls fn once for every non-deleted entry's payload
// handle stored in this block (not following next()).
func (v subkeyVersionBlockView) forEachHeldPayload(fn func(PayloadHandle)) {
	n := v.filledCount()
	for i := uint32(0); i < n; i++ {
		if marked, _ := v.markedAt(i); marked&1 == 0 {
			fn(v.payloadAt(i))
		}
	}
}

func (v subkeyVersionBlockView) payloadAsOf(version uint64) (VersionedPayload, bool) {
	searchToken := (version << 1) | 1
	cur := v
	for {
		if idx, ok := cur.lastMarkedAtOrBefore(searchToken); ok {
			return cur.entryAt(idx), true
		}
		next := cur.next()
		if next == invalidDataBlockLocation {
			return VersionedPayload{}, false
		}
		cur = v.b.subkeyVersionBlockAt(next)
	}
}

// lastMarkedAtOrBefore binary-searches this block's marked versions for
// the greatest filled entry whose marked value is <= searchToken.
func (v subkeyVersionBlockView) lastMarkedAtOrBefore(searchToken uint64) (uint32, bool) {
	n := subkeyVersionsPerOverflowBlock
	idx := sort.Search(n, func(i int) bool {
		m, filled := v.markedAt(uint32(i))
		return !filled || m > searchToken
	})
	if idx == 0 {
		return 0, false
	}
	return uint32(idx - 1), true
}
