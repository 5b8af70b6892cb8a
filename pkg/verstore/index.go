package verstore

// Index block layout (64 bytes, one block):
//
//	[0:8)       countsAndHashes   uint64 (atomic)
//	  bits 0-2:  keysCount in this block
//	  bits 3-5:  subkeysCount in this block
//	  bit 6:     thisBlockOverflowed (some entries that collided here were
//	             inserted into a later block)
//	  bit 7:     precedingBlockOverflowed (a probe that started at an
//	             earlier block may have spilled into this one)
//	  bytes 1-7: one 8-bit slot hash per slot (1 byte per slot, 7 slots)
//	[8:64)      7 slots x 8 bytes:
//	  stateBlockLocation   uint32
//	  versionBlockLocation uint32 (atomic; invalid if unused)
//
// Key slots fill ascending from slot 0; subkey slots fill descending from
// slot 6.
const (
	ixOffCountsAndHashes = 0
	ixOffSlots           = 8
	ixSlotStride         = 8
)

const (
	ixMaskKeysCount    uint64 = 0x7
	ixShiftKeysCount          = 0
	ixMaskSubkeysCount uint64 = 0x38
	ixShiftSubkeysCount       = 3
	ixBitThisOverflow  uint64 = 1 << 6
	ixBitPrecedingOverflow uint64 = 1 << 7
)

func ixKeysCount(countsAndHashes uint64) uint32 {
	return uint32((countsAndHashes & ixMaskKeysCount) >> ixShiftKeysCount)
}

func ixSubkeysCount(countsAndHashes uint64) uint32 {
	return uint32((countsAndHashes & ixMaskSubkeysCount) >> ixShiftSubkeysCount)
}

func ixSlotHash(countsAndHashes uint64, slot uint32) uint8 {
	return uint8(countsAndHashes >> (8 * (1 + slot)))
}

func ixSetSlotHash(countsAndHashes uint64, slot uint32, hash uint8) uint64 {
	shift := 8 * (1 + slot)
	mask := uint64(0xFF) << shift
	return (countsAndHashes &^ mask) | (uint64(hash) << shift)
}

func (b *blob) indexBlockSlotOffset(blockID, slot uint32) uint32 {
	return b.indexBlockOffset(blockID) + ixOffSlots + slot*ixSlotStride
}

func (b *blob) indexBlockCountsAndHashes(blockID uint32) uint64 {
	return atomicLoadU64(b.data, b.indexBlockOffset(blockID)+ixOffCountsAndHashes)
}

func (b *blob) setIndexBlockCountsAndHashes(blockID uint32, v uint64) {
	atomicStoreU64(b.data, b.indexBlockOffset(blockID)+ixOffCountsAndHashes, v)
}

func (b *blob) slotStateBlockLocation(blockID, slot uint32) uint32 {
	return loadU32(b.data, b.indexBlockSlotOffset(blockID, slot))
}

func (b *blob) slotVersionBlockLocation(blockID, slot uint32) uint32 {
	return atomicLoadU32(b.data, b.indexBlockSlotOffset(blockID, slot)+4)
}

func (b *blob) setSlotVersionBlockLocation(blockID, slot, loc uint32) {
	atomicStoreU32(b.data, b.indexBlockSlotOffset(blockID, slot)+4, loc)
}

func (b *blob) initSlot(blockID, slot, stateBlockLocation uint32) {
	off := b.indexBlockSlotOffset(blockID, slot)
	storeU32(b.data, off, stateBlockLocation)
	atomicStoreU32(b.data, off+4, invalidDataBlockLocation)
}

// indexSlotLocation packs a (blockID, slot) pair as (blockID<<3)|(slot+1).
// Slot-in-block 0 of the encoding is never produced, which keeps every
// valid location nonzero without needing a separate "has location" flag.
func indexSlotLocation(blockID, slot uint32) uint32 {
	return (blockID << 3) | (slot + 1)
}

func decodeIndexSlotLocation(loc uint32) (blockID, slot uint32) {
	return loc >> 3, (loc & 7) - 1
}

// hashToBlockHash splits a 64-bit hash into (startBlockHash, slotHash): the
// block search starts at startBlockHash & mask and the per-slot 8-bit
// filter is slotHash.
func hashToBlockHash(h uint64) (startBlockHash uint32, slotHash uint8) {
	return uint32(h >> 32), uint8(h)
}

// mixKeyAndSubkeyHash combines a key's hash with a subkey into a single
// 64-bit hash for subkey slot lookups: a hash_combine-style mix followed by
// the MurmurHash3 fmix64 finalizer.
func mixKeyAndSubkeyHash(keyHash, subkey uint64) uint64 {
	x := keyHash ^ (subkey + 0x9E3779B97F4A7C15 + (keyHash << 6) + (keyHash >> 2))
	x ^= x >> 33
	x *= 0xFF51AFD7ED558CCD
	x ^= x >> 33
	x *= 0xC4CEB9FE1A85EC53
	x ^= x >> 33
	return x
}

// findKeyState searches the index for a key slot whose state block's key
// equals the given handle (via behavior.EqualKeys). Safe for concurrent
// readers and the writer.
func (b *blob) findKeyState(behavior Behavior, key KeyHandle) (loc uint32, found bool) {
	h := behavior.HashKey(key)
	startBlock, slotHash := hashToBlockHash(h)
	mask := b.indexBlocksMask()

	block := startBlock & mask
	for attempts := uint32(0); attempts <= mask; attempts++ {
		cah := b.indexBlockCountsAndHashes(block)
		keysCount := ixKeysCount(cah)
		for slot := uint32(0); slot < keysCount; slot++ {
			if ixSlotHash(cah, slot) != slotHash {
				continue
			}
			stateLoc := b.slotStateBlockLocation(block, slot)
			if stateLoc == invalidDataBlockLocation {
				continue
			}
			sb := b.keyStateBlockAt(stateLoc)
			if behavior.EqualKeys(sb.key(), key) {
				return indexSlotLocation(block, slot), true
			}
		}
		if cah&ixBitThisOverflow == 0 {
			return 0, false
		}
		block = (block + 1) & mask
	}
	return 0, false
}

// findSubkeyState searches the key's per-key index range for a subkey
// slot whose state block's subkey equals the given value. Subkey slots
// reuse the same global index blocks as key slots (descending from the
// end of each block's 7 slots), scoped implicitly by comparing the
// candidate SubkeyStateBlock's own subkey field: false positives from the
// 8-bit hash are rejected there.
func (b *blob) findSubkeyState(keyBlockLoc uint32, hash uint64, subkey uint64) (loc uint32, found bool) {
	startBlock, slotHash := hashToBlockHash(hash)
	mask := b.indexBlocksMask()

	block := startBlock & mask
	for attempts := uint32(0); attempts <= mask; attempts++ {
		cah := b.indexBlockCountsAndHashes(block)
		subkeysCount := ixSubkeysCount(cah)
		first := slotsPerIndexBlock - subkeysCount
		for slot := first; slot < slotsPerIndexBlock; slot++ {
			if ixSlotHash(cah, slot) != slotHash {
				continue
			}
			stateLoc := b.slotStateBlockLocation(block, slot)
			if stateLoc == invalidDataBlockLocation {
				continue
			}
			sb := b.subkeyStateBlockAt(stateLoc)
			if sb.subkey() == subkey {
				return indexSlotLocation(block, slot), true
			}
		}
		if cah&ixBitThisOverflow == 0 {
			return 0, false
		}
		block = (block + 1) & mask
	}
	return 0, false
}

// hasFreeSlot reports whether countsAndHashes leaves room for one more
// slot of either kind (key slots grow from the front, subkey slots from
// the back of the same 7-slot array).
func ixHasFreeSlot(cah uint64) bool {
	return ixKeysCount(cah)+ixSubkeysCount(cah) < slotsPerIndexBlock
}

// insertKeySlot finds a block with a free slot (starting the probe at the
// key's hash-derived block and following the overflow chain, marking
// overflow bits as it goes) and stores stateBlockLocation into a new key
// slot there. Returns the slot's packed location.
func (b *blob) insertKeySlot(behavior Behavior, key KeyHandle, stateBlockLocation uint32) uint32 {
	h := behavior.HashKey(key)
	startBlock, slotHash := hashToBlockHash(h)
	mask := b.indexBlocksMask()

	block := startBlock & mask
	first := true
	for {
		cah := b.indexBlockCountsAndHashes(block)
		if ixHasFreeSlot(cah) {
			slot := ixKeysCount(cah)
			b.initSlot(block, slot, stateBlockLocation)
			newCah := cah + 1 // bump keysCount (bits 0-2)
			newCah = ixSetSlotHash(newCah, slot, slotHash)
			if !first {
				newCah |= ixBitPrecedingOverflow
			}
			b.setIndexBlockCountsAndHashes(block, newCah)
			b.consumeIndexSlot()
			return indexSlotLocation(block, slot)
		}
		// This block is full: mark it as overflowed and move on.
		b.setIndexBlockCountsAndHashes(block, cah|ixBitThisOverflow)
		block = (block + 1) & mask
		first = false
	}
}

func (b *blob) insertSubkeySlot(hash uint64, stateBlockLocation uint32) uint32 {
	startBlock, slotHash := hashToBlockHash(hash)
	mask := b.indexBlocksMask()

	block := startBlock & mask
	first := true
	for {
		cah := b.indexBlockCountsAndHashes(block)
		if ixHasFreeSlot(cah) {
			subkeysCount := ixSubkeysCount(cah)
			slot := slotsPerIndexBlock - 1 - subkeysCount
			b.initSlot(block, slot, stateBlockLocation)
			newCah := cah + (1 << ixShiftSubkeysCount)
			newCah = ixSetSlotHash(newCah, slot, slotHash)
			if !first {
				newCah |= ixBitPrecedingOverflow
			}
			b.setIndexBlockCountsAndHashes(block, newCah)
			b.consumeIndexSlot()
			return indexSlotLocation(block, slot)
		}
		b.setIndexBlockCountsAndHashes(block, cah|ixBitThisOverflow)
		block = (block + 1) & mask
		first = false
	}
}
