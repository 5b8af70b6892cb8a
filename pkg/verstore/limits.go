package verstore

// blockSize is the granularity of everything stored in a blob: the header
// block, every index block, and every state/version block are exactly one
// block large; a longer overflow history is a chain of such blocks.
const blockSize = 64

// pageSize is the allocation granularity handed to the Behavior's
// AllocateZeroedPages/FreePages pair. A blob is always a whole number of
// pages.
const pageSize = 4096

const blocksPerPage = pageSize / blockSize

// slotsPerIndexBlock is the number of key/subkey slots packed into one
// 64-byte index block (one atomic counts-and-hashes word plus seven slots).
const slotsPerIndexBlock = 7

// inlineKeyVersions is the number of versioned-subkey-count entries stored
// directly inside a KeyStateBlock before an overflow KeyVersionBlock chain
// is needed.
const inlineKeyVersions = 3

// inlineSubkeyVersions is the number of versioned payloads stored directly
// inside a SubkeyStateBlock before an overflow SubkeyVersionBlock chain is
// needed.
const inlineSubkeyVersions = 2

// keyVersionsPerOverflowBlock is how many (versionOffset, subkeysCount)
// entries a single overflow KeyVersionBlock carries once a key's inline
// history (inlineKeyVersions entries) is exhausted. Every block in the
// chain, including the first, uses this same capacity; a from-scratch
// sequence genuinely holding more entries per extension block than its
// first block would need either a variable-size header or implicit
// contiguous addressing between blocks, neither of which this port
// attempts (see DESIGN.md).
const keyVersionsPerOverflowBlock = 7

// subkeyVersionsPerOverflowBlock is how many marked-version entries
// (one stored as a full anchor, the rest as 32-bit offsets from it) a
// single overflow SubkeyVersionBlock carries once a subkey's inline
// history (inlineSubkeyVersions entries) is exhausted. Applies uniformly
// to every block in the chain; see keyVersionsPerOverflowBlock's comment.
const subkeyVersionsPerOverflowBlock = 4

// smallestInvalidVersion marks "this slot has never been written" in a
// stored VersionedPayload; see version.go for the full encoding, including
// how a tombstone (a subkey explicitly deleted) is distinguished from this.
const smallestInvalidVersion uint64 = 0x7FFF_FFFF_FFFF_FFFF

// invalidDataBlockLocation is the sentinel for "no block": all bits set.
// Locations are relative to the data section and always below the blob's
// uint32 data block capacity, so no allocated block has this location.
const invalidDataBlockLocation uint32 = ^uint32(0)

// invalidIndexSlotLocation is the sentinel for "no slot".
const invalidIndexSlotLocation uint32 = ^uint32(0)

// invalidVersionOffset is the sentinel marking an unused version-offset
// slot.
const invalidVersionOffset uint32 = ^uint32(0)

// defaultMinIndexSlotsCapacity is used when Options.MinIndexSlotsCapacity
// is zero.
const defaultMinIndexSlotsCapacity = 64

// defaultMinDataBlocksCapacity is used when Options.MinDataBlocksCapacity
// is zero.
const defaultMinDataBlocksCapacity = 256
