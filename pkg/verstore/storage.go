package verstore

import (
	"fmt"
	"sync/atomic"
)

// Options configures a new Storage.
type Options struct {
	// MinIndexSlotsCapacity is the minimum number of key/subkey index
	// slots the initial blob is built with. Zero uses a small default;
	// the blob grows (via reallocation) as needed.
	MinIndexSlotsCapacity int

	// MinDataBlocksCapacity is the minimum number of 64-byte data blocks
	// (for state/version blocks and version refcounts combined) the
	// initial blob is built with.
	MinDataBlocksCapacity int

	// BaseVersion is the version number of the storage's first, empty
	// state. Defaults to 0.
	BaseVersion uint64
}

func (o Options) validate() error {
	if o.MinIndexSlotsCapacity < 0 {
		return fmt.Errorf("%w: MinIndexSlotsCapacity must not be negative", ErrInvalidInput)
	}
	if o.MinDataBlocksCapacity < 0 {
		return fmt.Errorf("%w: MinDataBlocksCapacity must not be negative", ErrInvalidInput)
	}
	return nil
}

// currentState is the unit Storage swaps atomically on every successful
// transaction: the blob currently being written to, and the version that
// blob was at as of that swap. Snapshots capture a *currentState by value
// (via atomic load) so a reader never observes a blob/version mismatch.
type currentState struct {
	blob    *blob
	version uint64
}

// Storage is the top-level versioned key/subkey store. It owns the
// current blob, serializes writers through the Behavior's writer mutex,
// and hands out lock-free Snapshots to readers.
type Storage struct {
	behavior Behavior
	current  atomic.Pointer[currentState]
	closed   atomic.Bool
}

// NewStorage creates an empty Storage. behavior must stay valid for the
// lifetime of the Storage.
func NewStorage(behavior Behavior, opts Options) (*Storage, error) {
	if behavior == nil {
		return nil, fmt.Errorf("%w: behavior must not be nil", ErrInvalidInput)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	b, err := newBlob(behavior.Pager(), opts.BaseVersion, opts.MinIndexSlotsCapacity, opts.MinDataBlocksCapacity)
	if err != nil {
		return nil, err
	}

	s := &Storage{behavior: behavior}
	s.current.Store(&currentState{blob: b, version: opts.BaseVersion})
	return s, nil
}

// NewTransaction returns an empty Transaction ready to be populated with
// Put/Delete/Require* calls and applied with ApplyTransaction.
func (s *Storage) NewTransaction() *Transaction {
	return NewTransaction()
}

// CurrentVersion returns the version the storage is currently at.
func (s *Storage) CurrentVersion() uint64 {
	return s.current.Load().version
}

// AliveVersionsCount reports how many of the current blob's stored
// versions are still referenced by at least one Snapshot (or by the
// Storage's own current-version pointer). It walks the blob's
// VersionRefCount array with the same amortized ForEachAliveVersion a
// future compaction pass would use to decide which versions a merge can
// safely drop; calling it periodically is a cheap way to watch how much
// history snapshot holders are pinning.
func (s *Storage) AliveVersionsCount() uint32 {
	if s.closed.Load() {
		return 0
	}

	s.behavior.LockWriterMutex()
	defer s.behavior.UnlockWriterMutex()

	st := s.current.Load()
	var count uint32
	newVersionRefCountAccessor(st.blob).forEachAliveVersion(st.blob.storedVersionsCount(), func(uint32) bool {
		count++
		return false
	})
	return count
}

// CurrentSnapshot returns a Snapshot of the storage's current state. Safe
// to call concurrently with ApplyTransaction and with other
// CurrentSnapshot calls; never blocks and never allocates more than the
// returned Snapshot itself.
func (s *Storage) CurrentSnapshot() (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	st := s.current.Load()
	return s.snapshotOf(st), nil
}

func (s *Storage) snapshotOf(st *currentState) *Snapshot {
	st.blob.addReferenceToBlob()
	offset := uint32(st.version - st.blob.baseVersion())
	newVersionRefCountAccessor(st.blob).addReference(offset)
	return &Snapshot{
		storage:       s,
		blob:          st.blob,
		version:       st.version,
		versionOffset: offset,
	}
}

// ApplyTransaction applies txn atomically. On TransactionApplied or
// TransactionAppliedWithNoEffect, err is always nil. A non-nil err means
// the storage could not make progress at all (ErrResourceExhausted, or
// ErrClosed after Close); per the original design, the blob that failed
// to grow stays alive and usable for reads but is permanently barred from
// further writes, since skipping a transaction and applying the next one
// instead would make concurrent replicas of this storage diverge.
func (s *Storage) ApplyTransaction(txn *Transaction) (TransactionResult, error) {
	if s.closed.Load() {
		return TransactionFailedDueToInsufficientResources, ErrClosed
	}
	if txn == nil || txn.empty() {
		return TransactionAppliedWithNoEffect, nil
	}

	s.behavior.LockWriterMutex()
	defer s.behavior.UnlockWriterMutex()

	return applyTransactionLocked(s, txn)
}

// Close releases the storage's reference to its current blob. Any
// Snapshot already handed out keeps working until it is itself released.
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	st := s.current.Load()
	offset := uint32(st.version - st.blob.baseVersion())
	newVersionRefCountAccessor(st.blob).removeReference(offset)
	if st.blob.removeReferenceFromBlob() {
		return st.blob.destroy(s.behavior)
	}
	return nil
}
