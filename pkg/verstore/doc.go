// Package verstore is an in-process, versioned key/subkey storage engine.
//
// verstore keeps a map of keys to an ordered set of numeric subkeys, where
// each subkey holds at most one payload per version. Writers apply
// transactions that atomically advance an integer version; readers get
// immutable [Snapshot] values that stay valid for as long as they are held,
// regardless of how many further transactions are applied afterwards.
//
// # Basic Usage
//
//	storage, err := verstore.NewStorage(behavior, verstore.Options{})
//
//	txn := storage.NewTransaction()
//	txn.Put(key, subkey, payload)
//	result, err := storage.ApplyTransaction(txn)
//
//	snap, err := storage.CurrentSnapshot()
//	defer snap.Release()
//	view, ok := snap.FindSubkey(key, subkey)
//
// # Concurrency
//
// verstore uses a single-writer, lock-free-reader model:
//   - [Storage.ApplyTransaction] serializes writers with the mutex the
//     [Behavior] implementation provides via LockWriterMutex/UnlockWriterMutex.
//   - [Snapshot] reads never block, and never block the writer: a reader
//     holding an old snapshot keeps every blob referenced by that snapshot
//     alive via reference counting, even after newer transactions replace it.
//
// # Error Handling
//
// Transaction outcomes are reported primarily through [TransactionResult],
// not through errors: a failed prerequisite is an expected, ordinary result
// of calling [Storage.ApplyTransaction], not an exceptional condition.
// Actual errors ([ErrResourceExhausted], or [ErrClosed] after
// [Storage.Close]) indicate the storage cannot make progress at all.
package verstore
