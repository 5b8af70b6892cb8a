package verstore

// KeyHandle, PayloadHandle, KeySubscriptionHandle and SubkeySubscriptionHandle
// are opaque values owned by the caller's Behavior implementation. verstore
// never interprets their bits; it only hashes, compares, duplicates and
// releases them through Behavior.
type (
	KeyHandle                uint64
	PayloadHandle            uint64
	KeySubscriptionHandle    uint64
	SubkeySubscriptionHandle uint64
)

// Behavior customizes the semantics of a Storage and hides everything about
// the nature of keys and payloads from the engine. If keys or payloads are
// reference-counted objects, Behavior is the place to translate between
// handles and the underlying objects, and to add/remove references in
// DuplicateKey/DuplicatePayload and the Release methods.
type Behavior interface {
	// HashKey returns the hash of the key associated with the handle. If
	// the storage is used in a replicated setting, the hash must never
	// depend on non-deterministic conditions such as pointer addresses.
	HashKey(handle KeyHandle) uint64

	// EqualKeys reports whether two key handles refer to equal keys.
	EqualKeys(a, b KeyHandle) bool

	// LessKeys imposes a total order on keys, used by the writer-only
	// AA-trees to keep key iteration order stable and insertion O(log n).
	LessKeys(a, b KeyHandle) bool

	// EqualPayloads reports whether two payloads are identical. An
	// implementation may just compare handles if comparing payload
	// contents is impractical; doing so means a payload prerequisite holds
	// only when the expected handle is the very handle stored, and a
	// "change to the same value" with a different handle appears as a
	// real change.
	EqualPayloads(a, b PayloadHandle) bool

	// ReleaseKey releases a reference to a key handle that verstore no
	// longer needs.
	ReleaseKey(handle KeyHandle)

	// ReleasePayload releases a reference to a payload handle that
	// verstore no longer needs.
	ReleasePayload(handle PayloadHandle)

	// ReleaseKeySubscription releases a key subscription handle.
	ReleaseKeySubscription(handle KeySubscriptionHandle)

	// ReleaseSubkeySubscription releases a subkey subscription handle.
	ReleaseSubkeySubscription(handle SubkeySubscriptionHandle)

	// DuplicateKey returns a handle equivalent to the input (same hash,
	// equality and ordering behavior) that verstore can hold and later
	// release independently of the original. Implementations may return
	// the same handle unchanged if duplication is a no-op (e.g. integer
	// keys).
	DuplicateKey(handle KeyHandle) KeyHandle

	// DuplicatePayload is the payload equivalent of DuplicateKey.
	DuplicatePayload(handle PayloadHandle) PayloadHandle

	// Pager allocates and frees the page-aligned, zeroed memory blobs are
	// built from.
	Pager() Pager

	// LockWriterMutex locks the mutex that restricts all modifications of
	// the storage. Customizable so storages backed by shared memory can
	// use a cross-process mutex.
	LockWriterMutex()

	// UnlockWriterMutex unlocks the writer mutex.
	UnlockWriterMutex()
}
