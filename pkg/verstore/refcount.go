package verstore

// Reference counters for the versions stored in a blob live in the data
// section's low end, one atomic uint32 per version, in ascending version
// offset order (offset 0 is the base version), using a jump-mode
// amortization trick:
//
// Bit 0 of the counter selects its mode:
//   1 = refcount mode: bits 1..31 are the live reference count.
//   0 = jump mode: bits 1..31 are the number of consecutive unreferenced
//       versions (starting at this one) that can be skipped.
//
// A freshly added version starts at 3 (refcount mode, count 1).
// AddReference/RemoveReference work in increments of 2 so bit 0 never
// moves. When the writer's ForEachAliveVersion walk finds two or more
// dead versions in a row, it switches the first one to jump mode so later
// walks skip the whole run in one step, keeping the amortized cost of a
// full walk at O(alive versions) instead of O(stored versions).
type versionRefCountAccessor struct {
	b *blob
}

func newVersionRefCountAccessor(b *blob) versionRefCountAccessor {
	return versionRefCountAccessor{b: b}
}

func (a versionRefCountAccessor) offsetOf(versionOffset uint32) uint32 {
	return a.b.dataSectionStart + versionOffset*4
}

func (a versionRefCountAccessor) initVersion(versionOffset uint32) {
	atomicStoreU32(a.b.data, a.offsetOf(versionOffset), 3)
}

// addReference increments the live reference count of versionOffset.
func (a versionRefCountAccessor) addReference(versionOffset uint32) {
	atomicAddU32(a.b.data, a.offsetOf(versionOffset), 2)
}

// removeReference decrements the live reference count of versionOffset,
// returning true if it just reached zero.
func (a versionRefCountAccessor) removeReference(versionOffset uint32) bool {
	old := atomicAddU32(a.b.data, a.offsetOf(versionOffset), -2) + 2
	return old == 3
}

// forEachAliveVersion walks every version offset in [0, versionsCount)
// that is currently alive (refcount > 0), calling fn(offset) for each.
// Stops early if fn returns true. Writer-only: mutates jump-mode state as
// it walks, so it must never run concurrently with itself.
func (a versionRefCountAccessor) forEachAliveVersion(versionsCount uint32, fn func(versionOffset uint32) bool) {
	var jumpStartOffset uint32
	hasJumpStart := false
	var jumpDistance uint32

	for i := uint32(0); i < versionsCount; {
		off := a.offsetOf(i)
		snapshot := atomicLoadU32(a.b.data, off)
		isRefcountMode := snapshot&1 != 0

		switch {
		case isRefcountMode && snapshot > 1:
			// Alive.
			if fn(i) {
				return
			}
			hasJumpStart = false
			i++

		case hasJumpStart:
			// Another dead version right after one we already marked as a
			// jump start: extend the jump and keep looking.
			jumpIncrement := (snapshot + 1) >> 1
			jumpDistance += jumpIncrement
			atomicStoreU32(a.b.data, jumpStartOffset, jumpDistance<<1)
			i += jumpIncrement

		default:
			// First dead version in this run: remember it as the jump
			// start and record how far we can already skip (1 if it was a
			// plain refcount-mode zero, or its existing jump distance if
			// it was already in jump mode).
			jumpStartOffset = off
			hasJumpStart = true
			jumpDistance = (snapshot + 1) >> 1
			i += jumpDistance
		}
	}
}
