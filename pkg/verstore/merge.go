package verstore

// applyTransactionByMerge is the fallback path used when txn does not fit
// into the current blob's spare capacity: it builds a fresh, larger blob
// holding every key/subkey alive as of old.version, re-resolves txn against
// it (locations differ from the old blob, so the plan can't be reused
// as-is), and applies it there. The old blob is marked immutable
// unconditionally: once a blob has to attempt reallocation, it is
// permanently barred from further writes even if the reallocation itself
// then fails. Existing Snapshots keep reading the old blob until they
// release it.
func applyTransactionByMerge(s *Storage, old *currentState, txn *Transaction) (TransactionResult, error) {
	newB, err := createMergedBlob(old.blob, s.behavior, old.version)
	if err != nil {
		old.blob.setImmutableMode()
		return TransactionFailedDueToInsufficientResources, ErrResourceExhausted
	}
	old.blob.setImmutableMode()

	a := newBlobAccessor(newB, s.behavior)
	plan, result, err := planTransaction(a, old.version, txn)
	if err != nil {
		_ = newB.destroy(s.behavior)
		return result, err
	}
	if result != TransactionApplied {
		// No effect even against the freshly merged state: still cut over,
		// since the old blob can no longer accept writes either way.
		s.publish(newB, old.version)
		return result, nil
	}
	if !planFitsInPlace(a, plan) {
		_ = newB.destroy(s.behavior)
		return TransactionFailedDueToInsufficientResources, ErrResourceExhausted
	}

	finalBlob, newVersion := applyPlan(newMutatingBlobAccessor(newB, s.behavior), old.version, plan)
	// Nothing holds the merged blob's base version once the new version is
	// current: drop the reference it was created with.
	newVersionRefCountAccessor(finalBlob).removeReference(0)
	s.publish(finalBlob, newVersion)
	return TransactionApplied, nil
}

// createMergedBlob allocates a blob sized to comfortably outgrow old (double
// its index and data block capacity) and repopulates it with every key and
// subkey alive as of asOfVersion, each duplicated via the Behavior so the
// new blob owns its own handle references. The new blob's base version is
// asOfVersion itself: no Snapshot will ever need to read an earlier version
// from it, since older versions remain served by the old, now-immutable
// blob for as long as any Snapshot still references them.
//
// A key or subkey with no live payload as of asOfVersion still survives the
// merge, as a payload-less placeholder, if it carries a subscription: the
// subscription handle has nowhere else to live and must keep being
// reachable from the merged blob until it is explicitly released.
//
// Payload/key handles that become unreachable because this merge dropped
// them (values overwritten or deleted before asOfVersion, or whole versions
// with no surviving Snapshot) are not individually released here: once old's
// own liveness refcount reaches zero it is walked and released as a whole
// by blob.destroy, rather than this merge walking every historical entry.
// This bounds the merge to the live-as-of-one-version case instead of a
// full generational scan; see DESIGN.md.
func createMergedBlob(old *blob, behavior Behavior, asOfVersion uint64) (*blob, error) {
	minIndexSlots := int(old.indexBlockCount()*slotsPerIndexBlock) * 2
	minDataBlocks := int(old.dataBlocksCapacity()) * 2

	newB, err := newBlob(behavior.Pager(), asOfVersion, minIndexSlots, minDataBlocks)
	if err != nil {
		return nil, err
	}

	acc := newMutatingBlobAccessor(newB, behavior)
	oldOffset := uint32(asOfVersion - old.baseVersion())

	cur := old.keysListHead()
	for cur != invalidDataBlockLocation {
		kb := old.keyStateBlockAt(cur)
		next := kb.nextInList()
		key := kb.key()

		keySlotLoc, _ := old.findKeyState(behavior, key)
		count, found := newMutatingBlobAccessor(old, behavior).subkeysCountAsOfWithOverflow(cur, keySlotLoc, oldOffset)
		keySurvives := found && count > 0
		keyHasSubscription := kb.hasSubscription()
		keyHasSubscribedSubkey := false
		for s := kb.subkeyListHead(); s != invalidDataBlockLocation; s = old.subkeyStateBlockAt(s).nextInList() {
			if old.subkeyStateBlockAt(s).hasSubscription() {
				keyHasSubscribedSubkey = true
				break
			}
		}
		if !keySurvives && !keyHasSubscription && !keyHasSubscribedSubkey {
			cur = next
			continue
		}

		// insertKeyIfMissing duplicates key itself for the merged blob.
		newKeyLoc, _, ok := acc.insertKeyIfMissing(key)
		if !ok {
			_ = newB.destroy(behavior)
			return nil, ErrResourceExhausted
		}
		newKeySlotLoc, _ := newB.findKeyState(behavior, key)
		if keyHasSubscription {
			newB.keyStateBlockAt(newKeyLoc).setSubscription(kb.subscription())
		}

		var liveCount uint32
		subCur := kb.subkeyListHead()
		for subCur != invalidDataBlockLocation {
			sb := old.subkeyStateBlockAt(subCur)
			subNext := sb.nextInList()
			subkey := sb.subkey()
			subHasSubscription := sb.hasSubscription()

			subSlotLoc, _ := old.findSubkeyState(cur, mixKeyAndSubkeyHash(behavior.HashKey(key), subkey), subkey)
			vp, found := newMutatingBlobAccessor(old, behavior).payloadAsOfWithOverflow(subCur, subSlotLoc, asOfVersion)
			switch {
			case found && vp.HasPayload():
				newSubkeyLoc, _, ok := acc.insertSubkeyIfMissing(newKeyLoc, subkey)
				if !ok {
					_ = newB.destroy(behavior)
					return nil, ErrResourceExhausted
				}
				newSubkeySlotLoc, _ := newB.findSubkeyState(newKeyLoc, mixKeyAndSubkeyHash(behavior.HashKey(key), subkey), subkey)
				dupPayload := behavior.DuplicatePayload(vp.Payload)
				if !acc.pushPayload(newSubkeyLoc, newSubkeySlotLoc, VersionedPayload{Version: asOfVersion, Payload: dupPayload}) {
					_ = newB.destroy(behavior)
					return nil, ErrResourceExhausted
				}
				if subHasSubscription {
					newB.subkeyStateBlockAt(newSubkeyLoc).setSubscription(sb.subscription())
				}
				liveCount++
			case subHasSubscription:
				// No live payload, but a subscription still needs a place to
				// live on in the merged blob: carry the subkey forward as a
				// payload-less placeholder.
				newSubkeyLoc, _, ok := acc.insertSubkeyIfMissing(newKeyLoc, subkey)
				if !ok {
					_ = newB.destroy(behavior)
					return nil, ErrResourceExhausted
				}
				newB.subkeyStateBlockAt(newSubkeyLoc).setSubscription(sb.subscription())
			}
			subCur = subNext
		}

		if !acc.pushSubkeysCount(newKeyLoc, newKeySlotLoc, 0, liveCount) {
			_ = newB.destroy(behavior)
			return nil, ErrResourceExhausted
		}
		cur = next
	}

	return newB, nil
}
