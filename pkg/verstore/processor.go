package verstore

// applyTransactionLocked validates and applies txn against s's current
// blob, returning without mutating anything if a prerequisite fails or the
// transaction turns out to have no effect. The caller must hold
// behavior.LockWriterMutex for the duration of this call.
func applyTransactionLocked(s *Storage, txn *Transaction) (TransactionResult, error) {
	st := s.current.Load()
	b := st.blob
	if !b.isMutableMode() {
		return TransactionFailedDueToInsufficientResources, ErrResourceExhausted
	}
	a := newBlobAccessor(b, s.behavior)

	plan, result, err := planTransaction(a, st.version, txn)
	if err != nil || result != TransactionApplied {
		return result, err
	}

	if !planFitsInPlace(a, plan) {
		return applyTransactionByMerge(s, st, txn)
	}

	newBlob, newVersion := applyPlan(newMutatingBlobAccessor(b, s.behavior), st.version, plan)
	s.publish(newBlob, newVersion)
	return TransactionApplied, nil
}

// publish atomically swaps in a new current state, releasing the storage's
// own implicit hold on the old current version (and, if the blob changed
// too, on the old blob). A freshly added version's refcount already starts
// at "1 implicit reference" (see versionRefCountAccessor.initVersion) and a
// freshly allocated blob's liveness counter already starts the same way
// (see newBlob), so publishing never needs to add a reference, only to
// release the one the old state held.
func (s *Storage) publish(b *blob, version uint64) {
	old := s.current.Load()
	s.current.Store(&currentState{blob: b, version: version})

	oldOffset := uint32(old.version - old.blob.baseVersion())
	newVersionRefCountAccessor(old.blob).removeReference(oldOffset)

	if b != old.blob {
		if old.blob.removeReferenceFromBlob() {
			_ = old.blob.destroy(s.behavior)
		}
	}
}

// subkeyWriteOp is one fully-resolved subkey write, derived from a
// transaction's explicit Put/Delete and/or an implicit ClearBeforeTransaction
// deletion. payload/isDelete describe intent only; DuplicatePayload is
// called exactly once, by applyPlan, when the write is actually committed
// to a blob (planTransaction may run twice, once against the current blob
// and again against a freshly merged one, and must stay side-effect-free).
type subkeyWriteOp struct {
	subkey   uint64
	isDelete bool
	payload  PayloadHandle
}

// keyWritePlan is one key's fully-resolved set of subkey writes.
type keyWritePlan struct {
	key      KeyHandle
	keyLoc   uint32
	keyFound bool
	writes   []subkeyWriteOp
}

// transactionPlan is the fully-validated, effect-checked set of writes a
// transaction will perform, computed read-only against the current blob
// before any mutation happens.
type transactionPlan struct {
	keys []keyWritePlan
}

// planTransaction validates every prerequisite and resolves every write
// (including ClearBeforeTransaction's implicit deletes) against the current
// state as of currentVersion, without mutating anything. It returns
// TransactionFailedPrerequisite if any Require* fails, or
// TransactionAppliedWithNoEffect if the resolved plan touches nothing.
func planTransaction(a blobAccessor, currentVersion uint64, txn *Transaction) (transactionPlan, TransactionResult, error) {
	var plan transactionPlan
	anyEffect := false

	for _, kop := range txn.keys {
		keyLoc, keyFound := a.findKey(kop.key)

		baseSubkeysCount := uint32(0)
		if keyFound && !kop.clearBeforeTransaction {
			if cnt, ok := a.subkeysCountAsOf(keyLoc, uint32(currentVersion-a.blob.baseVersion())); ok {
				baseSubkeysCount = cnt
			}
		}
		if kop.requireSubkeysCount != nil && baseSubkeysCount != *kop.requireSubkeysCount {
			return transactionPlan{}, TransactionFailedPrerequisite, nil
		}

		live := map[uint64]VersionedPayload{}
		if keyFound && !kop.clearBeforeTransaction {
			// Only the explicitly named subkeys need a "current" lookup;
			// ClearBeforeTransaction additionally needs every live subkey
			// enumerated below, to turn each into an implicit delete.
			for _, sop := range kop.subkeys {
				if subkeyLoc, found := a.findSubkey(keyLoc, sop.subkey); found {
					if vp, found := a.payloadAsOf(subkeyLoc, currentVersion); found && vp.HasPayload() {
						live[sop.subkey] = vp
					}
				}
			}
		}

		for _, sop := range kop.subkeys {
			current, hasCurrent := live[sop.subkey]
			switch sop.requirement.kind {
			case requirementMissing:
				if hasCurrent {
					return transactionPlan{}, TransactionFailedPrerequisite, nil
				}
			case requirementValue:
				if !hasCurrent || !a.behavior.EqualPayloads(current.Payload, sop.requirement.handle) {
					return transactionPlan{}, TransactionFailedPrerequisite, nil
				}
			}
		}

		kplan := keyWritePlan{key: kop.key, keyLoc: keyLoc, keyFound: keyFound}

		if keyFound && kop.clearBeforeTransaction {
			forEachLiveSubkey(a, keyLoc, currentVersion, func(subkey uint64, vp VersionedPayload) {
				live[subkey] = vp
			})
		}

		explicit := map[uint64]bool{}
		for _, sop := range kop.subkeys {
			explicit[sop.subkey] = true
			current, hasCurrent := live[sop.subkey]

			switch sop.write.kind {
			case writeValue:
				if !hasCurrent || !a.behavior.EqualPayloads(current.Payload, sop.write.handle) {
					kplan.writes = append(kplan.writes, subkeyWriteOp{subkey: sop.subkey, payload: sop.write.handle})
					anyEffect = true
				}
			case writeDelete:
				if hasCurrent {
					kplan.writes = append(kplan.writes, subkeyWriteOp{subkey: sop.subkey, isDelete: true})
					anyEffect = true
				}
			case writeNone:
				if kop.clearBeforeTransaction && hasCurrent {
					kplan.writes = append(kplan.writes, subkeyWriteOp{subkey: sop.subkey, isDelete: true})
					anyEffect = true
				}
			}
		}

		if kop.clearBeforeTransaction {
			for subkey := range live {
				if explicit[subkey] {
					continue
				}
				kplan.writes = append(kplan.writes, subkeyWriteOp{subkey: subkey, isDelete: true})
				anyEffect = true
			}
		}

		if len(kplan.writes) > 0 {
			plan.keys = append(plan.keys, kplan)
		}
	}

	if !anyEffect {
		return transactionPlan{}, TransactionAppliedWithNoEffect, nil
	}
	return plan, TransactionApplied, nil
}

// forEachLiveSubkey walks every subkey of the key at keyLoc that has a live
// payload as of version, via the sorted linked list (not the hash index),
// since ClearBeforeTransaction needs a full enumeration rather than a
// single lookup.
func forEachLiveSubkey(a blobAccessor, keyLoc uint32, version uint64, fn func(subkey uint64, vp VersionedPayload)) {
	kb := a.blob.keyStateBlockAt(keyLoc)
	cur := kb.subkeyListHead()
	for cur != invalidDataBlockLocation {
		sb := a.blob.subkeyStateBlockAt(cur)
		next := sb.nextInList()
		if vp, found := a.payloadAsOf(cur, version); found && vp.HasPayload() {
			fn(sb.subkey(), vp)
		}
		cur = next
	}
}

// planFitsInPlace reports whether a's blob has enough spare capacity (index
// slots, data blocks, and one more version) to apply plan without
// reallocating. New state blocks always consume a data block plus an index
// slot; a write to a pre-existing state block whose inline window is
// already full additionally needs one overflow data block.
func planFitsInPlace(a blobAccessor, plan transactionPlan) bool {
	b := a.blob
	if !b.canAddVersion() {
		return false
	}

	var newStateBlocks, overflowBlocks uint32
	for _, kplan := range plan.keys {
		keyExists := kplan.keyFound
		if !keyExists {
			newStateBlocks++
		} else {
			kb := b.keyStateBlockAt(kplan.keyLoc)
			if kb.inlineCount() >= inlineKeyVersions {
				overflowBlocks++
			}
		}

		for _, w := range kplan.writes {
			subkeyLoc, subkeyFound := uint32(0), false
			if keyExists {
				subkeyLoc, subkeyFound = a.findSubkey(kplan.keyLoc, w.subkey)
			}
			if !subkeyFound {
				newStateBlocks++
				continue
			}
			sb := b.subkeyStateBlockAt(subkeyLoc)
			if sb.inlineCount() >= inlineSubkeyVersions {
				overflowBlocks++
			}
		}
	}

	totalBlocks := int(newStateBlocks) + int(overflowBlocks)
	// The new version's 4-byte refcount comes out of the same space as the
	// data blocks, so count it before dividing the free bytes into blocks.
	totalBytes := b.dataBlocksCapacity() * blockSize
	used := b.storedDataBlocksCount()*blockSize + (b.storedVersionsCount()+1)*4
	freeBlocks := 0
	if used < totalBytes {
		freeBlocks = int((totalBytes - used) / blockSize)
	}
	return freeBlocks >= totalBlocks && b.remainingIndexSlotsCapacity() >= newStateBlocks
}

// applyPlan mutates acc's blob in place: reserves a new version, applies
// every write, and bumps each touched key's subkeys-count history. Returns
// the blob (unchanged pointer) and the new current version.
func applyPlan(acc mutatingBlobAccessor, currentVersion uint64, plan transactionPlan) (*blob, uint64) {
	offset := acc.addVersion()
	newVersion := acc.blob.baseVersion() + uint64(offset)

	for _, kplan := range plan.keys {
		keyLoc, _, _ := acc.insertKeyIfMissing(kplan.key)
		keySlotLoc, _ := acc.blob.findKeyState(acc.behavior, kplan.key)

		baseCount, _ := acc.subkeysCountAsOfWithOverflow(keyLoc, keySlotLoc, uint32(currentVersion-acc.blob.baseVersion()))
		count := baseCount

		for _, w := range kplan.writes {
			subkeyLoc, created, _ := acc.insertSubkeyIfMissing(keyLoc, w.subkey)
			subkeySlotLoc, _ := acc.blob.findSubkeyState(keyLoc, mixKeyAndSubkeyHash(acc.behavior.HashKey(kplan.key), w.subkey), w.subkey)

			wasAlive := false
			if !created {
				if prev, found := acc.payloadAsOfWithOverflow(subkeyLoc, subkeySlotLoc, currentVersion); found && prev.HasPayload() {
					wasAlive = true
				}
			}

			var entry VersionedPayload
			if w.isDelete {
				entry = tombstoneAt(newVersion)
			} else {
				entry = VersionedPayload{Version: newVersion, Payload: acc.behavior.DuplicatePayload(w.payload)}
			}

			acc.pushPayload(subkeyLoc, subkeySlotLoc, entry)

			isAlive := entry.HasPayload()
			switch {
			case isAlive && !wasAlive:
				count++
			case !isAlive && wasAlive:
				count--
			}
		}

		acc.pushSubkeysCount(keyLoc, keySlotLoc, offset, count)
	}

	return acc.blob, newVersion
}
