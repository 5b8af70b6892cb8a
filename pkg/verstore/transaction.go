package verstore

// Transaction accumulates a batch of subkey writes and prerequisites to be
// applied atomically by Storage.ApplyTransaction. Build one with
// Storage.NewTransaction, call Put/Delete/Require* any number of times,
// then hand it to Storage.ApplyTransaction exactly once.
//
// Handle ownership: callers retain ownership of every KeyHandle/
// PayloadHandle passed into a Transaction method. The Transaction keeps
// the handles as given, without duplicating them; ApplyTransaction
// duplicates (via Behavior.DuplicateKey/DuplicatePayload) whatever it ends
// up actually storing. Callers keep their handles valid until
// ApplyTransaction returns and are free to release them afterwards.
type Transaction struct {
	keys     []*keyTransactionOp
	keyIndex map[KeyHandle]int
}

type keyTransactionOp struct {
	key                    KeyHandle
	clearBeforeTransaction bool
	requireSubkeysCount    *uint32
	subkeys                []subkeyTransactionOp
	subkeyIndex            map[uint64]int
}

type subkeyTransactionOp struct {
	subkey      uint64
	requirement PayloadRequirement
	write       payloadWrite
}

// NewTransaction returns an empty Transaction.
func NewTransaction() *Transaction {
	return &Transaction{keyIndex: make(map[KeyHandle]int)}
}

func (t *Transaction) keyOp(key KeyHandle) *keyTransactionOp {
	if i, ok := t.keyIndex[key]; ok {
		return t.keys[i]
	}
	op := &keyTransactionOp{key: key, subkeyIndex: make(map[uint64]int)}
	t.keyIndex[key] = len(t.keys)
	t.keys = append(t.keys, op)
	return op
}

func (k *keyTransactionOp) subkeyOp(subkey uint64) *subkeyTransactionOp {
	if i, ok := k.subkeyIndex[subkey]; ok {
		return &k.subkeys[i]
	}
	k.subkeyIndex[subkey] = len(k.subkeys)
	k.subkeys = append(k.subkeys, subkeyTransactionOp{subkey: subkey})
	return &k.subkeys[len(k.subkeys)-1]
}

// Put writes payload to (key, subkey), unconditionally (subject to any
// Require* prerequisites also added for the same key/subkey).
func (t *Transaction) Put(key KeyHandle, subkey uint64, payload PayloadHandle) *Transaction {
	op := t.keyOp(key).subkeyOp(subkey)
	op.write = payloadWrite{kind: writeValue, handle: payload}
	return t
}

// Delete removes the payload at (key, subkey), if any.
func (t *Transaction) Delete(key KeyHandle, subkey uint64) *Transaction {
	op := t.keyOp(key).subkeyOp(subkey)
	op.write = payloadWrite{kind: writeDelete}
	return t
}

// ClearBeforeTransaction marks every subkey currently alive under key as
// deleted before this transaction's own Put/Delete operations for that key
// are applied, and before its prerequisites are checked: prerequisites see
// the post-clear, pre-operation state, per SPEC_FULL.md's resolution of
// this interaction.
func (t *Transaction) ClearBeforeTransaction(key KeyHandle) *Transaction {
	t.keyOp(key).clearBeforeTransaction = true
	return t
}

// RequireMissingSubkey fails the transaction unless (key, subkey) has no
// payload at the moment the transaction is applied.
func (t *Transaction) RequireMissingSubkey(key KeyHandle, subkey uint64) *Transaction {
	op := t.keyOp(key).subkeyOp(subkey)
	op.requirement = RequireMissing()
	return t
}

// RequirePayload fails the transaction unless (key, subkey) currently
// holds a payload equal to expected, per Behavior.EqualPayloads.
func (t *Transaction) RequirePayload(key KeyHandle, subkey uint64, expected PayloadHandle) *Transaction {
	op := t.keyOp(key).subkeyOp(subkey)
	op.requirement = RequireValue(expected)
	return t
}

// RequireSubkeysCount fails the transaction unless key currently has
// exactly count live subkeys.
func (t *Transaction) RequireSubkeysCount(key KeyHandle, count uint32) *Transaction {
	op := t.keyOp(key)
	c := count
	op.requireSubkeysCount = &c
	return t
}

// empty reports whether the transaction has no operations at all.
func (t *Transaction) empty() bool {
	return len(t.keys) == 0
}
