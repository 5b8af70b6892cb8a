package verstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ca-labs/verstore/pkg/verstore"
)

func Test_RequireMissingSubkey_Fails_When_Subkey_Is_Already_Present(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")
	txn := storage.NewTransaction()
	txn.Put(key, 1, behavior.payload("v"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	txn2 := storage.NewTransaction()
	txn2.RequireMissingSubkey(key, 1)
	txn2.Put(key, 1, behavior.payload("v2"))
	result, err := storage.ApplyTransaction(txn2)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionFailedPrerequisite, result)

	snap, err := storage.CurrentSnapshot()
	require.NoError(t, err)
	defer snap.Release()
	got, found := snap.FindSubkey(key, 1)
	require.True(t, found)
	require.Equal(t, "v", behavior.payloadString(got))
}

func Test_RequireMissingSubkey_Succeeds_When_Subkey_Is_Absent(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")
	txn := storage.NewTransaction()
	txn.RequireMissingSubkey(key, 1)
	txn.Put(key, 1, behavior.payload("v"))
	result, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionApplied, result)
}

func Test_RequirePayload_Fails_When_Current_Value_Differs(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")
	txn := storage.NewTransaction()
	txn.Put(key, 1, behavior.payload("v1"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	txn2 := storage.NewTransaction()
	txn2.RequirePayload(key, 1, behavior.payload("not-v1"))
	txn2.Put(key, 1, behavior.payload("v2"))
	result, err := storage.ApplyTransaction(txn2)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionFailedPrerequisite, result)
}

func Test_RequirePayload_Succeeds_When_Current_Value_Matches(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")
	txn := storage.NewTransaction()
	txn.Put(key, 1, behavior.payload("v1"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	txn2 := storage.NewTransaction()
	txn2.RequirePayload(key, 1, behavior.payload("v1"))
	txn2.Put(key, 1, behavior.payload("v2"))
	result, err := storage.ApplyTransaction(txn2)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionApplied, result)
}

func Test_RequireSubkeysCount_Fails_When_Count_Differs(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")
	txn := storage.NewTransaction()
	txn.Put(key, 1, behavior.payload("a"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	txn2 := storage.NewTransaction()
	txn2.RequireSubkeysCount(key, 2)
	txn2.Put(key, 2, behavior.payload("b"))
	result, err := storage.ApplyTransaction(txn2)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionFailedPrerequisite, result)
}

func Test_ClearBeforeTransaction_Deletes_Every_Live_Subkey_Not_Named(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")
	txn := storage.NewTransaction()
	txn.Put(key, 1, behavior.payload("a"))
	txn.Put(key, 2, behavior.payload("b"))
	txn.Put(key, 3, behavior.payload("c"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	txn2 := storage.NewTransaction()
	txn2.ClearBeforeTransaction(key)
	txn2.Put(key, 2, behavior.payload("b2"))
	result, err := storage.ApplyTransaction(txn2)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionApplied, result)

	snap, err := storage.CurrentSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	_, found := snap.FindSubkey(key, 1)
	require.False(t, found)

	got, found := snap.FindSubkey(key, 2)
	require.True(t, found)
	require.Equal(t, "b2", behavior.payloadString(got))

	_, found = snap.FindSubkey(key, 3)
	require.False(t, found)

	require.Equal(t, uint32(1), snap.SubkeysCount(key))
}

func Test_ClearBeforeTransaction_Prerequisites_See_PostClear_State(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")
	txn := storage.NewTransaction()
	txn.Put(key, 1, behavior.payload("a"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	// ClearBeforeTransaction wipes subkey 1 first, so a RequireMissingSubkey
	// on that same subkey must see it as already gone and succeed, even
	// though it was present when the transaction was built.
	txn2 := storage.NewTransaction()
	txn2.ClearBeforeTransaction(key)
	txn2.RequireMissingSubkey(key, 1)
	txn2.Put(key, 5, behavior.payload("fresh"))
	result, err := storage.ApplyTransaction(txn2)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionApplied, result)
}

func Test_Put_And_Delete_For_Different_Keys_Apply_Atomically(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	keyA := behavior.key("a")
	keyB := behavior.key("b")

	txn := storage.NewTransaction()
	txn.Put(keyA, 1, behavior.payload("va"))
	txn.Put(keyB, 1, behavior.payload("vb"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	txn2 := storage.NewTransaction()
	txn2.RequireMissingSubkey(keyA, 99) // always true, just to exercise multi-key path
	txn2.Delete(keyA, 1)
	txn2.Put(keyB, 1, behavior.payload("vb2"))
	result, err := storage.ApplyTransaction(txn2)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionApplied, result)

	snap, err := storage.CurrentSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	_, found := snap.FindSubkey(keyA, 1)
	require.False(t, found)

	got, found := snap.FindSubkey(keyB, 1)
	require.True(t, found)
	require.Equal(t, "vb2", behavior.payloadString(got))
}

func Test_Put_With_The_Same_Value_Has_No_Effect(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")
	txn := storage.NewTransaction()
	txn.Put(key, 1, behavior.payload("v"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	before := storage.CurrentVersion()

	txn2 := storage.NewTransaction()
	txn2.Put(key, 1, behavior.payload("v"))
	result, err := storage.ApplyTransaction(txn2)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionAppliedWithNoEffect, result)
	require.Equal(t, before, storage.CurrentVersion())
}

func Test_Put_With_The_Same_Value_Alongside_A_Real_Change_Still_Applies(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")
	txn := storage.NewTransaction()
	txn.Put(key, 1, behavior.payload("a"))
	txn.Put(key, 2, behavior.payload("b"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	txn2 := storage.NewTransaction()
	txn2.Put(key, 1, behavior.payload("a")) // unchanged, should be cancelled
	txn2.Put(key, 2, behavior.payload("b2")) // real change
	result, err := storage.ApplyTransaction(txn2)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionApplied, result)

	snap, err := storage.CurrentSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	got, found := snap.FindSubkey(key, 2)
	require.True(t, found)
	require.Equal(t, "b2", behavior.payloadString(got))
}

func Test_Empty_Transaction_Is_Applied_With_No_Effect(t *testing.T) {
	t.Parallel()
	storage, _ := newTestStorage(t, verstore.Options{})

	before := storage.CurrentVersion()
	txn := storage.NewTransaction()
	result, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)
	require.Equal(t, verstore.TransactionAppliedWithNoEffect, result)
	require.Equal(t, before, storage.CurrentVersion())
}
