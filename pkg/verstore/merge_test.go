package verstore_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ca-labs/verstore/pkg/verstore"
)

// Test_Writes_Survive_Blob_Reallocation exercises the reallocate-and-merge
// fallback by starting from a deliberately tiny blob and writing far more
// keys/subkeys than it could ever hold without growing. Every write must
// still succeed and remain readable afterward, whether or not any
// individual transaction happened to trigger a merge.
func Test_Writes_Survive_Blob_Reallocation(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{
		MinIndexSlotsCapacity: 8,
		MinDataBlocksCapacity: 8,
	})

	const keyCount = 60

	keys := make([]verstore.KeyHandle, keyCount)
	for i := 0; i < keyCount; i++ {
		name := fmt.Sprintf("key-%03d", i)
		keys[i] = behavior.key(name)

		txn := storage.NewTransaction()
		txn.Put(keys[i], 1, behavior.payload(name+"-a"))
		txn.Put(keys[i], 2, behavior.payload(name+"-b"))
		result, err := storage.ApplyTransaction(txn)
		require.NoError(t, err)
		require.Equal(t, verstore.TransactionApplied, result)
	}

	snap, err := storage.CurrentSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	for i := 0; i < keyCount; i++ {
		name := fmt.Sprintf("key-%03d", i)
		got, found := snap.FindSubkey(keys[i], 1)
		require.True(t, found, "missing subkey 1 of %s", name)
		require.Equal(t, name+"-a", behavior.payloadString(got))

		got, found = snap.FindSubkey(keys[i], 2)
		require.True(t, found, "missing subkey 2 of %s", name)
		require.Equal(t, name+"-b", behavior.payloadString(got))

		require.Equal(t, uint32(2), snap.SubkeysCount(keys[i]))
	}
}

// Test_Old_Snapshot_Keeps_Working_After_A_Reallocation verifies that a
// Snapshot taken against a small blob stays valid and correct even after
// enough subsequent writes to force that blob to be merged away and
// marked immutable.
func Test_Old_Snapshot_Keeps_Working_After_A_Reallocation(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{
		MinIndexSlotsCapacity: 8,
		MinDataBlocksCapacity: 8,
	})

	firstKey := behavior.key("first")
	txn := storage.NewTransaction()
	txn.Put(firstKey, 1, behavior.payload("original"))
	_, err := storage.ApplyTransaction(txn)
	require.NoError(t, err)

	oldSnap, err := storage.CurrentSnapshot()
	require.NoError(t, err)
	defer oldSnap.Release()

	for i := 0; i < 60; i++ {
		name := fmt.Sprintf("filler-%03d", i)
		key := behavior.key(name)
		txn := storage.NewTransaction()
		txn.Put(key, 1, behavior.payload(name))
		_, err := storage.ApplyTransaction(txn)
		require.NoError(t, err)
	}

	got, found := oldSnap.FindSubkey(firstKey, 1)
	require.True(t, found)
	require.Equal(t, "original", behavior.payloadString(got))
}
