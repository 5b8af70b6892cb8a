package verstore_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ca-labs/verstore/pkg/verstore"
)

// Test_Subkey_History_Beyond_Inline_Capacity_Stays_Correct writes a subkey
// many more times than fit in its inline version window, forcing overflow
// SubkeyVersionBlocks, and checks every intermediate snapshot still reads
// the value that was current as of its own version.
func Test_Subkey_History_Beyond_Inline_Capacity_Stays_Correct(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")

	const writes = 10 // well past inlineSubkeyVersions (2)
	snaps := make([]*verstore.Snapshot, 0, writes)
	values := make([]string, 0, writes)

	for i := 0; i < writes; i++ {
		value := fmt.Sprintf("v%d", i)
		txn := storage.NewTransaction()
		txn.Put(key, 1, behavior.payload(value))
		result, err := storage.ApplyTransaction(txn)
		require.NoError(t, err)
		require.Equal(t, verstore.TransactionApplied, result)

		snap, err := storage.CurrentSnapshot()
		require.NoError(t, err)
		snaps = append(snaps, snap)
		values = append(values, value)
	}

	for i, snap := range snaps {
		got, found := snap.FindSubkey(key, 1)
		require.True(t, found, "snapshot %d", i)
		require.Equal(t, values[i], behavior.payloadString(got), "snapshot %d", i)
	}

	for _, snap := range snaps {
		snap.Release()
	}
}

// Test_Key_Subkeys_Count_History_Beyond_Inline_Capacity_Stays_Correct does
// the same for a key's subkeys-count history (inlineKeyVersions is 3),
// toggling a key between one and many live subkeys across many versions.
func Test_Key_Subkeys_Count_History_Beyond_Inline_Capacity_Stays_Correct(t *testing.T) {
	t.Parallel()
	storage, behavior := newTestStorage(t, verstore.Options{})

	key := behavior.key("k")

	const rounds = 8
	snaps := make([]*verstore.Snapshot, 0, rounds)
	wantCounts := make([]uint32, 0, rounds)

	for i := 0; i < rounds; i++ {
		txn := storage.NewTransaction()
		if i%2 == 0 {
			txn.Put(key, 1, behavior.payload("a"))
			txn.Put(key, 2, behavior.payload("b"))
		} else {
			txn.Delete(key, 2)
		}
		_, err := storage.ApplyTransaction(txn)
		require.NoError(t, err)

		snap, err := storage.CurrentSnapshot()
		require.NoError(t, err)
		snaps = append(snaps, snap)

		if i%2 == 0 {
			wantCounts = append(wantCounts, 2)
		} else {
			wantCounts = append(wantCounts, 1)
		}
	}

	for i, snap := range snaps {
		require.Equal(t, wantCounts[i], snap.SubkeysCount(key), "snapshot %d", i)
	}

	for _, snap := range snaps {
		snap.Release()
	}
}
