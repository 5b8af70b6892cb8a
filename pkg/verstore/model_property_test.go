package verstore_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ca-labs/verstore/pkg/verstore"
)

// This file compares Storage's publicly observable current-state behavior
// against a deliberately simple in-memory model under random operation
// sequences. It is not an on-disk/wire-format conformance test: only
// "what a caller can see through FindSubkey/SubkeysCount/Keys" is modeled.

type referenceModel struct {
	keys map[string]map[uint64]string
}

func newReferenceModel() *referenceModel {
	return &referenceModel{keys: make(map[string]map[uint64]string)}
}

func (m *referenceModel) put(key string, subkey uint64, value string) {
	if m.keys[key] == nil {
		m.keys[key] = make(map[uint64]string)
	}
	m.keys[key][subkey] = value
}

func (m *referenceModel) delete(key string, subkey uint64) {
	delete(m.keys[key], subkey)
}

func (m *referenceModel) clear(key string) {
	m.keys[key] = make(map[uint64]string)
}

// snapshotView flattens the model into the same shape storageView extracts
// from a real Storage, for structural comparison via go-cmp.
func (m *referenceModel) snapshotView() map[string]map[uint64]string {
	view := make(map[string]map[uint64]string)
	for key, subkeys := range m.keys {
		if len(subkeys) == 0 {
			continue
		}
		copySubkeys := make(map[uint64]string, len(subkeys))
		for sk, v := range subkeys {
			copySubkeys[sk] = v
		}
		view[key] = copySubkeys
	}
	return view
}

func storageView(t *testing.T, storage *verstore.Storage, behavior *testBehavior) map[string]map[uint64]string {
	t.Helper()
	snap, err := storage.CurrentSnapshot()
	if err != nil {
		t.Fatalf("CurrentSnapshot: %v", err)
	}
	defer snap.Release()

	view := make(map[string]map[uint64]string)
	keys := snap.Keys()
	for keys.Next() {
		keyStr := behavior.keyString(keys.Key())
		subkeys := make(map[uint64]string)
		sub := keys.Subkeys()
		for sub.Next() {
			subkeys[sub.Subkey()] = behavior.payloadString(sub.Payload())
		}
		if len(subkeys) > 0 {
			view[keyStr] = subkeys
		}
	}
	return view
}

func Test_Storage_Matches_Reference_Model_Under_Random_Operations(t *testing.T) {
	t.Parallel()

	const (
		seedCount  = 20
		opsPerSeed = 150
	)

	keyPool := []string{"a", "b", "c", "d", "e"}
	subkeyPool := []uint64{1, 2, 3, 4}

	for seedIdx := 0; seedIdx < seedCount; seedIdx++ {
		seed := int64(seedIdx + 1)
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			t.Parallel()

			rng := rand.New(rand.NewSource(seed))
			storage, behavior := newTestStorage(t, verstore.Options{})
			model := newReferenceModel()

			keyHandles := make(map[string]verstore.KeyHandle)
			keyOf := func(k string) verstore.KeyHandle {
				if h, ok := keyHandles[k]; ok {
					return h
				}
				h := behavior.key(k)
				keyHandles[k] = h
				return h
			}

			for i := 0; i < opsPerSeed; i++ {
				key := keyPool[rng.Intn(len(keyPool))]
				subkey := subkeyPool[rng.Intn(len(subkeyPool))]
				kh := keyOf(key)

				txn := storage.NewTransaction()
				switch rng.Intn(3) {
				case 0:
					value := fmt.Sprintf("v%d", rng.Intn(1000))
					txn.Put(kh, subkey, behavior.payload(value))
					model.put(key, subkey, value)
				case 1:
					txn.Delete(kh, subkey)
					model.delete(key, subkey)
				case 2:
					txn.ClearBeforeTransaction(kh)
					model.clear(key)
				}

				if _, err := storage.ApplyTransaction(txn); err != nil {
					t.Fatalf("ApplyTransaction at op %d: %v", i, err)
				}
			}

			got := storageView(t, storage, behavior)
			want := model.snapshotView()

			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("storage state diverged from model (seed=%d):\n%s", seed, diff)
			}
		})
	}
}
