package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/ca-labs/verstore/pkg/verstore"
)

// seedOp is one entry of a seed script. Scripts are HuJSON (JSON plus
// comments and trailing commas), so a script can document itself:
//
//	[
//	  // warm up the demo key with a couple of subkeys
//	  {"op": "put", "key": "users/1", "subkey": 1, "value": "alice"},
//	  {"op": "put", "key": "users/1", "subkey": 2, "value": "bob"},
//	  {"op": "delete", "key": "users/1", "subkey": 2},
//	  {"op": "clear", "key": "stale-key"},
//	]
type seedOp struct {
	Op     string `json:"op"`
	Key    string `json:"key"`
	Subkey uint64 `json:"subkey"`
	Value  string `json:"value"`
}

// loadSeedScript reads and parses a HuJSON seed script from path.
func loadSeedScript(path string) ([]seedOp, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed script: %w", err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing seed script: %w", err)
	}

	var ops []seedOp
	if err := json.Unmarshal(std, &ops); err != nil {
		return nil, fmt.Errorf("decoding seed script: %w", err)
	}
	return ops, nil
}

// applySeedScript builds one Transaction from ops and applies it
// atomically: either every op in the script lands, or none do.
func applySeedScript(storage *verstore.Storage, behavior *demoBehavior, ops []seedOp) (verstore.TransactionResult, error) {
	txn := storage.NewTransaction()

	var interned []verstore.KeyHandle
	var internedPayloads []verstore.PayloadHandle
	release := func() {
		for _, k := range interned {
			behavior.ReleaseKey(k)
		}
		for _, p := range internedPayloads {
			behavior.ReleasePayload(p)
		}
	}
	defer release()

	for _, op := range ops {
		if op.Key == "" {
			return verstore.TransactionFailedPrerequisite, fmt.Errorf("seed op missing key: %+v", op)
		}
		key := behavior.InternKey(op.Key)
		interned = append(interned, key)

		switch op.Op {
		case "put":
			payload := behavior.InternPayload(op.Value)
			internedPayloads = append(internedPayloads, payload)
			txn.Put(key, op.Subkey, payload)
		case "delete":
			txn.Delete(key, op.Subkey)
		case "clear":
			txn.ClearBeforeTransaction(key)
		default:
			return verstore.TransactionFailedPrerequisite, fmt.Errorf("unknown seed op %q", op.Op)
		}
	}

	return storage.ApplyTransaction(txn)
}
