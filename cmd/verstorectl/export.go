package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ca-labs/verstore/internal/atomicfile"
	"github.com/ca-labs/verstore/pkg/verstore"
)

// exportedSubkey and exportedKey mirror one key's live state as of a
// Snapshot's version, shaped for yaml/json marshaling.
type exportedSubkey struct {
	Subkey  uint64 `yaml:"subkey" json:"subkey"`
	Payload string `yaml:"payload" json:"payload"`
}

type exportedKey struct {
	Key     string           `yaml:"key" json:"key"`
	Subkeys []exportedSubkey `yaml:"subkeys" json:"subkeys"`
}

type exportedSnapshot struct {
	Version uint64        `yaml:"version" json:"version"`
	Keys    []exportedKey `yaml:"keys" json:"keys"`
}

func buildExport(snap *verstore.Snapshot, behavior *demoBehavior) exportedSnapshot {
	out := exportedSnapshot{Version: snap.Version()}

	keys := snap.Keys()
	for keys.Next() {
		key := keys.Key()
		keyStr, _ := behavior.KeyString(key)
		ek := exportedKey{Key: keyStr}

		subs := keys.Subkeys()
		for subs.Next() {
			payloadStr, _ := behavior.PayloadString(subs.Payload())
			ek.Subkeys = append(ek.Subkeys, exportedSubkey{
				Subkey:  subs.Subkey(),
				Payload: payloadStr,
			})
		}

		out.Keys = append(out.Keys, ek)
	}

	sort.Slice(out.Keys, func(i, j int) bool { return out.Keys[i].Key < out.Keys[j].Key })
	return out
}

// writeExport marshals snap as YAML or JSON (by path's extension, YAML
// otherwise) and writes it to path atomically via atomicfile, so a reader
// polling the export file never observes a half-written one.
func writeExport(snap *verstore.Snapshot, behavior *demoBehavior, path string) error {
	data := buildExport(snap, behavior)

	var (
		encoded []byte
		err     error
	)
	if strings.HasSuffix(path, ".json") {
		encoded, err = json.MarshalIndent(data, "", "  ")
	} else {
		encoded, err = yaml.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}

	w := atomicfile.NewWriter()
	return w.Write(path, encoded, atomicfile.WriteOptions{Perm: os.FileMode(0o644)})
}
