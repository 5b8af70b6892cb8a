// verstorectl is an interactive shell for exercising a verstore.Storage:
// put/get/delete subkeys, inspect keys, seed from a script, and export a
// snapshot to disk.
//
// Usage:
//
//	verstorectl [options]
//
// Options:
//
//	--index-capacity   Minimum index slot capacity of the initial blob
//	--data-capacity    Minimum data block capacity of the initial blob
//	--seed             HuJSON seed script to apply before starting the REPL
//	--heap-pager       Use a plain Go-heap Pager instead of the mmap one
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/ca-labs/verstore/pkg/verstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	indexCapacity := pflag.Int("index-capacity", 0, "minimum index slot capacity of the initial blob")
	dataCapacity := pflag.Int("data-capacity", 0, "minimum data block capacity of the initial blob")
	seedPath := pflag.String("seed", "", "HuJSON seed script to apply before starting the REPL")
	heapPager := pflag.Bool("heap-pager", false, "use a plain Go-heap Pager instead of the mmap one")
	pflag.Parse()

	var pager verstore.Pager
	if *heapPager {
		pager = verstore.NewHeapPager()
	} else {
		pager = verstore.NewUnixPager()
	}

	behavior := newDemoBehavior(pager)
	storage, err := verstore.NewStorage(behavior, verstore.Options{
		MinIndexSlotsCapacity: *indexCapacity,
		MinDataBlocksCapacity: *dataCapacity,
	})
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}
	defer storage.Close()

	if *seedPath != "" {
		ops, err := loadSeedScript(*seedPath)
		if err != nil {
			return fmt.Errorf("loading seed script: %w", err)
		}
		result, err := applySeedScript(storage, behavior, ops)
		if err != nil {
			return fmt.Errorf("applying seed script: %w", err)
		}
		fmt.Printf("Seed script %s: %s (version=%d)\n", *seedPath, result, storage.CurrentVersion())
	}

	repl := newREPL(storage, behavior)
	return repl.Run()
}
