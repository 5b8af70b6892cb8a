package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/ca-labs/verstore/pkg/verstore"
)

// REPL is the interactive command loop driving a Storage.
type REPL struct {
	storage  *verstore.Storage
	behavior *demoBehavior
	liner    *liner.State
}

func newREPL(storage *verstore.Storage, behavior *demoBehavior) *REPL {
	return &REPL{storage: storage, behavior: behavior}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".verstorectl_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("verstorectl - verstore CLI (version=%d)\n", r.storage.CurrentVersion())
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("verstorectl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil

		case "help", "?":
			r.printHelp()

		case "put":
			r.cmdPut(args)

		case "get":
			r.cmdGet(args)

		case "del", "delete":
			r.cmdDelete(args)

		case "clear":
			r.cmdClear(args)

		case "keys", "ls":
			r.cmdKeys(args)

		case "subkeys":
			r.cmdSubkeys(args)

		case "count":
			r.cmdCount(args)

		case "version":
			fmt.Printf("Current version: %d\n", r.storage.CurrentVersion())
			fmt.Printf("Alive versions:  %d\n", r.storage.AliveVersionsCount())

		case "seed":
			r.cmdSeed(args)

		case "export", "dump":
			r.cmdExport(args)

		case "clear-screen", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"put", "get", "del", "delete", "clear",
		"keys", "ls", "subkeys", "count", "version",
		"seed", "export", "dump", "clear-screen", "cls",
		"help", "exit", "quit", "q",
	}

	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <key> <subkey> <value>   Write a subkey's payload")
	fmt.Println("  get <key> <subkey>           Read a subkey's payload as of the current version")
	fmt.Println("  del <key> <subkey>           Delete a subkey")
	fmt.Println("  clear <key>                  Delete every subkey of a key")
	fmt.Println("  keys [limit]                 List alive keys")
	fmt.Println("  subkeys <key> [limit]        List a key's alive subkeys")
	fmt.Println("  count <key>                  Show a key's live subkeys count")
	fmt.Println("  version                      Show the current version")
	fmt.Println("  seed <script-file>           Apply a HuJSON seed script as one transaction")
	fmt.Println("  export <file> [.yaml|.json]  Dump the current snapshot atomically")
	fmt.Println("  help                         Show this help")
	fmt.Println("  exit / quit / q              Exit")
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: put <key> <subkey> <value>")
		return
	}
	subkey, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing subkey: %v\n", err)
		return
	}
	value := strings.Join(args[2:], " ")

	key := r.behavior.InternKey(args[0])
	payload := r.behavior.InternPayload(value)
	defer r.behavior.ReleaseKey(key)
	defer r.behavior.ReleasePayload(payload)

	txn := r.storage.NewTransaction()
	txn.Put(key, subkey, payload)

	result, err := r.storage.ApplyTransaction(txn)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%s (version=%d)\n", result, r.storage.CurrentVersion())
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: get <key> <subkey>")
		return
	}
	subkey, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing subkey: %v\n", err)
		return
	}

	snap, err := r.storage.CurrentSnapshot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer snap.Release()

	key := r.behavior.InternKey(args[0])
	defer r.behavior.ReleaseKey(key)

	payload, found := snap.FindSubkey(key, subkey)
	if !found {
		fmt.Println("(not found)")
		return
	}

	value, _ := r.behavior.PayloadString(payload)
	fmt.Printf("%s\n", value)
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: del <key> <subkey>")
		return
	}
	subkey, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Error parsing subkey: %v\n", err)
		return
	}

	key := r.behavior.InternKey(args[0])
	defer r.behavior.ReleaseKey(key)

	txn := r.storage.NewTransaction()
	txn.Delete(key, subkey)

	result, err := r.storage.ApplyTransaction(txn)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%s (version=%d)\n", result, r.storage.CurrentVersion())
}

func (r *REPL) cmdClear(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: clear <key>")
		return
	}

	key := r.behavior.InternKey(args[0])
	defer r.behavior.ReleaseKey(key)

	txn := r.storage.NewTransaction()
	txn.ClearBeforeTransaction(key)

	result, err := r.storage.ApplyTransaction(txn)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%s (version=%d)\n", result, r.storage.CurrentVersion())
}

func (r *REPL) cmdKeys(args []string) {
	limit := 50
	if len(args) >= 1 {
		var err error
		limit, err = strconv.Atoi(args[0])
		if err != nil {
			fmt.Printf("Error parsing limit: %v\n", err)
			return
		}
	}

	snap, err := r.storage.CurrentSnapshot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer snap.Release()

	t := newTable("KEY", "SUBKEYS")
	keys := snap.Keys()
	count := 0
	for keys.Next() && count < limit {
		keyStr, _ := r.behavior.KeyString(keys.Key())
		t.addRow(keyStr, strconv.FormatUint(uint64(keys.SubkeysCount()), 10))
		count++
	}

	if count == 0 {
		fmt.Println("(empty)")
		return
	}
	fmt.Print(t.render())
}

func (r *REPL) cmdSubkeys(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: subkeys <key> [limit]")
		return
	}
	limit := 50
	if len(args) >= 2 {
		var err error
		limit, err = strconv.Atoi(args[1])
		if err != nil {
			fmt.Printf("Error parsing limit: %v\n", err)
			return
		}
	}

	snap, err := r.storage.CurrentSnapshot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer snap.Release()

	key := r.behavior.InternKey(args[0])
	defer r.behavior.ReleaseKey(key)

	t := newTable("SUBKEY", "PAYLOAD")
	count := 0
	keys := snap.Keys()
	for keys.Next() {
		if keys.Key() != key && !r.behavior.EqualKeys(keys.Key(), key) {
			continue
		}
		subs := keys.Subkeys()
		for subs.Next() && count < limit {
			payloadStr, _ := r.behavior.PayloadString(subs.Payload())
			t.addRow(strconv.FormatUint(subs.Subkey(), 10), payloadStr)
			count++
		}
		break
	}

	if count == 0 {
		fmt.Println("(empty)")
		return
	}
	fmt.Print(t.render())
}

func (r *REPL) cmdCount(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: count <key>")
		return
	}

	snap, err := r.storage.CurrentSnapshot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer snap.Release()

	key := r.behavior.InternKey(args[0])
	defer r.behavior.ReleaseKey(key)

	fmt.Printf("Subkeys count: %d\n", snap.SubkeysCount(key))
}

func (r *REPL) cmdSeed(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: seed <script-file>")
		return
	}

	ops, err := loadSeedScript(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	result, err := applySeedScript(r.storage, r.behavior, ops)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%s: applied %d ops (version=%d)\n", result, len(ops), r.storage.CurrentVersion())
}

func (r *REPL) cmdExport(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: export <file> [.yaml|.json determined by extension]")
		return
	}

	snap, err := r.storage.CurrentSnapshot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer snap.Release()

	if err := writeExport(snap, r.behavior, args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK: exported version %d to %s\n", snap.Version(), args[0])
}
