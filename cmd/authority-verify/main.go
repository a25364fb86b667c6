// Command authority-verify performs offline integrity verification of a
// forensic log previously written by authorityd, without needing the rest
// of the service running.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"quantumlife/internal/authority/forensic"
	"quantumlife/pkg/clock"
)

func main() {
	backend := flag.String("backend", "badger", "forensic store backend: badger or export")
	path := flag.String("path", "", "path to the badger forensic store directory, or an exported JSON log file")
	export := flag.String("export", "", "if set, after a successful verification also write the log as newline-delimited canonical JSON to this path")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "authority-verify: -path is required")
		os.Exit(2)
	}

	var store forensic.Store
	switch *backend {
	case "badger":
		bs, err := forensic.OpenBadgerStore(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "authority-verify: open badger store: %v\n", err)
			os.Exit(1)
		}
		defer bs.Close()
		store = bs
	case "export":
		entries, err := loadExportedEntries(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "authority-verify: load export: %v\n", err)
			os.Exit(1)
		}
		store = &replayStore{entries: entries}
	default:
		fmt.Fprintf(os.Stderr, "authority-verify: unknown backend %q\n", *backend)
		os.Exit(2)
	}

	log, err := forensic.New(clock.NewReal(), store, noIDGen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authority-verify: open log: %v\n", err)
		os.Exit(1)
	}

	result, err := log.VerifyAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "authority-verify: verify: %v\n", err)
		os.Exit(1)
	}
	if !result.OK {
		fmt.Printf("CORRUPT: chain breaks at entry %q\n", result.FirstBadEntry)
		os.Exit(1)
	}
	fmt.Println("OK: forensic log chain verified intact")

	if *export != "" {
		data, err := log.ExportJSON()
		if err != nil {
			fmt.Fprintf(os.Stderr, "authority-verify: export: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*export, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "authority-verify: write export: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %d bytes to %s\n", len(data), *export)
	}
}

// noIDGen never runs: Verify-only usage writes no new entries.
func noIDGen() string {
	panic("authority-verify: unexpected new entry write during verification")
}

// replayStore replays a previously exported newline-delimited canonical
// JSON log (genesis header line plus one forensic.Entry per line) as a
// read-only forensic.Store so authority-verify can check an exported
// artifact without a live Badger database.
type replayStore struct {
	entries []forensic.Entry
}

func (r *replayStore) Append(forensic.Entry) error {
	return fmt.Errorf("authority-verify: replay store is read-only")
}

func (r *replayStore) All() ([]forensic.Entry, error) {
	return r.entries, nil
}

func loadExportedEntries(path string) ([]forensic.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []forensic.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			continue // genesis header line
		}
		var e forensic.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parse entry line: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
