/*
File: state.go
Version: 1.1.0
Description: Durable JSON state helpers shared by all stateful components.
             Writes go through a temp file plus rename so a crash never
             leaves a half-written state file. A saveNotifier coalesces
             persistence requests onto a background goroutine so the
             classification hot path never blocks on disk.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// readStateFile loads JSON state into v. A missing file is not an error;
// the caller keeps its defaults.
func readStateFile(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("corrupt state file %s: %w", path, err)
	}
	return true, nil
}

// writeStateFile atomically replaces the state file at path.
func writeStateFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// saveNotifier coalesces save requests: Kick never blocks, and any number of
// kicks between two save cycles result in a single write.
type saveNotifier struct {
	ch chan struct{}
}

func newSaveNotifier() *saveNotifier {
	return &saveNotifier{ch: make(chan struct{}, 1)}
}

// Kick schedules a save. Safe from any goroutine, never blocks.
func (s *saveNotifier) Kick() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Run drives save until ctx is cancelled, then performs one final save.
func (s *saveNotifier) Run(ctx context.Context, save func()) {
	for {
		select {
		case <-s.ch:
			save()
		case <-ctx.Done():
			save()
			return
		}
	}
}
