// Package persist writes the controller's JSON state documents with a
// backup-rename discipline so that a crash mid-write never leaves a
// truncated or partially written file as the active state.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// backupTimeFormat names backups down to the millisecond so rapid
// consecutive saves do not collide.
const backupTimeFormat = "20060102T150405.000"

// Save atomically replaces the JSON document at path with v.
//
// An existing target is first renamed to a timestamped .bak file. If
// writing the new document fails the backup is restored over the target;
// on success the backup is removed. Either way the path never holds a
// partial file.
func Save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: encoding %s: %w", path, err)
	}

	backup := ""
	if _, statErr := os.Stat(path); statErr == nil {
		backup = fmt.Sprintf("%s.%s.bak", path, time.Now().UTC().Format(backupTimeFormat))
		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("persist: backing up %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		if backup != "" {
			if restoreErr := os.Rename(backup, path); restoreErr != nil {
				return fmt.Errorf("persist: writing %s failed (%w) and backup restore failed: %v", path, err, restoreErr)
			}
		}
		return fmt.Errorf("persist: writing %s: %w", path, err)
	}

	if backup != "" {
		//nolint:errcheck // A stale backup is harmless; the new state is already live
		os.Remove(backup)
	}
	return nil
}

// Load reads the JSON document at path into v.
//
// A missing file is not an error: v is left at its zero value so a fresh
// controller starts with empty state.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("persist: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("persist: decoding %s: %w", path, err)
	}
	return nil
}
