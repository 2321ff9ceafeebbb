// Package store implements the State Store: indented-JSON persistence for
// the engine's data files, with locked read-modify-write helpers for the
// mutations that must not race with a concurrent reader or writer.
//
// Grounded on automation_engine.py's read_json/write_json/
// atomic_update_entry_status: a missing file reads as an empty document
// rather than an error, and every write is indented the same way the
// original dumps with indent=2, so the files stay diffable by hand.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/ruleforge/automation-core/app/lock"
)

// DefaultLockStaleTimeout bounds how long a state-file lock is honored
// before a crashed holder's lock is reclaimed.
const DefaultLockStaleTimeout = 10 * time.Second

// DefaultLockTimeout bounds how long Acquire waits for a contended lock.
const DefaultLockTimeout = 30 * time.Second

// ReadJSON decodes path into v. A missing file leaves v at its zero value
// and returns nil, mirroring automation_engine.py's read_json returning {}.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "store: read %s", path)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "store: decode %s", path)
	}
	return nil
}

// WriteJSON encodes v to path with two-space indentation, creating parent
// directories as needed.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "store: mkdir for %s", path)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "store: encode %s", path)
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "store: write %s", path)
}

// lockPathFor derives the sibling lock file path for a state file, e.g.
// "queue.json" locks via "queue.json.lock".
func lockPathFor(path string) string {
	return path + ".lock"
}

// WithFileLock serializes fn against other callers mutating path, using a
// lock file alongside it. Callers pass path so unrelated files never
// contend on the same lock.
func WithFileLock(ctx context.Context, path string, fn func() error) error {
	fl := lock.New(lockPathFor(path), DefaultLockStaleTimeout)
	return lock.WithLock(ctx, fl, DefaultLockTimeout, fn)
}

// Document is the generic {entries: {key: entry}} shape of a watched entry
// file. rules.json (top-level "rules") and the task queue (top-level
// "tasks") use their own document types instead.
type Document[T any] struct {
	Entries map[string]T `json:"entries"`
}

// UpdateEntry performs a locked read-modify-write on a single entry keyed
// document. mutate receives the entry as raw JSON (so callers can decode
// into their own type) and returns the updated entry or ok=false to leave
// the document untouched (entry not found). Grounded on
// atomic_update_entry_status: errors from mutate abort the write.
func UpdateEntry(ctx context.Context, path, key string, mutate func(raw json.RawMessage, exists bool) (updated json.RawMessage, ok bool, err error)) error {
	return WithFileLock(ctx, path, func() error {
		var doc struct {
			Entries map[string]json.RawMessage `json:"entries"`
			Rest    map[string]json.RawMessage `json:"-"`
		}
		raw := map[string]json.RawMessage{}
		if err := ReadJSON(path, &raw); err != nil {
			return err
		}
		if entriesRaw, ok := raw["entries"]; ok {
			if err := json.Unmarshal(entriesRaw, &doc.Entries); err != nil {
				return errors.Wrap(err, "store: decode entries")
			}
		}
		if doc.Entries == nil {
			doc.Entries = map[string]json.RawMessage{}
		}

		existing, exists := doc.Entries[key]
		updated, ok, err := mutate(existing, exists)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		doc.Entries[key] = updated
		raw["entries"] = mustMarshal(doc.Entries)
		return WriteJSON(path, raw)
	})
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// entries are always JSON-decoded values round-tripping through
		// json.RawMessage; Marshal of a map of those cannot fail.
		panic(err)
	}
	return data
}

// UpdateEntryStatus is the common case of UpdateEntry: set an entry's
// status field, stamping updated_at always and status_changed_at only when
// the status actually changes. entry must be a JSON object; extraFields are
// merged in afterward.
func UpdateEntryStatus(ctx context.Context, path, key, newStatus string, extraFields map[string]any) (bool, error) {
	found := false
	err := UpdateEntry(ctx, path, key, func(raw json.RawMessage, exists bool) (json.RawMessage, bool, error) {
		if !exists {
			return nil, false, nil
		}
		var entry map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entry); err != nil {
				return nil, false, errors.Wrap(err, "store: decode entry")
			}
		}
		if entry == nil {
			entry = map[string]any{}
		}
		oldStatus, _ := entry["status"].(string)
		entry["status"] = newStatus
		now := time.Now().UTC().Format(time.RFC3339Nano)
		entry["updated_at"] = now
		if oldStatus != newStatus {
			entry["status_changed_at"] = now
		}
		for k, v := range extraFields {
			entry[k] = v
		}
		found = true
		return mustMarshal(entry), true, nil
	})
	return found, err
}
