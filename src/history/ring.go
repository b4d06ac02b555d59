// Package history keeps the bounded in-memory record of classified failures,
// with an optional Postgres archive behind it.
package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"graphdoctor/src/contracts"
)

// ErrNotFound is returned when a status update names a timestamp no entry
// carries.
var ErrNotFound = errors.New("history entry not found")

// ErrInvalidStatus is returned for a resolution status outside the known set.
var ErrInvalidStatus = errors.New("invalid resolution status")

// Ring is a fixed-capacity failure history. When full, appending evicts the
// oldest entry. Entries are immutable after append except for their
// resolution status, keyed by timestamp.
type Ring struct {
	mu       sync.RWMutex
	entries  []contracts.HistoryEntry
	capacity int

	quarantined int
}

// NewRing creates a history ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{capacity: capacity}
}

// Append validates entry and adds it, evicting the oldest entry when the ring
// is full. Entries with an unknown schema version or missing mandatory fields
// are quarantined instead of stored, so one malformed producer cannot poison
// reads.
func (r *Ring) Append(entry contracts.HistoryEntry) error {
	if err := validate(entry); err != nil {
		r.mu.Lock()
		r.quarantined++
		r.mu.Unlock()
		return fmt.Errorf("quarantined: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == r.capacity {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, entry)
	return nil
}

// Entries returns a copy of the ring contents, oldest first.
func (r *Ring) Entries() []contracts.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contracts.HistoryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Recent returns the newest n entries, oldest first. n larger than the ring
// size returns everything.
func (r *Ring) Recent(n int) []contracts.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > len(r.entries) {
		n = len(r.entries)
	}
	if n <= 0 {
		return nil
	}
	out := make([]contracts.HistoryEntry, n)
	copy(out, r.entries[len(r.entries)-n:])
	return out
}

// UpdateStatus sets the resolution status of the entry with the given
// timestamp. Returns ErrNotFound if no entry matches and ErrInvalidStatus for
// an unknown status value.
func (r *Ring) UpdateStatus(ts time.Time, status contracts.ResolutionStatus) error {
	if !contracts.ValidStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].Timestamp.Equal(ts) {
			r.entries[i].Resolution = status
			return nil
		}
	}
	return fmt.Errorf("%w: timestamp %s", ErrNotFound, ts.Format(time.RFC3339Nano))
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Quarantined returns how many entries were rejected by schema validation.
func (r *Ring) Quarantined() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.quarantined
}

func validate(entry contracts.HistoryEntry) error {
	if entry.SchemaVersion != contracts.SchemaVersion {
		return fmt.Errorf("unknown schema version %d", entry.SchemaVersion)
	}
	if entry.Report.RawText == "" {
		return errors.New("empty error report")
	}
	if entry.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	if !contracts.ValidStatus(entry.Resolution) {
		return fmt.Errorf("invalid resolution status %q", entry.Resolution)
	}
	return nil
}
