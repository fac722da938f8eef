package oplog

import (
	"time"

	"gamesync/internal/clock"
	"gamesync/internal/game"
)

const (
	// DefaultCapacity is the number of entries kept before the oldest are evicted.
	DefaultCapacity = 1000
	// DefaultRetention is how long entries survive pruning.
	DefaultRetention = 60 * time.Second
)

// Entry is one logged operation with the local time it was appended.
type Entry struct {
	Operation  game.Operation
	AppendedAt time.Time
}

// Log is an append-only, capacity-bounded operation history.
// Thread-safe operations should be handled by the caller.
type Log struct {
	entries  []Entry
	capacity int
}

// New creates a log holding at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  make([]Entry, 0, min(capacity, 64)),
		capacity: capacity,
	}
}

// Append records op and evicts the oldest entries beyond capacity.
// It returns how many entries were evicted.
func (l *Log) Append(op game.Operation, now time.Time) int {
	l.entries = append(l.entries, Entry{Operation: op, AppendedAt: now})

	over := len(l.entries) - l.capacity
	if over <= 0 {
		return 0
	}
	// Zero evicted slots so their payloads can be collected.
	for i := 0; i < over; i++ {
		l.entries[i] = Entry{}
	}
	l.entries = append(l.entries[:0], l.entries[over:]...)
	return over
}

// Prune removes entries whose embedded application timestamp is before
// olderThan. It returns how many entries were removed.
func (l *Log) Prune(olderThan time.Time) int {
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Operation.Timestamp().Before(olderThan) {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(l.entries) - len(kept)
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = Entry{}
	}
	l.entries = kept
	return removed
}

// Remove drops the entries for the given operation IDs. It returns how
// many entries were removed.
func (l *Log) Remove(ids ...string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := l.entries[:0]
	for _, e := range l.entries {
		if _, ok := drop[e.Operation.ID]; ok {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(l.entries) - len(kept)
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = Entry{}
	}
	l.entries = kept
	return removed
}

// Last returns the ID of the most recently appended operation.
func (l *Log) Last() (string, bool) {
	if len(l.entries) == 0 {
		return "", false
	}
	return l.entries[len(l.entries)-1].Operation.ID, true
}

// Missing returns up to limit logged operations that the given clock has
// not seen, oldest first.
func (l *Log) Missing(known clock.VectorClock, limit int) []game.Operation {
	var out []game.Operation
	for _, e := range l.entries {
		if known.Covers(e.Operation.Clock) {
			continue
		}
		out = append(out, e.Operation)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Except returns up to limit logged operations whose ID is not in known,
// oldest first.
func (l *Log) Except(known []string, limit int) []game.Operation {
	have := make(map[string]struct{}, len(known))
	for _, id := range known {
		have[id] = struct{}{}
	}
	var out []game.Operation
	for _, e := range l.entries {
		if _, ok := have[e.Operation.ID]; ok {
			continue
		}
		out = append(out, e.Operation)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// IDs returns the logged operation IDs in append order.
func (l *Log) IDs() []string {
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Operation.ID
	}
	return out
}

// Entries returns a copy of the log in append order.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Clear drops every entry.
func (l *Log) Clear() {
	l.entries = l.entries[:0]
}
