package state

import (
	"sort"
	"time"

	"gamesync/internal/game"
)

// Before is the replay order: clock sum first (which respects
// happened-before), then clock key, origin and ID. It is a strict total
// order over distinct operations.
func Before(a, b game.Operation) bool {
	if as, bs := a.Clock.Sum(), b.Clock.Sum(); as != bs {
		return as < bs
	}
	if ak, bk := a.Clock.Key(), b.Clock.Key(); ak != bk {
		return ak < bk
	}
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	return a.ID < b.ID
}

// Timeline is the window of applied operations on top of a compacted base.
// It is not safe for concurrent use.
type Timeline struct {
	base Snapshot
	ops  []game.Operation
	ids  map[string]struct{}
	head Snapshot
}

// NewTimeline starts an empty timeline on genesis.
func NewTimeline(genesis Snapshot) *Timeline {
	return &Timeline{
		base: genesis,
		ids:  make(map[string]struct{}),
		head: genesis,
	}
}

// Insert places op at its replay position and returns the new head.
// replayed is true when op did not sort last and the window was refolded.
// Inserting a known ID is a no-op.
func (t *Timeline) Insert(op game.Operation) (head Snapshot, replayed bool) {
	if _, ok := t.ids[op.ID]; ok {
		return t.head, false
	}
	t.ids[op.ID] = struct{}{}

	pos := sort.Search(len(t.ops), func(i int) bool {
		return Before(op, t.ops[i])
	})
	if pos == len(t.ops) {
		t.ops = append(t.ops, op)
		t.head = t.head.Apply(op)
		return t.head, false
	}

	t.ops = append(t.ops, game.Operation{})
	copy(t.ops[pos+1:], t.ops[pos:])
	t.ops[pos] = op
	t.refold()
	return t.head, true
}

// Remove drops the given operations from the window and refolds. It
// returns the new head and how many operations were removed. Operations
// already compacted into the base cannot be removed.
func (t *Timeline) Remove(ids ...string) (Snapshot, int) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := t.ops[:0]
	removed := 0
	for _, op := range t.ops {
		if _, ok := drop[op.ID]; ok {
			delete(t.ids, op.ID)
			removed++
			continue
		}
		kept = append(kept, op)
	}
	for i := len(kept); i < len(t.ops); i++ {
		t.ops[i] = game.Operation{}
	}
	t.ops = kept

	if removed > 0 {
		t.refold()
	}
	return t.head, removed
}

// Compact folds leading operations into the base while they are older
// than cutoff or the window exceeds capacity. The head is unchanged.
// It returns how many operations were compacted.
func (t *Timeline) Compact(cutoff time.Time, capacity int) int {
	n := 0
	for n < len(t.ops) {
		op := t.ops[n]
		overCap := capacity > 0 && len(t.ops)-n > capacity
		if !overCap && !op.Timestamp().Before(cutoff) {
			break
		}
		t.base = t.base.Apply(op)
		delete(t.ids, op.ID)
		n++
	}
	if n > 0 {
		t.ops = append([]game.Operation(nil), t.ops[n:]...)
	}
	return n
}

// Head returns the snapshot after every operation in the window.
func (t *Timeline) Head() Snapshot {
	return t.head
}

// Contains reports whether op is in the window.
func (t *Timeline) Contains(id string) bool {
	_, ok := t.ids[id]
	return ok
}

// Len returns the window size.
func (t *Timeline) Len() int {
	return len(t.ops)
}

// Operations returns a copy of the window in replay order.
func (t *Timeline) Operations() []game.Operation {
	return append([]game.Operation(nil), t.ops...)
}

func (t *Timeline) refold() {
	head := t.base
	for _, op := range t.ops {
		head = head.Apply(op)
	}
	t.head = head
}
