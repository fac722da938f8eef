package quorum

import (
	"sort"
	"time"

	"gamesync/internal/game"
)

const (
	// DefaultTimeout is how long an operation may stay pending.
	DefaultTimeout = 5 * time.Second
)

// Majority returns the number of acks needed to confirm an operation when
// n remote participants are known: ceil((n+1)/2).
func Majority(n int) int {
	if n < 0 {
		n = 0
	}
	return (n + 2) / 2
}

// Pending is an operation waiting for quorum.
type Pending struct {
	Op         game.Operation
	ProposedAt time.Time
	Acks       map[string]struct{}
}

// AckCount returns the size of the ack set.
func (p Pending) AckCount() int {
	return len(p.Acks)
}

// Acked reports whether nodeID has acknowledged the operation.
func (p Pending) Acked(nodeID string) bool {
	_, ok := p.Acks[nodeID]
	return ok
}

// Ackers returns the ack set in sorted order.
func (p Pending) Ackers() []string {
	out := make([]string, 0, len(p.Acks))
	for id := range p.Acks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p Pending) copy() Pending {
	acks := make(map[string]struct{}, len(p.Acks))
	for id := range p.Acks {
		acks[id] = struct{}{}
	}
	p.Acks = acks
	return p
}

// Tracker holds pending operations keyed by operation ID. It is not safe
// for concurrent use.
type Tracker struct {
	pending map[string]*Pending
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[string]*Pending)}
}

// Track starts tracking op with the given initial ackers. Tracking an ID
// that is already pending only adds the ackers.
func (t *Tracker) Track(op game.Operation, proposedAt time.Time, ackers ...string) {
	p, ok := t.pending[op.ID]
	if !ok {
		p = &Pending{
			Op:         op,
			ProposedAt: proposedAt,
			Acks:       make(map[string]struct{}, len(ackers)),
		}
		t.pending[op.ID] = p
	}
	for _, id := range ackers {
		p.Acks[id] = struct{}{}
	}
}

// Acknowledge records an ack from nodeID. When the ack set reaches
// Majority(participants) the entry is removed and confirmed is true.
// ok is false when opID is not pending.
func (t *Tracker) Acknowledge(opID, nodeID string, participants int) (p Pending, confirmed, ok bool) {
	entry, ok := t.pending[opID]
	if !ok {
		return Pending{}, false, false
	}

	entry.Acks[nodeID] = struct{}{}
	if len(entry.Acks) >= Majority(participants) {
		delete(t.pending, opID)
		return entry.copy(), true, true
	}
	return entry.copy(), false, true
}

// Expire removes and returns every entry proposed more than timeout
// before now, oldest first.
func (t *Tracker) Expire(now time.Time, timeout time.Duration) []Pending {
	var out []Pending
	for id, p := range t.pending {
		if now.Sub(p.ProposedAt) > timeout {
			out = append(out, p.copy())
			delete(t.pending, id)
		}
	}
	sortPending(out)
	return out
}

// Remove stops tracking the given IDs and returns how many were pending.
func (t *Tracker) Remove(ids ...string) int {
	n := 0
	for _, id := range ids {
		if _, ok := t.pending[id]; ok {
			delete(t.pending, id)
			n++
		}
	}
	return n
}

// Get returns a copy of the pending entry for opID.
func (t *Tracker) Get(opID string) (Pending, bool) {
	p, ok := t.pending[opID]
	if !ok {
		return Pending{}, false
	}
	return p.copy(), true
}

// Operations returns the pending operations ordered by proposal time.
func (t *Tracker) Operations() []game.Operation {
	entries := t.Entries()
	out := make([]game.Operation, len(entries))
	for i, p := range entries {
		out[i] = p.Op
	}
	return out
}

// Entries returns copies of all pending entries ordered by proposal time.
func (t *Tracker) Entries() []Pending {
	out := make([]Pending, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p.copy())
	}
	sortPending(out)
	return out
}

// Len returns the number of pending operations.
func (t *Tracker) Len() int {
	return len(t.pending)
}

// Clear drops every pending entry.
func (t *Tracker) Clear() {
	t.pending = make(map[string]*Pending)
}

func sortPending(ps []Pending) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].ProposedAt.Equal(ps[j].ProposedAt) {
			return ps[i].ProposedAt.Before(ps[j].ProposedAt)
		}
		return ps[i].Op.ID < ps[j].Op.ID
	})
}
