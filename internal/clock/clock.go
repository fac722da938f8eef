package clock

import (
	"fmt"
	"sort"
	"strings"
)

// VectorClock represents a vector clock as a map from node ID to counter.
// Thread-safe operations should be handled by the caller.
type VectorClock map[string]uint64

// New creates a new empty vector clock.
func New() VectorClock {
	return make(VectorClock)
}

// Increment increments the counter for the given node ID.
// If the node ID doesn't exist, it's initialized to 1.
func (vc VectorClock) Increment(nodeID string) {
	vc[nodeID]++
}

// Get returns the counter value for the given node ID, or 0 if not present.
func (vc VectorClock) Get(nodeID string) uint64 {
	return vc[nodeID]
}

// Set sets the counter for the given node ID.
func (vc VectorClock) Set(nodeID string, value uint64) {
	vc[nodeID] = value
}

// Merge merges another vector clock into this one, taking the maximum
// counter value for each node ID.
func (vc VectorClock) Merge(other VectorClock) {
	for nodeID, counter := range other {
		if vc[nodeID] < counter {
			vc[nodeID] = counter
		}
	}
}

// Copy creates a deep copy of the vector clock.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// CompareResult represents the result of comparing two vector clocks.
type CompareResult int

const (
	// Before indicates this clock happened before the other.
	Before CompareResult = iota
	// After indicates this clock happened after the other.
	After
	// Concurrent indicates the clocks are concurrent (no causal relationship).
	Concurrent
	// Equal indicates the clocks are equal.
	Equal
)

// String returns the string representation of CompareResult.
func (r CompareResult) String() string {
	switch r {
	case Before:
		return "BEFORE"
	case After:
		return "AFTER"
	case Concurrent:
		return "CONCURRENT"
	case Equal:
		return "EQUAL"
	default:
		return "UNKNOWN"
	}
}

// Compare compares two vector clocks and returns their relationship.
// Missing entries count as zero.
//   - Equal: if all counters are equal
//   - Before: if this clock happened before other (all counters <=, at least one <)
//   - After: if this clock happened after other (all counters >=, at least one >)
//   - Concurrent: if neither dominates (some counters are greater, some are less)
func (vc VectorClock) Compare(other VectorClock) CompareResult {
	var thisLess, thisGreater bool
	for nodeID, thisVal := range vc {
		otherVal := other[nodeID]
		if thisVal < otherVal {
			thisLess = true
		} else if thisVal > otherVal {
			thisGreater = true
		}
	}
	for nodeID, otherVal := range other {
		if _, ok := vc[nodeID]; ok {
			continue
		}
		if otherVal > 0 {
			thisLess = true
		}
	}

	switch {
	case !thisLess && !thisGreater:
		return Equal
	case thisLess && !thisGreater:
		return Before
	case thisGreater && !thisLess:
		return After
	default:
		return Concurrent
	}
}

// HappensBefore reports whether vc is causally before other: every counter
// is <= and at least one is strictly less.
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	return vc.Compare(other) == Before
}

// Covers reports whether every event recorded in other is also recorded in vc.
func (vc VectorClock) Covers(other VectorClock) bool {
	cmp := vc.Compare(other)
	return cmp == After || cmp == Equal
}

// Equal checks if two vector clocks are equal. Zero entries are ignored.
func (vc VectorClock) Equal(other VectorClock) bool {
	return vc.Compare(other) == Equal
}

// Dominates returns true if this clock dominates (happened after) the other.
func (vc VectorClock) Dominates(other VectorClock) bool {
	return vc.Compare(other) == After
}

// IsConcurrent returns true if this clock is concurrent with the other.
func (vc VectorClock) IsConcurrent(other VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// Sum returns the total of all counters. If a happens before b then
// a.Sum() < b.Sum(), so ordering by Sum never contradicts causality.
func (vc VectorClock) Sum() uint64 {
	var total uint64
	for _, v := range vc {
		total += v
	}
	return total
}

// Key returns a canonical, byte-comparable encoding of the clock: node IDs
// in sorted order with zero-padded counters. Zero entries are skipped so
// equal clocks always share a key.
func (vc VectorClock) Key() string {
	keys := vc.nodeIDs()
	var b strings.Builder
	for _, k := range keys {
		if vc[k] == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%020d", k, vc[k])
	}
	return b.String()
}

// String returns a string representation of the vector clock.
func (vc VectorClock) String() string {
	if len(vc) == 0 {
		return "{}"
	}

	keys := vc.nodeIDs()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, vc[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (vc VectorClock) nodeIDs() []string {
	keys := make([]string, 0, len(vc))
	for k := range vc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clock is a vector clock owned by a single node. It is not safe for
// concurrent use; the owner serializes access.
type Clock struct {
	nodeID string
	vc     VectorClock
}

// NewClock creates a clock for nodeID starting at zero.
func NewClock(nodeID string) *Clock {
	return &Clock{nodeID: nodeID, vc: New()}
}

// NodeID returns the owning node's ID.
func (c *Clock) NodeID() string {
	return c.nodeID
}

// Tick advances the owner's counter by one and returns a copy of the clock.
func (c *Clock) Tick() VectorClock {
	c.vc.Increment(c.nodeID)
	return c.vc.Copy()
}

// Witness merges a remote clock into the local one and then ticks once, so
// the result is strictly after both the remote clock and the previous
// local clock.
func (c *Clock) Witness(remote VectorClock) VectorClock {
	c.vc.Merge(remote)
	return c.Tick()
}

// Now returns a copy of the current clock without advancing it.
func (c *Clock) Now() VectorClock {
	return c.vc.Copy()
}
