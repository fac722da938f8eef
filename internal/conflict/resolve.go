package conflict

import (
	"sort"

	"gamesync/internal/game"
)

// Resolution is the outcome of resolving a conflict set.
type Resolution struct {
	Winner game.Operation
	// Losers are the remaining members in resolution order.
	Losers []game.Operation
}

// LoserIDs returns the IDs of the losing operations.
func (r Resolution) LoserIDs() []string {
	ids := make([]string, len(r.Losers))
	for i, op := range r.Losers {
		ids[i] = op.ID
	}
	return ids
}

// Lost reports whether id is among the losers.
func (r Resolution) Lost(id string) bool {
	for _, op := range r.Losers {
		if op.ID == id {
			return true
		}
	}
	return false
}

// Less orders operations by clock key, then origin, then ID. The ID
// comparison makes the order total even for identical clocks.
func Less(a, b game.Operation) bool {
	if ak, bk := a.Clock.Key(), b.Clock.Key(); ak != bk {
		return ak < bk
	}
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	return a.ID < b.ID
}

// Resolve picks the winner of a conflict set: the first operation under
// Less. Duplicate IDs are collapsed. The result does not depend on the
// order of set. Resolve of an empty set returns ok=false.
func Resolve(set []game.Operation) (res Resolution, ok bool) {
	if len(set) == 0 {
		return Resolution{}, false
	}

	seen := make(map[string]struct{}, len(set))
	ordered := make([]game.Operation, 0, len(set))
	for _, op := range set {
		if _, dup := seen[op.ID]; dup {
			continue
		}
		seen[op.ID] = struct{}{}
		ordered = append(ordered, op)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return Less(ordered[i], ordered[j])
	})

	return Resolution{
		Winner: ordered[0],
		Losers: ordered[1:],
	}, true
}
