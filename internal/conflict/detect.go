package conflict

import (
	"time"

	"gamesync/internal/game"
)

// DefaultDiceWindow is how close two rolls must be to conflict.
const DefaultDiceWindow = time.Second

// Detector applies the type-specific conflict predicate.
type Detector struct {
	diceWindow time.Duration
}

// NewDetector creates a detector. A non-positive window uses DefaultDiceWindow.
func NewDetector(diceWindow time.Duration) *Detector {
	if diceWindow <= 0 {
		diceWindow = DefaultDiceWindow
	}
	return &Detector{diceWindow: diceWindow}
}

// DiceWindow returns the configured roll window.
func (d *Detector) DiceWindow() time.Duration {
	return d.diceWindow
}

// Conflicts reports whether a and b conflict. An operation never conflicts
// with itself, and kinds other than DiceRoll and PlaceBet never conflict.
func (d *Detector) Conflicts(a, b game.Operation) bool {
	if a.ID == b.ID {
		return false
	}

	switch {
	case a.Kind() == game.KindDiceRoll && b.Kind() == game.KindDiceRoll:
		gap := a.Timestamp().Sub(b.Timestamp())
		if gap < 0 {
			gap = -gap
		}
		return gap <= d.diceWindow
	case a.Kind() == game.KindPlaceBet && b.Kind() == game.KindPlaceBet:
		return a.Origin == b.Origin
	default:
		return false
	}
}

// Detect returns every operation in pending that conflicts with op, in
// the order given.
func (d *Detector) Detect(op game.Operation, pending []game.Operation) []game.Operation {
	var out []game.Operation
	for _, p := range pending {
		if d.Conflicts(op, p) {
			out = append(out, p)
		}
	}
	return out
}
