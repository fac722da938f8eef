package game

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"gamesync/internal/clock"
)

// Kind tags the payload variant of an operation.
type Kind string

const (
	KindDiceRoll    Kind = "DiceRoll"
	KindPlaceBet    Kind = "PlaceBet"
	KindPlayerJoin  Kind = "PlayerJoin"
	KindPlayerLeave Kind = "PlayerLeave"
	KindPhaseChange Kind = "PhaseChange"
)

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool {
	switch k {
	case KindDiceRoll, KindPlaceBet, KindPlayerJoin, KindPlayerLeave, KindPhaseChange:
		return true
	default:
		return false
	}
}

// Payload is the sealed set of operation bodies. Every variant carries the
// time at which it was applied by its proposer.
type Payload interface {
	Kind() Kind
	AppliedAt() time.Time
	isPayload()
}

// DiceRoll records the faces of a roll. Rolling is true while the dice
// are still in the air.
type DiceRoll struct {
	Dice1   int
	Dice2   int
	Rolling bool
	At      time.Time
}

// PlaceBet moves Amount from the proposer's balance into the pot.
type PlaceBet struct {
	Amount int64
	At     time.Time
}

// PlayerJoin adds the proposer to the roster under Name.
type PlayerJoin struct {
	Name string
	At   time.Time
}

// PlayerLeave marks the proposer as disconnected.
type PlayerLeave struct {
	At time.Time
}

// PhaseChange moves the game to Phase. Point is only set in PointPhase.
type PhaseChange struct {
	Phase Phase
	Point *int
	At    time.Time
}

func (DiceRoll) Kind() Kind    { return KindDiceRoll }
func (PlaceBet) Kind() Kind    { return KindPlaceBet }
func (PlayerJoin) Kind() Kind  { return KindPlayerJoin }
func (PlayerLeave) Kind() Kind { return KindPlayerLeave }
func (PhaseChange) Kind() Kind { return KindPhaseChange }

func (p DiceRoll) AppliedAt() time.Time    { return p.At }
func (p PlaceBet) AppliedAt() time.Time    { return p.At }
func (p PlayerJoin) AppliedAt() time.Time  { return p.At }
func (p PlayerLeave) AppliedAt() time.Time { return p.At }
func (p PhaseChange) AppliedAt() time.Time { return p.At }

func (DiceRoll) isPayload()    {}
func (PlaceBet) isPayload()    {}
func (PlayerJoin) isPayload()  {}
func (PlayerLeave) isPayload() {}
func (PhaseChange) isPayload() {}

// Total returns the sum of both dice.
func (p DiceRoll) Total() int {
	return p.Dice1 + p.Dice2
}

// Operation is an immutable, stamped game operation. Values are created
// once, on proposal or on receipt, and never modified afterwards; Clock is
// a private copy.
type Operation struct {
	ID      string
	Origin  string
	Clock   clock.VectorClock
	Payload Payload
}

// NewOperation builds an operation proposed by origin at now: a fresh ID,
// a private copy of vc and the payload stamped with now.
func NewOperation(origin string, now time.Time, vc clock.VectorClock, payload Payload) Operation {
	return Operation{
		ID:      NewID(origin, now),
		Origin:  origin,
		Clock:   vc.Copy(),
		Payload: Stamp(payload, now),
	}
}

// NewID returns a globally unique operation ID built from the origin node,
// its local time and a random disambiguator.
func NewID(origin string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", origin, now.UnixNano(), uuid.NewString()[:8])
}

// Kind returns the payload variant, or "" for an operation without payload.
func (op Operation) Kind() Kind {
	if op.Payload == nil {
		return ""
	}
	return op.Payload.Kind()
}

// Timestamp returns the application timestamp embedded in the payload.
func (op Operation) Timestamp() time.Time {
	if op.Payload == nil {
		return time.Time{}
	}
	return op.Payload.AppliedAt()
}

// String returns a short description for logs.
func (op Operation) String() string {
	return fmt.Sprintf("%s(%s from %s at %s)", op.Kind(), op.ID, op.Origin, op.Clock)
}

// Stamp returns p with its application time set to at, unless p already
// carries one.
func Stamp(p Payload, at time.Time) Payload {
	if p == nil || !p.AppliedAt().IsZero() {
		return p
	}
	switch p := p.(type) {
	case DiceRoll:
		p.At = at
		return p
	case PlaceBet:
		p.At = at
		return p
	case PlayerJoin:
		p.At = at
		return p
	case PlayerLeave:
		p.At = at
		return p
	case PhaseChange:
		p.At = at
		return p
	}
	return p
}
