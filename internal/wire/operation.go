package wire

import (
	"fmt"
	"time"

	"gamesync/internal/clock"
	"gamesync/internal/game"
)

// Operation is the wire form of a game operation.
type Operation struct {
	ID      string            `json:"id"`
	Type    game.Kind         `json:"type"`
	Origin  string            `json:"origin"`
	Clock   clock.VectorClock `json:"clock"`
	Payload Body              `json:"payload"`
}

// Body holds the variant fields of an operation. Only the fields of the
// operation's type are set.
type Body struct {
	Dice1      *int    `json:"dice1,omitempty"`
	Dice2      *int    `json:"dice2,omitempty"`
	IsRolling  *bool   `json:"isRolling,omitempty"`
	Amount     *int64  `json:"amount,omitempty"`
	PlayerName *string `json:"playerName,omitempty"`
	Phase      *string `json:"phase,omitempty"`
	Point      *int    `json:"point,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// FromOperation converts a game operation to its wire form.
func FromOperation(op game.Operation) (Operation, error) {
	if op.Payload == nil {
		return Operation{}, fmt.Errorf("operation %s: %w", op.ID, game.ErrNoPayload)
	}

	body := Body{Timestamp: op.Timestamp().UnixMilli()}
	switch p := op.Payload.(type) {
	case game.DiceRoll:
		body.Dice1 = ptr(p.Dice1)
		body.Dice2 = ptr(p.Dice2)
		body.IsRolling = ptr(p.Rolling)
	case game.PlaceBet:
		body.Amount = ptr(p.Amount)
	case game.PlayerJoin:
		body.PlayerName = ptr(p.Name)
	case game.PlayerLeave:
	case game.PhaseChange:
		body.Phase = ptr(string(p.Phase))
		if p.Point != nil {
			body.Point = ptr(*p.Point)
		}
	default:
		return Operation{}, fmt.Errorf("operation %s: unsupported payload %T", op.ID, p)
	}

	return Operation{
		ID:      op.ID,
		Type:    op.Payload.Kind(),
		Origin:  op.Origin,
		Clock:   op.Clock.Copy(),
		Payload: body,
	}, nil
}

// ToOperation validates the wire form and converts it to a game operation.
// Semantic checks such as dice ranges are left to the game rules; this
// only rejects what cannot be represented.
func (w Operation) ToOperation() (game.Operation, error) {
	if w.ID == "" || w.Origin == "" {
		return game.Operation{}, fmt.Errorf("operation without id or origin: %w", ErrMalformed)
	}
	if w.Clock.Get(w.Origin) == 0 {
		return game.Operation{}, fmt.Errorf("operation %s: clock has no entry for origin %s: %w", w.ID, w.Origin, ErrMalformed)
	}

	at := time.UnixMilli(w.Payload.Timestamp)
	b := w.Payload

	var payload game.Payload
	switch w.Type {
	case game.KindDiceRoll:
		if b.Dice1 == nil || b.Dice2 == nil {
			return game.Operation{}, missing(w, "dice1/dice2")
		}
		payload = game.DiceRoll{Dice1: *b.Dice1, Dice2: *b.Dice2, Rolling: deref(b.IsRolling), At: at}
	case game.KindPlaceBet:
		if b.Amount == nil {
			return game.Operation{}, missing(w, "amount")
		}
		payload = game.PlaceBet{Amount: *b.Amount, At: at}
	case game.KindPlayerJoin:
		if b.PlayerName == nil {
			return game.Operation{}, missing(w, "playerName")
		}
		payload = game.PlayerJoin{Name: *b.PlayerName, At: at}
	case game.KindPlayerLeave:
		payload = game.PlayerLeave{At: at}
	case game.KindPhaseChange:
		if b.Phase == nil {
			return game.Operation{}, missing(w, "phase")
		}
		pc := game.PhaseChange{Phase: game.Phase(*b.Phase), At: at}
		if b.Point != nil {
			pc.Point = ptr(*b.Point)
		}
		payload = pc
	default:
		return game.Operation{}, fmt.Errorf("operation %s: unknown type %q: %w", w.ID, w.Type, ErrMalformed)
	}

	return game.Operation{
		ID:      w.ID,
		Origin:  w.Origin,
		Clock:   w.Clock.Copy(),
		Payload: payload,
	}, nil
}

// FromOperations converts a batch, skipping nothing.
func FromOperations(ops []game.Operation) ([]Operation, error) {
	out := make([]Operation, 0, len(ops))
	for _, op := range ops {
		w, err := FromOperation(op)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func missing(w Operation, field string) error {
	return fmt.Errorf("operation %s: %s missing %s: %w", w.ID, w.Type, field, ErrMalformed)
}

func ptr[T any](v T) *T {
	return &v
}

func deref(b *bool) bool {
	return b != nil && *b
}
