package game

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDice         = errors.New("dice faces must be between 1 and 6")
	ErrInvalidAmount       = errors.New("bet amount must be positive")
	ErrUnknownPlayer       = errors.New("player has not joined")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidPhase        = errors.New("invalid phase")
	ErrEmptyName           = errors.New("player name cannot be empty")
	ErrNoPayload           = errors.New("operation has no payload")
)

// View is the read-only slice of game state the rules need.
type View interface {
	Balance(playerID string) (int64, bool)
}

// Validate checks a payload proposed by playerID against the current view.
// It only guards local proposals; remote operations are folded as received.
func Validate(playerID string, p Payload, view View) error {
	switch p := p.(type) {
	case DiceRoll:
		if !validFace(p.Dice1) || !validFace(p.Dice2) {
			return fmt.Errorf("roll %d/%d: %w", p.Dice1, p.Dice2, ErrInvalidDice)
		}
	case PlaceBet:
		if p.Amount <= 0 {
			return fmt.Errorf("bet %d: %w", p.Amount, ErrInvalidAmount)
		}
		balance, ok := view.Balance(playerID)
		if !ok {
			return fmt.Errorf("bet by %s: %w", playerID, ErrUnknownPlayer)
		}
		if balance < p.Amount {
			return fmt.Errorf("bet %d with balance %d: %w", p.Amount, balance, ErrInsufficientBalance)
		}
	case PlayerJoin:
		if p.Name == "" {
			return ErrEmptyName
		}
	case PlayerLeave:
		if _, ok := view.Balance(playerID); !ok {
			return fmt.Errorf("leave by %s: %w", playerID, ErrUnknownPlayer)
		}
	case PhaseChange:
		if !p.Phase.Valid() {
			return fmt.Errorf("phase %q: %w", p.Phase, ErrInvalidPhase)
		}
		if p.Point != nil && (p.Phase != PhasePointPhase || !IsPointNumber(*p.Point)) {
			return fmt.Errorf("point %d in phase %s: %w", *p.Point, p.Phase, ErrInvalidPhase)
		}
		if p.Point == nil && p.Phase == PhasePointPhase {
			return fmt.Errorf("phase %s requires a point: %w", p.Phase, ErrInvalidPhase)
		}
	case nil:
		return ErrNoPayload
	}
	return nil
}

func validFace(n int) bool {
	return n >= 1 && n <= 6
}
