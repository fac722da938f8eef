package game

// Phase is the stage of a round.
type Phase string

const (
	PhaseWaitingForPlayers Phase = "WaitingForPlayers"
	PhasePlacingBets       Phase = "PlacingBets"
	PhaseComeOutRoll       Phase = "ComeOutRoll"
	PhasePointPhase        Phase = "PointPhase"
	PhaseRoundComplete     Phase = "RoundComplete"
	PhaseGameOver          Phase = "GameOver"
)

// Phases lists every phase in round order.
var Phases = []Phase{
	PhaseWaitingForPlayers,
	PhasePlacingBets,
	PhaseComeOutRoll,
	PhasePointPhase,
	PhaseRoundComplete,
	PhaseGameOver,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// IsPointNumber reports whether n can be established as the point.
func IsPointNumber(n int) bool {
	switch n {
	case 4, 5, 6, 8, 9, 10:
		return true
	default:
		return false
	}
}
