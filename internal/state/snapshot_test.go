package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamesync/internal/clock"
	"gamesync/internal/game"
)

var t0 = time.UnixMilli(1700000000000)

func op(id, origin string, vc clock.VectorClock, p game.Payload) game.Operation {
	return game.Operation{ID: id, Origin: origin, Clock: vc, Payload: p}
}

func TestSnapshot_ApplyJoinBetRoll(t *testing.T) {
	s := Genesis(500)

	s = s.Apply(op("1", "A", clock.VectorClock{"A": 1}, game.PlayerJoin{Name: "Alice", At: t0}))
	s = s.Apply(op("2", "A", clock.VectorClock{"A": 2}, game.PlaceBet{Amount: 50, At: t0.Add(time.Second)}))
	s = s.Apply(op("3", "B", clock.VectorClock{"A": 2, "B": 1}, game.DiceRoll{Dice1: 3, Dice2: 4, At: t0.Add(2 * time.Second)}))

	alice, ok := s.Player("A")
	require.True(t, ok)
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, int64(450), alice.Balance)
	assert.True(t, alice.Connected)
	assert.Equal(t, int64(50), s.Bet("A"))
	assert.Equal(t, int64(50), s.Pot())

	d1, d2 := s.Dice()
	assert.Equal(t, 3, d1)
	assert.Equal(t, 4, d2)
	assert.False(t, s.Rolling())
	assert.Equal(t, t0.Add(2*time.Second), s.LastRoll())
	assert.Equal(t, t0.Add(2*time.Second), s.LastUpdate())
	assert.True(t, s.Version().Equal(clock.VectorClock{"A": 2, "B": 1}))
	assert.Equal(t, 3, s.Applied())
}

func TestSnapshot_ApplyDoesNotMutatePrevious(t *testing.T) {
	before := Genesis(0).Apply(op("1", "A", clock.VectorClock{"A": 1}, game.PlayerJoin{Name: "Alice", At: t0}))
	after := before.Apply(op("2", "A", clock.VectorClock{"A": 2}, game.PlaceBet{Amount: 10, At: t0}))

	b, _ := before.Player("A")
	a, _ := after.Player("A")
	assert.Equal(t, DefaultStartingBalance, b.Balance)
	assert.Equal(t, DefaultStartingBalance-10, a.Balance)
	assert.Equal(t, int64(0), before.Pot())
	assert.Equal(t, uint64(1), before.Version().Get("A"))
}

func TestSnapshot_AccessorsReturnCopies(t *testing.T) {
	s := Genesis(0).Apply(op("1", "A", clock.VectorClock{"A": 1}, game.PlayerJoin{Name: "Alice", At: t0}))

	players := s.Players()
	players["A"] = PlayerInfo{Name: "Mallory"}
	s.Version().Set("A", 99)

	p, _ := s.Player("A")
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, uint64(1), s.Version().Get("A"))
}

func TestSnapshot_BetFromUnknownPlayerOnlyAdvancesVersion(t *testing.T) {
	s := Genesis(0).Apply(op("1", "X", clock.VectorClock{"X": 3}, game.PlaceBet{Amount: 10, At: t0}))

	assert.Equal(t, int64(0), s.Pot())
	assert.Empty(t, s.Bets())
	assert.Equal(t, uint64(3), s.Version().Get("X"))
}

func TestSnapshot_LeaveAndRejoinKeepsBalance(t *testing.T) {
	s := Genesis(100)
	s = s.Apply(op("1", "A", clock.VectorClock{"A": 1}, game.PlayerJoin{Name: "Alice", At: t0}))
	s = s.Apply(op("2", "A", clock.VectorClock{"A": 2}, game.PlaceBet{Amount: 40, At: t0}))
	s = s.Apply(op("3", "A", clock.VectorClock{"A": 3}, game.PlayerLeave{At: t0}))

	p, _ := s.Player("A")
	assert.False(t, p.Connected)

	s = s.Apply(op("4", "A", clock.VectorClock{"A": 4}, game.PlayerJoin{Name: "Alice2", At: t0}))
	p, _ = s.Player("A")
	assert.True(t, p.Connected)
	assert.Equal(t, "Alice2", p.Name)
	assert.Equal(t, int64(60), p.Balance)
}

func TestSnapshot_PhaseChange(t *testing.T) {
	point := 8
	s := Genesis(0).Apply(op("1", "A", clock.VectorClock{"A": 1}, game.PhaseChange{Phase: game.PhasePointPhase, Point: &point, At: t0}))
	point = 4

	got, ok := s.Point()
	require.True(t, ok)
	assert.Equal(t, 8, got)
	assert.Equal(t, game.PhasePointPhase, s.Phase())

	s = s.Apply(op("2", "A", clock.VectorClock{"A": 2}, game.PhaseChange{Phase: game.PhaseRoundComplete, At: t0}))
	_, ok = s.Point()
	assert.False(t, ok)
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	s := Genesis(100).Apply(op("1", "A", clock.VectorClock{"A": 1}, game.PlayerJoin{Name: "Alice", At: t0}))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": {"A": 1},
		"phase": "WaitingForPlayers",
		"dice": [0, 0],
		"rolling": false,
		"players": {"A": {"name": "Alice", "balance": 100, "connected": true}},
		"bets": {},
		"pot": 0,
		"lastRoll": 0,
		"lastUpdate": 1700000000000
	}`, string(data))
}

func TestSnapshot_Digest(t *testing.T) {
	a := Genesis(0).Apply(op("1", "A", clock.VectorClock{"A": 1}, game.PlayerJoin{Name: "Alice", At: t0}))
	b := Genesis(0).Apply(op("1", "A", clock.VectorClock{"A": 1}, game.PlayerJoin{Name: "Alice", At: t0}))
	c := Genesis(0).Apply(op("1", "A", clock.VectorClock{"A": 1}, game.PlayerJoin{Name: "Bob", At: t0}))

	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), c.Digest())
	assert.Len(t, a.Digest(), 64)
}
