package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"gamesync/internal/clock"
	"gamesync/internal/game"
)

// DefaultStartingBalance is credited to players when they first join.
const DefaultStartingBalance int64 = 1000

// PlayerInfo is the roster entry for one player.
type PlayerInfo struct {
	Name      string `json:"name"`
	Balance   int64  `json:"balance"`
	Connected bool   `json:"connected"`
}

// Snapshot is an immutable view of the game. Accessors return copies.
type Snapshot struct {
	version         clock.VectorClock
	phase           game.Phase
	dice            [2]int
	rolling         bool
	point           *int
	players         map[string]PlayerInfo
	bets            map[string]int64
	pot             int64
	lastRoll        time.Time
	lastUpdate      time.Time
	applied         int
	startingBalance int64
}

// Genesis returns the empty game every node starts from.
func Genesis(startingBalance int64) Snapshot {
	if startingBalance <= 0 {
		startingBalance = DefaultStartingBalance
	}
	return Snapshot{
		version:         clock.New(),
		phase:           game.PhaseWaitingForPlayers,
		players:         map[string]PlayerInfo{},
		bets:            map[string]int64{},
		startingBalance: startingBalance,
	}
}

// Apply folds op onto s and returns the resulting snapshot. It never fails:
// operations that make no sense against s (a bet from an unknown player)
// only advance the version.
func (s Snapshot) Apply(op game.Operation) Snapshot {
	next := s.clone()
	next.version.Merge(op.Clock)
	next.applied++
	if at := op.Timestamp(); at.After(next.lastUpdate) {
		next.lastUpdate = at
	}

	switch p := op.Payload.(type) {
	case game.DiceRoll:
		next.dice = [2]int{p.Dice1, p.Dice2}
		next.rolling = p.Rolling
		if p.At.After(next.lastRoll) {
			next.lastRoll = p.At
		}
	case game.PlaceBet:
		player, ok := next.players[op.Origin]
		if !ok {
			break
		}
		player.Balance -= p.Amount
		next.players[op.Origin] = player
		next.bets[op.Origin] += p.Amount
		next.pot += p.Amount
	case game.PlayerJoin:
		player, ok := next.players[op.Origin]
		if !ok {
			player.Balance = next.startingBalance
		}
		player.Name = p.Name
		player.Connected = true
		next.players[op.Origin] = player
	case game.PlayerLeave:
		if player, ok := next.players[op.Origin]; ok {
			player.Connected = false
			next.players[op.Origin] = player
		}
	case game.PhaseChange:
		next.phase = p.Phase
		next.point = nil
		if p.Point != nil {
			point := *p.Point
			next.point = &point
		}
	}
	return next
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.version = s.version.Copy()
	out.players = make(map[string]PlayerInfo, len(s.players))
	for k, v := range s.players {
		out.players[k] = v
	}
	out.bets = make(map[string]int64, len(s.bets))
	for k, v := range s.bets {
		out.bets[k] = v
	}
	if s.point != nil {
		p := *s.point
		out.point = &p
	}
	return out
}

// Version returns the merge of every folded operation's clock.
func (s Snapshot) Version() clock.VectorClock { return s.version.Copy() }

// Phase returns the current game phase.
func (s Snapshot) Phase() game.Phase { return s.phase }

// Dice returns the faces of the last roll.
func (s Snapshot) Dice() (int, int) { return s.dice[0], s.dice[1] }

// Rolling reports whether the last roll is still in progress.
func (s Snapshot) Rolling() bool { return s.rolling }

// Point returns the established point, if any.
func (s Snapshot) Point() (int, bool) {
	if s.point == nil {
		return 0, false
	}
	return *s.point, true
}

// Players returns a copy of the roster.
func (s Snapshot) Players() map[string]PlayerInfo {
	out := make(map[string]PlayerInfo, len(s.players))
	for k, v := range s.players {
		out[k] = v
	}
	return out
}

// Player returns one roster entry.
func (s Snapshot) Player(id string) (PlayerInfo, bool) {
	p, ok := s.players[id]
	return p, ok
}

// Balance implements game.View.
func (s Snapshot) Balance(id string) (int64, bool) {
	p, ok := s.players[id]
	return p.Balance, ok
}

// Bets returns a copy of the current bets per player.
func (s Snapshot) Bets() map[string]int64 {
	out := make(map[string]int64, len(s.bets))
	for k, v := range s.bets {
		out[k] = v
	}
	return out
}

// Bet returns the current bet of one player.
func (s Snapshot) Bet(id string) int64 { return s.bets[id] }

// Pot returns the total of all bets.
func (s Snapshot) Pot() int64 { return s.pot }

// LastRoll returns the application time of the latest roll.
func (s Snapshot) LastRoll() time.Time { return s.lastRoll }

// LastUpdate returns the latest application time of any folded operation.
func (s Snapshot) LastUpdate() time.Time { return s.lastUpdate }

// Applied returns how many operations were folded into s.
func (s Snapshot) Applied() int { return s.applied }

type snapshotJSON struct {
	Version    clock.VectorClock     `json:"version"`
	Phase      game.Phase            `json:"phase"`
	Dice       [2]int                `json:"dice"`
	Rolling    bool                  `json:"rolling"`
	Point      *int                  `json:"point,omitempty"`
	Players    map[string]PlayerInfo `json:"players"`
	Bets       map[string]int64      `json:"bets"`
	Pot        int64                 `json:"pot"`
	LastRoll   int64                 `json:"lastRoll"`
	LastUpdate int64                 `json:"lastUpdate"`
}

// MarshalJSON renders the snapshot with sorted map keys and millisecond
// timestamps, so equal snapshots always encode to equal bytes.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	view := snapshotJSON{
		Version:    s.version,
		Phase:      s.phase,
		Dice:       s.dice,
		Rolling:    s.rolling,
		Point:      s.point,
		Players:    s.players,
		Bets:       s.bets,
		Pot:        s.pot,
		LastRoll:   unixMilli(s.lastRoll),
		LastUpdate: unixMilli(s.lastUpdate),
	}
	if view.Version == nil {
		view.Version = clock.New()
	}
	return json.Marshal(view)
}

// Digest returns a hex SHA-256 of the canonical encoding. Two nodes that
// converged report the same digest.
func (s Snapshot) Digest() string {
	data, err := s.MarshalJSON()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
