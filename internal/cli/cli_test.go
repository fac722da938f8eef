package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamesync/internal/config"
	"gamesync/internal/game"
	"gamesync/internal/syncer"
	"gamesync/internal/transport/memory"
)

func newConsole(t *testing.T) (*Console, *syncer.Synchronizer, *bytes.Buffer) {
	t.Helper()
	s, err := syncer.New("n1", config.DefaultSync(),
		syncer.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	bus := memory.NewBus(memory.Options{})
	t.Cleanup(bus.Close)
	ep, err := bus.Join("n1")
	require.NoError(t, err)
	require.NoError(t, s.Connect(ep))

	var out bytes.Buffer
	return NewConsole(s, &out, 1), s, &out
}

func TestConsole_Commands(t *testing.T) {
	c, s, out := newConsole(t)

	for _, line := range []string{
		"join alice smith",
		"phase placingbets",
		"bet 25",
		"roll",
		"",
	} {
		quit, err := c.Exec(line)
		require.NoError(t, err, line)
		assert.False(t, quit)
	}

	snap := s.State()
	p, ok := snap.Player("n1")
	require.True(t, ok)
	assert.Equal(t, "alice smith", p.Name)
	assert.Equal(t, game.PhasePlacingBets, snap.Phase())
	assert.Equal(t, int64(25), snap.Pot())
	assert.Equal(t, 4, snap.Applied())

	// The first roll is still pending, so a second one inside the dice
	// window loses to it.
	out.Reset()
	quit, err := c.Exec("roll 3 4")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "lost a conflict")
	assert.Equal(t, 4, s.State().Applied())

	out.Reset()
	_, err = c.Exec("state")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "alice smith")
	assert.Contains(t, out.String(), "PlacingBets")

	out.Reset()
	_, err = c.Exec("peers")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "no peers")

	out.Reset()
	_, err = c.Exec("pending")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "n1-")

	quit, err = c.Exec("quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestConsole_Errors(t *testing.T) {
	c, _, _ := newConsole(t)

	tests := []struct {
		line string
		want error
	}{
		{"dance", errUsage},
		{"join", errUsage},
		{"bet", errUsage},
		{"bet lots", errUsage},
		{"roll 1", errUsage},
		{"phase Nowhere", errUsage},
		{"bet 10", game.ErrUnknownPlayer},
		{"roll 0 7", game.ErrInvalidDice},
		{"phase PointPhase 7", game.ErrInvalidPhase},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := c.Exec(tt.line)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFormatEvent(t *testing.T) {
	op := game.Operation{ID: "n2-1", Origin: "n2", Payload: game.DiceRoll{Dice1: 1, Dice2: 2}}

	line, ok := formatEvent(syncer.Event{Kind: syncer.EventOperationApplied, Op: op, Remote: true})
	require.True(t, ok)
	assert.Contains(t, line, "DiceRoll from n2: 1+2=3")

	join := game.Operation{ID: "n2-2", Origin: "n2", Payload: game.PlayerJoin{Name: "bob"}}
	line, ok = formatEvent(syncer.Event{Kind: syncer.EventOperationApplied, Op: join, Remote: true})
	require.True(t, ok)
	assert.Contains(t, line, "PlayerJoin from n2")

	_, ok = formatEvent(syncer.Event{Kind: syncer.EventOperationApplied, Op: op})
	assert.False(t, ok, "local applications are not echoed")

	_, ok = formatEvent(syncer.Event{Kind: syncer.EventStateChanged})
	assert.False(t, ok)

	line, ok = formatEvent(syncer.Event{Kind: syncer.EventConflictResolved, WinnerID: "a", LoserIDs: []string{"b", "c"}})
	require.True(t, ok)
	assert.Contains(t, line, "a wins over b,c")
}

func TestServeConsole_StopsOnQuitAndEOF(t *testing.T) {
	c, s, out := newConsole(t)

	err := serveConsole(context.Background(), c, strings.NewReader("join bob\nbogus\nquit\njoin never\n"), out)
	require.NoError(t, err)
	assert.Equal(t, 1, s.State().Applied())
	assert.Contains(t, out.String(), "unknown command")

	require.NoError(t, serveConsole(context.Background(), c, strings.NewReader(""), out))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&buf, "json", "debug")
	require.NoError(t, err)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	logger, err = NewLogger(&buf, "text", "")
	require.NoError(t, err)
	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	_, err = NewLogger(&buf, "xml", "info")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "text", "loud")
	assert.Error(t, err)

	_, err = NewLogger(&buf, "pretty", "warn")
	assert.NoError(t, err)
}

func TestNodeConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: file\nlisten_addr: 127.0.0.1:9000\nlog_level: warn\n"), 0o644))

	cfg, err := nodeConfig(&NodeOptions{
		RootOptions: &RootOptions{ConfigPath: path, LogLevel: "debug"},
		NodeID:      "flag",
		Peers:       "a=127.0.0.1:1,b=127.0.0.1:2",
	})
	require.NoError(t, err)
	assert.Equal(t, "flag", cfg.NodeID)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Len(t, cfg.Peers, 2)

	_, err = nodeConfig(&NodeOptions{RootOptions: &RootOptions{}})
	assert.Error(t, err, "node id is required")
}

func TestRunSimulation_Converges(t *testing.T) {
	res, err := runSimulation(context.Background(), &SimulateOptions{
		RootOptions: &RootOptions{LogLevel: "error"},
		Nodes:       3,
		Rounds:      6,
		Interval:    50 * time.Millisecond,
		Seed:        7,
		Timeout:     20 * time.Second,
	}, io.Discard)
	require.NoError(t, err)
	assert.True(t, res.Converged, "digests: %v", res.Digests)
	assert.Equal(t, 9, res.Proposed)
	assert.Len(t, res.Digests, 3)

	var out bytes.Buffer
	printSimulation(&out, res)
	assert.Contains(t, out.String(), "converged")
}

func TestRunSimulation_InvalidFlags(t *testing.T) {
	_, err := runSimulation(context.Background(), &SimulateOptions{
		RootOptions: &RootOptions{},
		Nodes:       0,
		Timeout:     time.Second,
	}, io.Discard)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRootCommand_RejectsLogFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"simulate", "--log-format", "xml"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	assert.Error(t, cmd.Execute())
}
