package it

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamesync/internal/config"
	"gamesync/internal/game"
	"gamesync/internal/syncer"
	"gamesync/internal/transport/memory"
)

func fastSync() config.Sync {
	cfg := config.DefaultSync()
	cfg.ReconcileInterval = 20 * time.Millisecond
	cfg.MaintenanceInterval = 100 * time.Millisecond
	cfg.SyncRequestInterval = 50 * time.Millisecond
	cfg.OperationTimeout = 3 * time.Second
	return cfg
}

func startCluster(t *testing.T, n int, opts memory.Options) *Cluster {
	t.Helper()
	cluster, err := NewCluster(fastSync(), opts, nil)
	require.NoError(t, err)
	t.Cleanup(cluster.Stop)
	require.NoError(t, cluster.StartCluster(n))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, cluster.WaitForMembership(ctx, 10*time.Millisecond), "membership did not settle")
	return cluster
}

func converge(t *testing.T, cluster *Cluster) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, err := cluster.WaitForConvergence(ctx, 20*time.Millisecond)
	require.NoError(t, err, "digests: %v", cluster.Digests())
}

func TestSmoke_JoinBetAndConverge(t *testing.T) {
	cluster := startCluster(t, 3, memory.Options{Seed: 1})

	for i, n := range cluster.Nodes() {
		_, err := n.Sync.Propose(game.PlayerJoin{Name: fmt.Sprintf("player-%d", i)})
		require.NoError(t, err)
	}
	converge(t, cluster)

	n1 := cluster.GetNode("n1")
	_, err := n1.Sync.Propose(game.PhaseChange{Phase: game.PhasePlacingBets})
	require.NoError(t, err)
	converge(t, cluster)

	for _, n := range cluster.Nodes() {
		_, err := n.Sync.Propose(game.PlaceBet{Amount: 50})
		require.NoError(t, err)
	}
	converge(t, cluster)

	snap := cluster.GetNode("n3").Sync.State()
	assert.Equal(t, game.PhasePlacingBets, snap.Phase())
	assert.Equal(t, int64(150), snap.Pot())
	assert.Len(t, snap.Players(), 3)
	for id, p := range snap.Players() {
		assert.Equal(t, int64(950), p.Balance, id)
	}
}

func TestQuorum_ConfirmsWithOneNodeDown(t *testing.T) {
	cluster := startCluster(t, 3, memory.Options{Seed: 2})
	n1 := cluster.GetNode("n1")

	events, cancel := n1.Sync.Subscribe(64)
	defer cancel()

	cluster.Isolate("n3")

	r, err := n1.Sync.Propose(game.PlayerJoin{Name: "alice"})
	require.NoError(t, err)
	require.True(t, r.Applied)

	// Self plus n2 is a majority of three.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok)
			if ev.Kind == syncer.EventOperationConfirmed && ev.Op.ID == r.Operation.ID {
				return
			}
		case <-deadline:
			t.Fatalf("operation %s was not confirmed", r.Operation.ID)
		}
	}
}

func TestConvergence_LossyDuplicatingBus(t *testing.T) {
	cluster := startCluster(t, 4, memory.Options{
		Seed:     3,
		DropRate: 0.2,
		DupRate:  0.2,
		MaxDelay: 15 * time.Millisecond,
	})

	for i, n := range cluster.Nodes() {
		_, err := n.Sync.Propose(game.PlayerJoin{Name: fmt.Sprintf("player-%d", i)})
		require.NoError(t, err)
	}
	converge(t, cluster)

	// Phase changes never conflict, so every node must end up with all
	// of them regardless of loss.
	phases := []game.Phase{game.PhasePlacingBets, game.PhaseComeOutRoll, game.PhaseRoundComplete}
	for i, phase := range phases {
		n := cluster.Nodes()[i%4]
		_, err := n.Sync.Propose(game.PhaseChange{Phase: phase})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	converge(t, cluster)

	stats := cluster.Stats()
	assert.Positive(t, stats.Dropped)
	assert.Positive(t, stats.Duplicated)

	for _, n := range cluster.Nodes() {
		assert.Equal(t, len(phases)+4, n.Sync.State().Applied(), n.ID)
	}
}

func TestCatchUp_RepairsIsolatedNode(t *testing.T) {
	cluster := startCluster(t, 3, memory.Options{Seed: 4})
	n1 := cluster.GetNode("n1")
	n3 := cluster.GetNode("n3")

	_, err := n1.Sync.Propose(game.PlayerJoin{Name: "alice"})
	require.NoError(t, err)
	converge(t, cluster)

	cluster.Isolate("n3")
	_, err = n1.Sync.Propose(game.PhaseChange{Phase: game.PhasePlacingBets})
	require.NoError(t, err)
	_, err = n1.Sync.Propose(game.PlaceBet{Amount: 100})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, game.PhaseWaitingForPlayers, n3.Sync.State().Phase(), "isolated node must not see the update")

	cluster.Heal("n3")
	converge(t, cluster)

	snap := n3.Sync.State()
	assert.Equal(t, game.PhasePlacingBets, snap.Phase())
	assert.Equal(t, int64(100), snap.Pot())
}
