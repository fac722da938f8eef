package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"gamesync/internal/config"
	"gamesync/internal/game"
	"gamesync/internal/it"
	"gamesync/internal/state"
	"gamesync/internal/transport/memory"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Nodes    int
	Drop     float64
	Dup      float64
	Delay    time.Duration
	Rounds   int
	Interval time.Duration
	Seed     int64
	Timeout  time.Duration
}

// SimulationResult summarizes one simulation run.
type SimulationResult struct {
	Proposed  int
	Rejected  int // failed validation against the proposer's snapshot
	Lost      int // lost a conflict at the proposer
	Converged bool
	Digests   map[string]string
	Stats     memory.Stats
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an in-process cluster over a lossy network",
		Long: `Run several nodes in one process over an in-memory network that drops,
duplicates and delays messages, propose random operations and check that
every node ends with the same snapshot.

Example:
  gamesync simulate --nodes 5 --drop 0.1 --dup 0.05 --rounds 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runSimulation(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			printSimulation(cmd.OutOrStdout(), res)
			if !res.Converged {
				return NewExitError(ExitFailure, "nodes did not converge")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Nodes, "nodes", 3, "number of nodes")
	cmd.Flags().Float64Var(&opts.Drop, "drop", 0.05, "probability a delivery is lost")
	cmd.Flags().Float64Var(&opts.Dup, "dup", 0.05, "probability a delivery is duplicated")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 5*time.Millisecond, "maximum random delivery delay")
	cmd.Flags().IntVar(&opts.Rounds, "rounds", 20, "number of random proposals")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 50*time.Millisecond, "pause between proposals")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed, 0 uses the time")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for convergence")

	return cmd
}

func (o *SimulateOptions) validate() error {
	switch {
	case o.Nodes < 1:
		return fmt.Errorf("nodes %d must be at least 1", o.Nodes)
	case o.Drop < 0 || o.Drop >= 1:
		return fmt.Errorf("drop %v must be in [0, 1)", o.Drop)
	case o.Dup < 0 || o.Dup > 1:
		return fmt.Errorf("dup %v must be in [0, 1]", o.Dup)
	case o.Rounds < 0:
		return fmt.Errorf("rounds %d cannot be negative", o.Rounds)
	case o.Timeout <= 0:
		return fmt.Errorf("timeout %v must be positive", o.Timeout)
	}
	return nil
}

func runSimulation(ctx context.Context, opts *SimulateOptions, logOut io.Writer) (SimulationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opts.validate(); err != nil {
		return SimulationResult{}, WrapExitError(ExitCommandError, "invalid flags", err)
	}

	cfg := config.Default()
	if opts.ConfigPath != "" {
		c, err := config.Read(opts.ConfigPath)
		if err != nil {
			return SimulationResult{}, WrapExitError(ExitCommandError, "load config", err)
		}
		cfg = c
	}
	level, format := cfg.LogLevel, cfg.LogFormat
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	logger, err := NewLogger(logOut, format, level)
	if err != nil {
		return SimulationResult{}, WrapExitError(ExitCommandError, "configure logging", err)
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	cluster, err := it.NewCluster(cfg.Sync, memory.Options{
		DropRate: opts.Drop,
		DupRate:  opts.Dup,
		MaxDelay: opts.Delay,
		Seed:     seed,
	}, logger)
	if err != nil {
		return SimulationResult{}, WrapExitError(ExitCommandError, "create cluster", err)
	}
	defer cluster.Stop()

	if err := cluster.StartCluster(opts.Nodes); err != nil {
		return SimulationResult{}, WrapExitError(ExitCommandError, "start cluster", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := cluster.WaitForMembership(ctx, 10*time.Millisecond); err != nil {
		return SimulationResult{}, WrapExitError(ExitFailure, "membership did not settle", err)
	}

	var res SimulationResult
	rng := rand.New(rand.NewSource(seed))
	nodes := cluster.Nodes()
	propose := func(n *it.Node, p game.Payload) {
		res.Proposed++
		r, err := n.Sync.Propose(p)
		switch {
		case err != nil:
			res.Rejected++
			logger.Debug("proposal rejected", "node", n.ID, "kind", p.Kind(), "error", err)
		case !r.Applied:
			res.Lost++
		}
	}

	for i, n := range nodes {
		propose(n, game.PlayerJoin{Name: "player-" + strconv.Itoa(i+1)})
	}
	for round := 0; round < opts.Rounds; round++ {
		n := nodes[rng.Intn(len(nodes))]
		propose(n, randomPayload(rng, n.ID, n.Sync.State()))

		select {
		case <-ctx.Done():
			return res, WrapExitError(ExitFailure, "simulation timed out", ctx.Err())
		case <-time.After(opts.Interval):
		}
	}

	_, err = cluster.WaitForConvergence(ctx, 20*time.Millisecond)
	res.Converged = err == nil
	res.Digests = cluster.Digests()
	res.Stats = cluster.Stats()
	return res, nil
}

// randomPayload picks an operation that passes validation against snap
// most of the time.
func randomPayload(rng *rand.Rand, playerID string, snap state.Snapshot) game.Payload {
	switch rng.Intn(3) {
	case 0:
		return game.DiceRoll{Dice1: rng.Intn(6) + 1, Dice2: rng.Intn(6) + 1}
	case 1:
		balance, _ := snap.Balance(playerID)
		if balance <= 0 {
			return game.DiceRoll{Dice1: rng.Intn(6) + 1, Dice2: rng.Intn(6) + 1}
		}
		return game.PlaceBet{Amount: 1 + rng.Int63n(min(balance, 100))}
	default:
		phase := game.Phases[rng.Intn(len(game.Phases))]
		pc := game.PhaseChange{Phase: phase}
		if phase == game.PhasePointPhase {
			points := []int{4, 5, 6, 8, 9, 10}
			point := points[rng.Intn(len(points))]
			pc.Point = &point
		}
		return pc
	}
}

func printSimulation(w io.Writer, res SimulationResult) {
	data := pterm.TableData{{"Node", "Digest"}}
	for _, id := range sortedKeys(res.Digests) {
		data = append(data, []string{id, shortDigest(res.Digests[id])})
	}
	fmt.Fprint(w, renderTable(data))

	fmt.Fprint(w, pterm.Info.Sprintfln("proposed %d, rejected %d, lost conflicts %d",
		res.Proposed, res.Rejected, res.Lost))
	fmt.Fprint(w, pterm.Info.Sprintfln("messages sent %d, delivered %d, dropped %d, duplicated %d",
		res.Stats.Sent, res.Stats.Delivered, res.Stats.Dropped, res.Stats.Duplicated))
	if res.Converged {
		fmt.Fprint(w, pterm.Success.Sprintln("all nodes converged"))
	} else {
		fmt.Fprint(w, pterm.Error.Sprintln("nodes diverged"))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
