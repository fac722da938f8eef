package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"gamesync/internal/config"
	"gamesync/internal/game"
	"gamesync/internal/syncer"
	"gamesync/internal/telemetry"
	"gamesync/internal/transport/grpcmesh"
)

// NodeOptions holds flags for the node command.
type NodeOptions struct {
	*RootOptions
	NodeID string
	Listen string
	Peers  string
}

// NewNodeCommand creates the node command.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run one game node over the gRPC mesh",
		Long: `Run one game node. The node serves the mesh on its listen address,
delivers to every configured peer and reads commands from stdin.

Example:
  gamesync node --config node1.yaml
  gamesync node --node-id n1 --listen 127.0.0.1:7401 --peers n2=127.0.0.1:7402,n3=127.0.0.1:7403`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.NodeID, "node-id", "", "node identifier (overrides config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Peers, "peers", "", "comma-separated id=addr peers (overrides config)")

	return cmd
}

// nodeConfig reads the config file and environment and applies the flag
// overrides.
func nodeConfig(opts *NodeOptions) (config.Config, error) {
	cfg, err := config.Read(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.NodeID != "" {
		cfg.NodeID = opts.NodeID
	}
	if opts.Listen != "" {
		cfg.ListenAddr = opts.Listen
	}
	if opts.Peers != "" {
		peers, err := config.ParsePeers(opts.Peers)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Peers = peers
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runNode(ctx context.Context, opts *NodeOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := nodeConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	logger, err := NewLogger(stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return WrapExitError(ExitCommandError, "configure logging", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "gamesync", cfg.NodeID, cfg.OTelEndpoint)
	if err != nil {
		return WrapExitError(ExitCommandError, "configure telemetry", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "create metrics", err)
	}

	mesh, err := grpcmesh.New(grpcmesh.Options{
		NodeID:     cfg.NodeID,
		ListenAddr: cfg.ListenAddr,
		Peers:      cfg.RemotePeers(),
		Logger:     logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "create mesh", err)
	}
	if err := mesh.Start(); err != nil {
		return WrapExitError(ExitCommandError, "start mesh", err)
	}
	defer mesh.Close()

	s, err := syncer.New(cfg.NodeID, cfg.Sync, syncer.WithLogger(logger), syncer.WithMetrics(metrics))
	if err != nil {
		return WrapExitError(ExitCommandError, "start synchronizer", err)
	}
	defer s.Close()
	if err := s.Connect(mesh); err != nil {
		return WrapExitError(ExitCommandError, "connect synchronizer", err)
	}

	out := &lockedWriter{w: stdout}
	events, cancel := s.Subscribe(256)
	defer cancel()
	go func() {
		for ev := range events {
			if line, ok := formatEvent(ev); ok {
				fmt.Fprint(out, line)
			}
		}
	}()

	fmt.Fprint(out, pterm.Info.Sprintfln("node %s listening on %s with %d peers, type help for commands",
		cfg.NodeID, mesh.Addr(), len(mesh.Peers())))

	return serveConsole(ctx, NewConsole(s, out, time.Now().UnixNano()), stdin, out)
}

// serveConsole feeds stdin lines to the console until quit, EOF or ctx is
// done.
func serveConsole(ctx context.Context, console *Console, stdin io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := console.Exec(line)
			if err != nil {
				fmt.Fprint(out, pterm.Error.Sprintln(err.Error()))
			}
			if quit {
				return nil
			}
		}
	}
}

// formatEvent renders the events worth showing on the console.
func formatEvent(ev syncer.Event) (string, bool) {
	switch ev.Kind {
	case syncer.EventOperationApplied:
		if !ev.Remote {
			return "", false
		}
		if roll, ok := ev.Op.Payload.(game.DiceRoll); ok {
			return pterm.Info.Sprintfln("%s from %s: %d+%d=%d", ev.Op.Kind(), ev.Op.Origin, roll.Dice1, roll.Dice2, roll.Total()), true
		}
		return pterm.Info.Sprintfln("%s from %s", ev.Op.Kind(), ev.Op.Origin), true
	case syncer.EventOperationConfirmed:
		return pterm.Success.Sprintfln("confirmed %s", ev.Op.ID), true
	case syncer.EventOperationExpired:
		return pterm.Warning.Sprintfln("expired without quorum %s", ev.Op.ID), true
	case syncer.EventOperationRejected:
		return pterm.Warning.Sprintfln("rejected %s in favor of %s", ev.Op.ID, ev.WinnerID), true
	case syncer.EventConflictResolved:
		return pterm.Warning.Sprintfln("conflict resolved: %s wins over %s", ev.WinnerID, strings.Join(ev.LoserIDs, ",")), true
	case syncer.EventResolutionAnnounced:
		return pterm.Info.Sprintfln("%s resolved %s over %s", ev.Peer, ev.WinnerID, strings.Join(ev.LoserIDs, ",")), true
	case syncer.EventParticipantJoined:
		return pterm.Info.Sprintfln("peer %s joined", ev.Peer), true
	case syncer.EventParticipantLeft:
		return pterm.Warning.Sprintfln("peer %s left", ev.Peer), true
	default:
		return "", false
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
