package cli

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"gamesync/internal/game"
	"gamesync/internal/syncer"
)

var errUsage = errors.New("usage")

const consoleHelp = `commands:
  join <name>            join the game
  leave                  leave the game
  bet <amount>           place a bet
  roll [d1 d2]           roll the dice, random faces when omitted
  phase <phase> [point]  move the game to a phase
  state                  show the current snapshot
  peers                  show known participants
  pending                show operations waiting for quorum
  help                   show this help
  quit                   stop the node`

// Console interprets the interactive node commands against one
// synchronizer.
type Console struct {
	sync *syncer.Synchronizer
	out  io.Writer
	rng  *rand.Rand
}

// NewConsole creates a console writing to out.
func NewConsole(s *syncer.Synchronizer, out io.Writer, seed int64) *Console {
	return &Console{sync: s, out: out, rng: rand.New(rand.NewSource(seed))}
}

// Exec runs one command line. quit is true when the node should stop.
func (c *Console) Exec(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
		return false, nil
	case "state":
		fmt.Fprint(c.out, renderState(c.sync.State()))
		return false, nil
	case "peers":
		fmt.Fprint(c.out, renderPeers(c.sync.Participants()))
		return false, nil
	case "pending":
		fmt.Fprint(c.out, renderPending(c.sync.Pending()))
		return false, nil
	}

	payload, err := c.parse(cmd, args)
	if err != nil {
		return false, err
	}
	r, err := c.sync.Propose(payload)
	if err != nil {
		return false, err
	}
	if !r.Applied {
		fmt.Fprint(c.out, pterm.Warning.Sprintfln("%s lost a conflict and was dropped", r.Operation.ID))
		return false, nil
	}
	fmt.Fprint(c.out, pterm.Success.Sprintfln("%s %s", r.Operation.Kind(), r.Operation.ID))
	for _, id := range r.Superseded {
		fmt.Fprint(c.out, pterm.Warning.Sprintfln("superseded %s", id))
	}
	return false, nil
}

func (c *Console) parse(cmd string, args []string) (game.Payload, error) {
	switch cmd {
	case "join":
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: join <name>", errUsage)
		}
		return game.PlayerJoin{Name: strings.Join(args, " ")}, nil
	case "leave":
		return game.PlayerLeave{}, nil
	case "bet":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: bet <amount>", errUsage)
		}
		amount, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bet amount %q: %v", errUsage, args[0], err)
		}
		return game.PlaceBet{Amount: amount}, nil
	case "roll":
		switch len(args) {
		case 0:
			return game.DiceRoll{Dice1: c.rng.Intn(6) + 1, Dice2: c.rng.Intn(6) + 1}, nil
		case 2:
			d1, err1 := strconv.Atoi(args[0])
			d2, err2 := strconv.Atoi(args[1])
			if err := errors.Join(err1, err2); err != nil {
				return nil, fmt.Errorf("%w: roll [d1 d2]: %v", errUsage, err)
			}
			return game.DiceRoll{Dice1: d1, Dice2: d2}, nil
		default:
			return nil, fmt.Errorf("%w: roll [d1 d2]", errUsage)
		}
	case "phase":
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("%w: phase <phase> [point]", errUsage)
		}
		phase, ok := lookupPhase(args[0])
		if !ok {
			return nil, fmt.Errorf("%w: unknown phase %q, one of %v", errUsage, args[0], game.Phases)
		}
		pc := game.PhaseChange{Phase: phase}
		if len(args) == 2 {
			point, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, fmt.Errorf("%w: point %q: %v", errUsage, args[1], err)
			}
			pc.Point = &point
		}
		return pc, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %q, try help", errUsage, cmd)
	}
}

func lookupPhase(name string) (game.Phase, bool) {
	for _, p := range game.Phases {
		if strings.EqualFold(string(p), name) {
			return p, true
		}
	}
	return "", false
}
