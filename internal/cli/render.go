package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"gamesync/internal/gossip"
	"gamesync/internal/quorum"
	"gamesync/internal/state"
)

func renderTable(data pterm.TableData) string {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Sprintf("render table: %v\n", err)
	}
	return out + "\n"
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func renderState(s state.Snapshot) string {
	var b strings.Builder

	d1, d2 := s.Dice()
	point := "-"
	if p, ok := s.Point(); ok {
		point = strconv.Itoa(p)
	}
	rolling := ""
	if s.Rolling() {
		rolling = " (rolling)"
	}
	b.WriteString(pterm.Info.Sprintfln("phase %s | dice %d-%d%s | point %s | pot %d | ops %d | digest %s",
		s.Phase(), d1, d2, rolling, point, s.Pot(), s.Applied(), shortDigest(s.Digest())))

	players := s.Players()
	if len(players) == 0 {
		b.WriteString(pterm.Warning.Sprintln("no players"))
		return b.String()
	}
	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data := pterm.TableData{{"Player", "Name", "Balance", "Bet", "Connected"}}
	for _, id := range ids {
		p := players[id]
		data = append(data, []string{
			id, p.Name, strconv.FormatInt(p.Balance, 10), strconv.FormatInt(s.Bet(id), 10), strconv.FormatBool(p.Connected),
		})
	}
	b.WriteString(renderTable(data))
	return b.String()
}

func renderPeers(ps []gossip.Participant) string {
	if len(ps) == 0 {
		return pterm.Warning.Sprintln("no peers heard from yet")
	}
	data := pterm.TableData{{"Peer", "Status", "Latency", "Heartbeats", "Last seen"}}
	for _, p := range ps {
		data = append(data, []string{
			p.ID, p.Status.String(), p.Latency.String(), strconv.FormatUint(p.Heartbeats, 10), p.LastSeen.Format("15:04:05.000"),
		})
	}
	return renderTable(data)
}

func renderPending(ps []quorum.Pending) string {
	if len(ps) == 0 {
		return pterm.Info.Sprintln("nothing pending")
	}
	data := pterm.TableData{{"Operation", "Kind", "Acks", "Proposed"}}
	for _, p := range ps {
		data = append(data, []string{
			p.Op.ID, string(p.Op.Kind()), strings.Join(p.Ackers(), ","), p.ProposedAt.Format("15:04:05.000"),
		})
	}
	return renderTable(data)
}
