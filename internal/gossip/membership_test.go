package gossip

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

var t0 = time.UnixMilli(1700000000000)

func newTable() *Table {
	return NewTable("local", 0.5, 3*time.Second, 10*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTable_ObserveIgnoresSelf(t *testing.T) {
	tbl := newTable()

	if tbl.Observe("local", t0, t0) {
		t.Error("Expected self heartbeat to be ignored")
	}
	if tbl.Observe("", t0, t0) {
		t.Error("Expected empty id to be ignored")
	}
	if tbl.Count() != 0 {
		t.Errorf("Expected 0 participants, got %d", tbl.Count())
	}
}

func TestTable_ObserveAddsAndUpdates(t *testing.T) {
	tbl := newTable()

	if !tbl.Observe("node1", t0, t0.Add(40*time.Millisecond)) {
		t.Fatal("Expected node1 to be added")
	}
	p, _ := tbl.Get("node1")
	if p.Latency != 40*time.Millisecond || p.Heartbeats != 1 {
		t.Errorf("Expected first sample to seed latency, got %v after %d heartbeats", p.Latency, p.Heartbeats)
	}

	if tbl.Observe("node1", t0.Add(time.Second), t0.Add(time.Second+20*time.Millisecond)) {
		t.Error("Expected second heartbeat not to report a new participant")
	}
	p, _ = tbl.Get("node1")
	if p.Latency != 30*time.Millisecond {
		t.Errorf("Expected EMA latency 30ms, got %v", p.Latency)
	}
	if !p.LastSeen.Equal(t0.Add(time.Second + 20*time.Millisecond)) {
		t.Errorf("Unexpected LastSeen %v", p.LastSeen)
	}
	if p.Heartbeats != 2 {
		t.Errorf("Expected 2 heartbeats, got %d", p.Heartbeats)
	}
}

func TestTable_NegativeLatencyClamped(t *testing.T) {
	tbl := newTable()
	tbl.Observe("node1", t0.Add(time.Second), t0)

	p, _ := tbl.Get("node1")
	if p.Latency != 0 {
		t.Errorf("Expected skewed clock sample to clamp to 0, got %v", p.Latency)
	}
}

func TestTable_StateTransitions(t *testing.T) {
	tbl := newTable()
	tbl.Observe("node1", t0, t0)
	tbl.Observe("node2", t0, t0.Add(5*time.Second))

	suspected, removed := tbl.Sweep(t0.Add(4 * time.Second))
	if len(suspected) != 1 || suspected[0] != "node1" || len(removed) != 0 {
		t.Fatalf("Expected node1 suspected, got suspected=%v removed=%v", suspected, removed)
	}
	p, _ := tbl.Get("node1")
	if p.Status != Suspect {
		t.Errorf("Expected node1 to be Suspect, got %v", p.Status)
	}

	// A heartbeat brings it back.
	tbl.Observe("node1", t0.Add(4*time.Second), t0.Add(4*time.Second))
	p, _ = tbl.Get("node1")
	if p.Status != Alive {
		t.Errorf("Expected node1 to be Alive again, got %v", p.Status)
	}

	_, removed = tbl.Sweep(t0.Add(15 * time.Second))
	if len(removed) != 1 || removed[0] != "node1" {
		t.Fatalf("Expected node1 forgotten, got %v", removed)
	}
	if tbl.Count() != 1 {
		t.Errorf("Expected node2 to remain, got %v", tbl.IDs())
	}
}

func TestTable_SnapshotSortedAndCopied(t *testing.T) {
	tbl := newTable()
	tbl.Observe("c", t0, t0)
	tbl.Observe("a", t0, t0)
	tbl.Observe("b", t0, t0)

	snap := tbl.Snapshot()
	if len(snap) != 3 || snap[0].ID != "a" || snap[2].ID != "c" {
		t.Fatalf("Expected sorted snapshot, got %v", snap)
	}
	snap[0].Heartbeats = 99
	if p, _ := tbl.Get("a"); p.Heartbeats != 1 {
		t.Error("Expected snapshot to be a copy")
	}
}

func TestTable_SweepWithoutDeadTimeoutNeverForgets(t *testing.T) {
	tbl := NewTable("local", 0.5, 3*time.Second, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tbl.Observe("node1", t0, t0)

	suspected, removed := tbl.Sweep(t0.Add(time.Hour))
	if len(suspected) != 1 || len(removed) != 0 {
		t.Fatalf("Expected node1 suspected and kept, got suspected=%v removed=%v", suspected, removed)
	}
	p, ok := tbl.Get("node1")
	if !ok || p.Status != Suspect {
		t.Fatalf("Expected node1 to stay as Suspect, got %+v", p)
	}
	if age := t0.Add(time.Hour).Sub(p.LastSeen); age != time.Hour {
		t.Errorf("Expected observable age of 1h, got %v", age)
	}

	// Already suspected participants are not reported twice.
	suspected, _ = tbl.Sweep(t0.Add(2 * time.Hour))
	if len(suspected) != 0 {
		t.Errorf("Expected no new suspects, got %v", suspected)
	}
}

func TestTable_TouchClear(t *testing.T) {
	tbl := newTable()
	tbl.Observe("node1", t0, t0)

	tbl.Touch("node1", t0.Add(time.Second))
	if p, _ := tbl.Get("node1"); !p.LastSeen.Equal(t0.Add(time.Second)) {
		t.Errorf("Expected Touch to advance LastSeen, got %v", p.LastSeen)
	}
	tbl.Touch("ghost", t0)
	if tbl.Count() != 1 {
		t.Error("Expected Touch on unknown id to be ignored")
	}

	tbl.Observe("node2", t0, t0)
	tbl.Clear()
	if tbl.Count() != 0 {
		t.Errorf("Expected empty table after Clear, got %d", tbl.Count())
	}
}

func TestStatus_String(t *testing.T) {
	if Alive.String() != "ALIVE" || Suspect.String() != "SUSPECT" || Status(9).String() != "UNKNOWN" {
		t.Error("Unexpected Status strings")
	}
}
