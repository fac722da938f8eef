package syncer

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gamesync/internal/config"
	"gamesync/internal/game"
	"gamesync/internal/wire"
)

var t0 = time.UnixMilli(1700000000000)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sent struct {
	to   string
	data []byte
}

// fakeNetwork records everything the synchronizer sends and lets tests
// deliver inbound messages through the registered handler.
type fakeNetwork struct {
	mu      sync.Mutex
	handler func([]byte)
	out     []sent
}

func (f *fakeNetwork) Broadcast(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{data: data})
	return nil
}

func (f *fakeNetwork) Send(nodeID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{to: nodeID, data: data})
	return nil
}

func (f *fakeNetwork) SetHandler(handler func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeNetwork) attached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

func (f *fakeNetwork) deliver(data []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// messages returns the decoded messages of type typ sent to "to" (empty
// for broadcasts).
func (f *fakeNetwork) messages(t *testing.T, typ wire.Type, to string) []wire.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []wire.Message
	for _, s := range f.out {
		if s.to != to {
			continue
		}
		msg, err := wire.Decode(s.data)
		require.NoError(t, err)
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeNetwork) last(t *testing.T, typ wire.Type) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.out) - 1; i >= 0; i-- {
		msg, err := wire.Decode(f.out[i].data)
		require.NoError(t, err)
		if msg.Type == typ {
			return f.out[i].data
		}
	}
	t.Fatalf("no %s message sent", typ)
	return nil
}

func newTestSync(t *testing.T, nodeID string, clk *fakeClock, opts ...Option) (*Synchronizer, *fakeNetwork) {
	t.Helper()
	return newTestSyncWith(t, nodeID, clk, config.DefaultSync(), opts...)
}

func newTestSyncWith(t *testing.T, nodeID string, clk *fakeClock, cfg config.Sync, opts ...Option) (*Synchronizer, *fakeNetwork) {
	t.Helper()

	base := []Option{
		withoutTicks(),
		WithNow(clk.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	s, err := New(nodeID, cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	net := &fakeNetwork{}
	require.NoError(t, s.Connect(net))
	return s, net
}

func encodeOp(t *testing.T, op game.Operation, at time.Time) []byte {
	t.Helper()
	w, err := wire.FromOperation(op)
	require.NoError(t, err)
	data, err := wire.Encode(wire.TypeGameOperation, op.Origin, w, at)
	require.NoError(t, err)
	return data
}

func encode(t *testing.T, typ wire.Type, from string, payload any, at time.Time) []byte {
	t.Helper()
	data, err := wire.Encode(typ, from, payload, at)
	require.NoError(t, err)
	return data
}

func heartbeat(t *testing.T, from string, at time.Time) []byte {
	return encode(t, wire.TypeHeartbeat, from, wire.Heartbeat{}, at)
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func ackers(s *Synchronizer, opID string) []string {
	for _, p := range s.Pending() {
		if p.Op.ID == opID {
			return p.Ackers()
		}
	}
	return nil
}
