package memory

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed      = errors.New("endpoint closed")
	ErrUnknownPeer = errors.New("unknown peer")
	ErrDuplicateID = errors.New("endpoint id already joined")
)

// DefaultInboxSize bounds each endpoint's undelivered messages.
const DefaultInboxSize = 1024

// Options controls the bus's failure injection. The zero value is a
// perfect network.
type Options struct {
	// DropRate is the probability in [0, 1] that a delivery is lost.
	DropRate float64
	// DupRate is the probability in [0, 1] that a delivery happens twice.
	DupRate float64
	// MaxDelay delays each delivery by a random duration up to MaxDelay.
	MaxDelay time.Duration
	// Seed makes the failure pattern reproducible. Zero uses the time.
	Seed int64
	// InboxSize overrides DefaultInboxSize.
	InboxSize int
}

// Stats counts deliveries across the bus.
type Stats struct {
	Sent       uint64
	Delivered  uint64
	Dropped    uint64
	Duplicated uint64
}

// Bus connects endpoints in one process.
type Bus struct {
	opts Options

	mu        sync.Mutex
	rng       *rand.Rand
	endpoints map[string]*Endpoint
	isolated  map[string]bool

	sent, delivered, dropped, duplicated atomic.Uint64
}

// NewBus creates a bus.
func NewBus(opts Options) *Bus {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	return &Bus{
		opts:      opts,
		rng:       rand.New(rand.NewSource(seed)),
		endpoints: make(map[string]*Endpoint),
		isolated:  make(map[string]bool),
	}
}

// Join attaches a new endpoint for id.
func (b *Bus) Join(id string) (*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.endpoints[id]; ok {
		return nil, fmt.Errorf("join %s: %w", id, ErrDuplicateID)
	}
	e := &Endpoint{
		id:    id,
		bus:   b,
		inbox: make(chan []byte, b.opts.InboxSize),
		done:  make(chan struct{}),
	}
	b.endpoints[id] = e
	e.wg.Add(1)
	go e.run()
	return e, nil
}

// Members returns the ids of the joined endpoints.
func (b *Bus) Members() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.endpoints))
	for id := range b.endpoints {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Isolate cuts id off: nothing it sends arrives and nothing reaches it.
func (b *Bus) Isolate(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isolated[id] = true
}

// Heal reconnects an isolated endpoint.
func (b *Bus) Heal(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.isolated, id)
}

// Stats returns the delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Sent:       b.sent.Load(),
		Delivered:  b.delivered.Load(),
		Dropped:    b.dropped.Load(),
		Duplicated: b.duplicated.Load(),
	}
}

// Close closes every endpoint.
func (b *Bus) Close() {
	b.mu.Lock()
	eps := make([]*Endpoint, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		eps = append(eps, e)
	}
	b.mu.Unlock()

	for _, e := range eps {
		e.Close()
	}
}

func (b *Bus) leave(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, id)
	delete(b.isolated, id)
}

type delivery struct {
	to      *Endpoint
	copies  int
	delay   time.Duration
	dropped bool
}

// route fans data out from sender to "to", or to everyone but the sender
// when to is empty.
func (b *Bus) route(from, to string, data []byte) error {
	b.mu.Lock()
	var targets []*Endpoint
	if to != "" {
		e, ok := b.endpoints[to]
		if !ok {
			b.mu.Unlock()
			return fmt.Errorf("send to %s: %w", to, ErrUnknownPeer)
		}
		targets = append(targets, e)
	} else {
		for id, e := range b.endpoints {
			if id != from {
				targets = append(targets, e)
			}
		}
		// Random draws follow id order so a seed replays the same faults.
		sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	}

	plan := make([]delivery, 0, len(targets))
	for _, e := range targets {
		d := delivery{to: e, copies: 1}
		switch {
		case b.isolated[from] || b.isolated[e.id]:
			d.dropped = true
		case b.rng.Float64() < b.opts.DropRate:
			d.dropped = true
		case b.rng.Float64() < b.opts.DupRate:
			d.copies = 2
		}
		if b.opts.MaxDelay > 0 {
			d.delay = time.Duration(b.rng.Int63n(int64(b.opts.MaxDelay) + 1))
		}
		plan = append(plan, d)
	}
	b.mu.Unlock()

	for _, d := range plan {
		b.sent.Add(1)
		if d.dropped {
			b.dropped.Add(1)
			continue
		}
		if d.copies > 1 {
			b.duplicated.Add(1)
		}
		for i := 0; i < d.copies; i++ {
			msg := bytes.Clone(data)
			target := d.to
			if d.delay > 0 {
				time.AfterFunc(d.delay, func() { b.enqueue(target, msg) })
				continue
			}
			b.enqueue(target, msg)
		}
	}
	return nil
}

func (b *Bus) enqueue(e *Endpoint, data []byte) {
	select {
	case <-e.done:
		b.dropped.Add(1)
	case e.inbox <- data:
		b.delivered.Add(1)
	default:
		b.dropped.Add(1)
	}
}

// Endpoint is one node's attachment to the bus. It implements the
// synchronizer's Network interface. Inbound messages are handed to the
// handler from a single goroutine, in arrival order.
type Endpoint struct {
	id  string
	bus *Bus

	mu      sync.Mutex
	handler func([]byte)

	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ID returns the endpoint id.
func (e *Endpoint) ID() string {
	return e.id
}

// Broadcast sends data to every other endpoint.
func (e *Endpoint) Broadcast(data []byte) error {
	if e.closed() {
		return ErrClosed
	}
	return e.bus.route(e.id, "", data)
}

// Send sends data to one endpoint.
func (e *Endpoint) Send(nodeID string, data []byte) error {
	if e.closed() {
		return ErrClosed
	}
	return e.bus.route(e.id, nodeID, data)
}

// SetHandler registers the inbound callback. nil detaches.
func (e *Endpoint) SetHandler(handler func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Close leaves the bus and stops delivery. It is idempotent.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		e.bus.leave(e.id)
		close(e.done)
		e.wg.Wait()
	})
}

func (e *Endpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Endpoint) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case data := <-e.inbox:
			e.mu.Lock()
			h := e.handler
			e.mu.Unlock()
			if h != nil {
				h(data)
			}
		}
	}
}
