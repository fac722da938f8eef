package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"gamesync/internal/clock"
	"gamesync/internal/config"
	"gamesync/internal/conflict"
	"gamesync/internal/game"
	"gamesync/internal/gossip"
	"gamesync/internal/oplog"
	"gamesync/internal/quorum"
	"gamesync/internal/state"
	"gamesync/internal/telemetry"
)

// ErrClosed is returned by operations on a closed Synchronizer.
var ErrClosed = errors.New("synchronizer closed")

// RuleFunc validates a local proposal against the current snapshot.
type RuleFunc func(playerID string, p game.Payload, view game.View) error

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger. The node id is added to every record.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow replaces the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Synchronizer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer used for Propose and inbound message spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Synchronizer) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRules replaces game.Validate as the proposal check.
func WithRules(rules RuleFunc) Option {
	return func(s *Synchronizer) {
		if rules != nil {
			s.rules = rules
		}
	}
}

// withoutTicks skips starting the periodic loops. Tests drive reconcile
// and maintain directly.
func withoutTicks() Option {
	return func(s *Synchronizer) {
		s.manualTicks = true
	}
}

// Synchronizer keeps one node's view of the game consistent with its peers.
type Synchronizer struct {
	nodeID string
	cfg    config.Sync

	logger  *slog.Logger
	now     func() time.Time
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	rules   RuleFunc

	// mu serializes every mutation; everything below it is owned by the
	// handler holding it.
	mu           sync.Mutex
	closed       bool
	network      Network
	clock        *clock.Clock
	log          *oplog.Log
	timeline     *state.Timeline
	pending      *quorum.Tracker
	participants *gossip.Table
	detector     *conflict.Detector
	seen         map[string]seenEntry
	lastRequest  map[string]time.Time
	digest       string
	outbox       []outbound

	snapshot atomic.Pointer[state.Snapshot]
	events   *hub

	manualTicks bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

type seenEntry struct {
	accepted bool
	until    time.Time
}

// New creates a Synchronizer for nodeID and starts its reconciliation and
// maintenance ticks.
func New(nodeID string, cfg config.Sync, opts ...Option) (*Synchronizer, error) {
	if nodeID == "" {
		return nil, errors.New("node id is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sync config: %w", err)
	}

	s := &Synchronizer{
		nodeID:      nodeID,
		cfg:         cfg,
		logger:      slog.Default(),
		now:         time.Now,
		tracer:      otel.Tracer(telemetry.InstrumentationName),
		rules:       game.Validate,
		clock:       clock.NewClock(nodeID),
		log:         oplog.New(cfg.HistoryCapacity),
		pending:     quorum.NewTracker(),
		detector:    conflict.NewDetector(cfg.DiceWindow),
		seen:        make(map[string]seenEntry),
		lastRequest: make(map[string]time.Time),
		events:      newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.Noop()
	}
	s.logger = s.logger.With("node", nodeID)
	s.participants = gossip.NewTable(nodeID, cfg.LatencyAlpha, cfg.SuspectTimeout, cfg.DeadTimeout, s.logger)

	genesis := state.Genesis(cfg.StartingBalance)
	s.timeline = state.NewTimeline(genesis)
	s.snapshot.Store(&genesis)
	s.digest = genesis.Digest()

	s.ctx, s.cancel = context.WithCancel(context.Background())
	if !s.manualTicks {
		s.wg.Add(2)
		go s.loop(cfg.ReconcileInterval, s.reconcile)
		go s.loop(cfg.MaintenanceInterval, s.maintain)
	}

	s.logger.Info("synchronizer started",
		"reconcile_interval", cfg.ReconcileInterval,
		"maintenance_interval", cfg.MaintenanceInterval)
	return s, nil
}

// NodeID returns the local node id.
func (s *Synchronizer) NodeID() string {
	return s.nodeID
}

// Connect binds the synchronizer to network and registers its inbound
// handler. A previously connected network is detached first.
func (s *Synchronizer) Connect(network Network) error {
	if network == nil {
		return errors.New("connect: nil network")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.network
	s.network = network
	s.mu.Unlock()

	if prev != nil && prev != network {
		prev.SetHandler(nil)
	}
	network.SetHandler(s.handle)
	s.logger.Info("connected to network")
	return nil
}

// Disconnect detaches the network and forgets every participant. The
// snapshot, log and pending operations are kept.
func (s *Synchronizer) Disconnect() {
	s.mu.Lock()
	prev := s.network
	s.network = nil
	s.participants.Clear()
	clear(s.lastRequest)
	s.outbox = nil
	s.mu.Unlock()

	if prev != nil {
		prev.SetHandler(nil)
		s.logger.Info("disconnected from network")
	}
}

// State returns the latest published snapshot.
func (s *Synchronizer) State() state.Snapshot {
	return *s.snapshot.Load()
}

// Subscribe returns a live event feed. The first event is always an
// EventStateChanged carrying the current snapshot. Events that do not fit
// in buffer are dropped. cancel closes the channel; subscribing again
// starts a new feed. After Close the returned channel is already closed.
func (s *Synchronizer) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer, Event{
		Kind:  EventStateChanged,
		At:    s.now(),
		State: s.State(),
	})
}

// DroppedEvents returns how many events were dropped across all
// subscribers because their buffers were full.
func (s *Synchronizer) DroppedEvents() uint64 {
	return s.events.dropped.Load()
}

// Participants returns the known remote participants sorted by id.
func (s *Synchronizer) Participants() []gossip.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants.Snapshot()
}

// Pending returns the operations waiting for quorum, oldest first.
func (s *Synchronizer) Pending() []quorum.Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Entries()
}

// History returns the operation log in application order.
func (s *Synchronizer) History() []oplog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Entries()
}

// Clock returns a copy of the local vector clock.
func (s *Synchronizer) Clock() clock.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now()
}

// Close stops both ticks, detaches the network, discards pending, log and
// participant state and closes every subscriber feed. It is idempotent.
func (s *Synchronizer) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		prev := s.network
		s.network = nil
		s.pending.Clear()
		s.log.Clear()
		s.participants.Clear()
		clear(s.seen)
		clear(s.lastRequest)
		s.outbox = nil
		s.mu.Unlock()

		if prev != nil {
			prev.SetHandler(nil)
		}
		s.cancel()
		s.wg.Wait()
		s.events.close()
		s.logger.Info("synchronizer closed")
	})
	return nil
}

func (s *Synchronizer) loop(interval time.Duration, fn func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// publish stores head as the current snapshot and emits EventStateChanged.
// Callers hold mu.
func (s *Synchronizer) publish(head state.Snapshot) {
	s.snapshot.Store(&head)
	s.digest = head.Digest()
	s.emit(Event{Kind: EventStateChanged, State: head})
}

// emit stamps and publishes an event. Callers hold mu.
func (s *Synchronizer) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.events.publish(ev)
}

// release unlocks mu and hands the queued messages to the network.
func (s *Synchronizer) release() {
	network := s.network
	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	if network == nil {
		return
	}
	for _, msg := range out {
		var err error
		if msg.to == "" {
			err = network.Broadcast(msg.data)
		} else {
			err = network.Send(msg.to, msg.data)
		}
		if err != nil {
			s.logger.Debug("send failed", "to", msg.to, "error", err)
		}
	}
}
