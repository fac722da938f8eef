package grpcmesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"gamesync/internal/config"
)

var (
	ErrClosed      = errors.New("mesh closed")
	ErrUnknownPeer = errors.New("unknown peer")
	ErrQueueFull   = errors.New("peer queue full")
)

const (
	DefaultSendTimeout = 2 * time.Second
	DefaultQueueSize   = 256
	DefaultMaxTries    = 3
)

// SendError reports a delivery that could not be queued or completed for
// one peer.
type SendError struct {
	Peer string
	Err  error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("send to %s: %v", e.Peer, e.Err)
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Options configures a Mesh.
type Options struct {
	NodeID     string
	ListenAddr string
	Peers      []config.Peer

	SendTimeout time.Duration
	QueueSize   int
	MaxTries    uint
	// InitialBackoff and MaxBackoff bound the retry schedule. Zero keeps
	// the backoff package defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxTries == 0 {
		o.MaxTries = DefaultMaxTries
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Mesh is a gRPC transport connecting one node to a static set of peers.
// It satisfies the synchronizer's Network interface.
type Mesh struct {
	opts   Options
	logger *slog.Logger

	clients *ClientManager
	health  *health.Server
	server  *grpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	lis     net.Listener
	peers   map[string]*peer
	handler func([]byte)
	closed  bool
}

type peer struct {
	id    string
	addr  string
	queue chan []byte
}

// New creates a mesh. Nothing listens until Start.
func New(opts Options) (*Mesh, error) {
	if opts.NodeID == "" {
		return nil, errors.New("node id is required")
	}
	if opts.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}
	opts.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Mesh{
		opts:    opts,
		logger:  opts.Logger.With("component", "grpcmesh", "node", opts.NodeID),
		clients: NewClientManager(),
		health:  health.NewServer(),
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[string]*peer),
	}
	for _, p := range opts.Peers {
		if err := m.AddPeer(p.ID, p.Addr); err != nil {
			cancel()
			return nil, err
		}
	}
	return m, nil
}

// Start binds the listener and serves in the background.
func (m *Mesh) Start() error {
	lis, err := net.Listen("tcp", m.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.opts.ListenAddr, err)
	}

	m.server = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterMeshServer(m.server, &server{mesh: m})
	healthpb.RegisterHealthServer(m.server, m.health)
	m.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	m.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	m.mu.Lock()
	m.lis = lis
	m.mu.Unlock()

	m.logger.Info("mesh listening", "addr", lis.Addr().String())
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			m.logger.Error("mesh server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or the configured one before
// Start.
func (m *Mesh) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lis != nil {
		return m.lis.Addr().String()
	}
	return m.opts.ListenAddr
}

// AddPeer registers a peer and starts its delivery worker. Adding the
// local node is ignored.
func (m *Mesh) AddPeer(id, addr string) error {
	if id == "" || addr == "" {
		return fmt.Errorf("peer %q at %q: id and address are required", id, addr)
	}
	if id == m.opts.NodeID {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if existing, ok := m.peers[id]; ok {
		if existing.addr != addr {
			return fmt.Errorf("peer %s already registered at %s", id, existing.addr)
		}
		return nil
	}

	p := &peer{id: id, addr: addr, queue: make(chan []byte, m.opts.QueueSize)}
	m.peers[id] = p
	m.wg.Add(1)
	go m.run(p)
	return nil
}

// Peers returns the registered peer ids, sorted.
func (m *Mesh) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetHandler registers the inbound callback. A nil handler detaches and
// inbound deliveries fail with Unavailable.
func (m *Mesh) SetHandler(handler func(data []byte)) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

func (m *Mesh) currentHandler() func([]byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler
}

// Broadcast queues data for every peer. Peers whose queues are full are
// reported as joined SendErrors; the others still receive it.
func (m *Mesh) Broadcast(data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	var errs []error
	for _, p := range m.peers {
		if err := m.enqueue(p, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send queues data for one peer.
func (m *Mesh) Send(nodeID string, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	p, ok := m.peers[nodeID]
	if !ok {
		return &SendError{Peer: nodeID, Err: ErrUnknownPeer}
	}
	return m.enqueue(p, data)
}

// enqueue must be called with m.mu held.
func (m *Mesh) enqueue(p *peer, data []byte) error {
	buf := append([]byte(nil), data...)
	select {
	case p.queue <- buf:
		return nil
	default:
		return &SendError{Peer: p.id, Err: ErrQueueFull}
	}
}

func (m *Mesh) run(p *peer) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case data := <-p.queue:
			if err := m.deliver(p, data); err != nil && m.ctx.Err() == nil {
				m.logger.Debug("delivery failed", "peer", p.id, "addr", p.addr, "error", err)
			}
		}
	}
}

func (m *Mesh) deliver(p *peer, data []byte) error {
	client, err := m.clients.GetClient(p.addr)
	if err != nil {
		return &SendError{Peer: p.id, Err: err}
	}

	b := backoff.NewExponentialBackOff()
	if m.opts.InitialBackoff > 0 {
		b.InitialInterval = m.opts.InitialBackoff
	}
	if m.opts.MaxBackoff > 0 {
		b.MaxInterval = m.opts.MaxBackoff
	}

	op := func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.SendTimeout)
		defer cancel()
		_, err := client.Deliver(ctx, wrapperspb.Bytes(data))
		if err == nil {
			return struct{}{}, nil
		}
		switch status.Code(err) {
		case codes.InvalidArgument, codes.Unimplemented:
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err = backoff.Retry(m.ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.opts.MaxTries),
	)
	if err != nil {
		return &SendError{Peer: p.id, Err: err}
	}
	return nil
}

// Close stops serving, stops the workers and closes peer connections.
// Queued messages are discarded.
func (m *Mesh) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.handler = nil
	m.mu.Unlock()

	m.health.Shutdown()
	m.cancel()
	if m.server != nil {
		m.logger.Info("stopping mesh")
		m.server.GracefulStop()
	}
	m.wg.Wait()
	return m.clients.Close()
}
