package grpcmesh

import (
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultClientDialOptions returns the dial options used for peer
// connections. The OTel stats handler propagates trace context when a
// TracerProvider is registered.
func DefaultClientDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// ClientManager manages gRPC connections to peer nodes, one per address.
type ClientManager struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
	opts  []grpc.DialOption
}

// NewClientManager creates a new client manager. No options means
// DefaultClientDialOptions.
func NewClientManager(opts ...grpc.DialOption) *ClientManager {
	if len(opts) == 0 {
		opts = DefaultClientDialOptions()
	}
	return &ClientManager{
		conns: make(map[string]*grpc.ClientConn),
		opts:  opts,
	}
}

// GetClient returns a mesh client for the given node address.
// Creates a new connection if one doesn't exist.
func (cm *ClientManager) GetClient(addr string) (MeshClient, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return NewMeshClient(conn), nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return NewMeshClient(conn), nil
	}

	conn, err := grpc.NewClient(addr, cm.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	cm.conns[addr] = conn
	return NewMeshClient(conn), nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	return errors.Join(errs...)
}
