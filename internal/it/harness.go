// Package it runs several synchronizers in one process over a lossy
// in-memory bus. Integration tests and the simulate command use it.
package it

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gamesync/internal/config"
	"gamesync/internal/state"
	"gamesync/internal/syncer"
	"gamesync/internal/transport/memory"
)

// Cluster represents a set of nodes sharing one bus.
type Cluster struct {
	bus    *memory.Bus
	cfg    config.Sync
	logger *slog.Logger

	mu    sync.Mutex
	nodes map[string]*Node
}

// Node represents a single node in the cluster.
type Node struct {
	ID       string
	Sync     *syncer.Synchronizer
	endpoint *memory.Endpoint
}

// Stop closes the synchronizer and leaves the bus.
func (n *Node) Stop() {
	_ = n.Sync.Close()
	n.endpoint.Close()
}

// NewCluster creates an empty cluster. A nil logger discards output.
func NewCluster(cfg config.Sync, opts memory.Options, logger *slog.Logger) (*Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cluster config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cluster{
		bus:    memory.NewBus(opts),
		cfg:    cfg,
		logger: logger,
		nodes:  make(map[string]*Node),
	}, nil
}

// StartNode starts a single node and connects it to the bus.
func (c *Cluster) StartNode(nodeID string, opts ...syncer.Option) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[nodeID]; ok {
		return nil, fmt.Errorf("node %s already started", nodeID)
	}
	endpoint, err := c.bus.Join(nodeID)
	if err != nil {
		return nil, fmt.Errorf("join bus: %w", err)
	}

	opts = append([]syncer.Option{syncer.WithLogger(c.logger)}, opts...)
	s, err := syncer.New(nodeID, c.cfg, opts...)
	if err != nil {
		endpoint.Close()
		return nil, fmt.Errorf("start node %s: %w", nodeID, err)
	}
	if err := s.Connect(endpoint); err != nil {
		_ = s.Close()
		endpoint.Close()
		return nil, fmt.Errorf("connect node %s: %w", nodeID, err)
	}

	node := &Node{ID: nodeID, Sync: s, endpoint: endpoint}
	c.nodes[nodeID] = node
	return node, nil
}

// StartCluster starts n nodes named n1..nN.
func (c *Cluster) StartCluster(n int) error {
	for i := 1; i <= n; i++ {
		if _, err := c.StartNode(fmt.Sprintf("n%d", i)); err != nil {
			return err
		}
	}
	return nil
}

// GetNode returns a node by ID.
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[nodeID]
}

// Nodes returns every node sorted by ID.
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StopNode stops one node and removes it from the cluster.
func (c *Cluster) StopNode(nodeID string) error {
	c.mu.Lock()
	node, ok := c.nodes[nodeID]
	delete(c.nodes, nodeID)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	node.Stop()
	return nil
}

// Isolate partitions a node from everyone else.
func (c *Cluster) Isolate(nodeID string) { c.bus.Isolate(nodeID) }

// Heal ends a partition.
func (c *Cluster) Heal(nodeID string) { c.bus.Heal(nodeID) }

// Stats returns the bus counters.
func (c *Cluster) Stats() memory.Stats { return c.bus.Stats() }

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	for _, n := range c.Nodes() {
		n.Stop()
	}
	c.mu.Lock()
	c.nodes = make(map[string]*Node)
	c.mu.Unlock()
	c.bus.Close()
}

// Digests returns each node's snapshot digest.
func (c *Cluster) Digests() map[string]string {
	out := make(map[string]string)
	for _, n := range c.Nodes() {
		out[n.ID] = n.Sync.State().Digest()
	}
	return out
}

// Converged reports whether every node publishes the same snapshot.
func (c *Cluster) Converged() bool {
	var first string
	for i, n := range c.Nodes() {
		d := n.Sync.State().Digest()
		if i == 0 {
			first = d
			continue
		}
		if d != first {
			return false
		}
	}
	return true
}

// WaitForConvergence polls until every node publishes the same snapshot
// and returns it.
func (c *Cluster) WaitForConvergence(ctx context.Context, poll time.Duration) (state.Snapshot, error) {
	return waitFor(ctx, poll, func() (state.Snapshot, bool) {
		nodes := c.Nodes()
		if len(nodes) == 0 {
			return state.Snapshot{}, false
		}
		return nodes[0].Sync.State(), c.Converged()
	})
}

// WaitForMembership polls until every node knows every other node.
func (c *Cluster) WaitForMembership(ctx context.Context, poll time.Duration) error {
	_, err := waitFor(ctx, poll, func() (struct{}, bool) {
		nodes := c.Nodes()
		for _, n := range nodes {
			if len(n.Sync.Participants()) != len(nodes)-1 {
				return struct{}{}, false
			}
		}
		return struct{}{}, true
	})
	return err
}

func waitFor[T any](ctx context.Context, poll time.Duration, check func() (T, bool)) (T, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if v, ok := check(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, errors.Join(errors.New("condition not reached"), ctx.Err())
		case <-ticker.C:
		}
	}
}
