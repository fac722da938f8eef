package syncer

// Network is the transport a Synchronizer sends through. Implementations
// are best effort: messages may be dropped, duplicated or reordered.
type Network interface {
	// Broadcast sends data to every reachable peer.
	Broadcast(data []byte) error
	// Send sends data to a single peer.
	Send(nodeID string, data []byte) error
	// SetHandler registers the inbound callback, replacing any previous
	// one. A nil handler detaches.
	SetHandler(handler func(data []byte))
}

type outbound struct {
	to   string // empty means broadcast
	data []byte
}
