package syncer

import (
	"sync"
	"sync/atomic"
	"time"

	"gamesync/internal/game"
	"gamesync/internal/state"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventStateChanged carries the newly published snapshot in State.
	EventStateChanged EventKind = iota
	// EventOperationApplied reports an operation folded into the snapshot.
	EventOperationApplied
	// EventOperationRejected reports an operation that lost a conflict.
	EventOperationRejected
	// EventOperationConfirmed reports a pending operation that reached quorum.
	EventOperationConfirmed
	// EventOperationExpired reports a pending operation that timed out. Its
	// effect stays applied.
	EventOperationExpired
	// EventConflictResolved reports a conflict resolved by this node.
	EventConflictResolved
	// EventResolutionAnnounced reports a resolution broadcast by a peer.
	EventResolutionAnnounced
	// EventParticipantJoined reports a newly discovered participant.
	EventParticipantJoined
	// EventParticipantLeft reports a participant that was forgotten.
	EventParticipantLeft
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "STATE_CHANGED"
	case EventOperationApplied:
		return "OPERATION_APPLIED"
	case EventOperationRejected:
		return "OPERATION_REJECTED"
	case EventOperationConfirmed:
		return "OPERATION_CONFIRMED"
	case EventOperationExpired:
		return "OPERATION_EXPIRED"
	case EventConflictResolved:
		return "CONFLICT_RESOLVED"
	case EventResolutionAnnounced:
		return "RESOLUTION_ANNOUNCED"
	case EventParticipantJoined:
		return "PARTICIPANT_JOINED"
	case EventParticipantLeft:
		return "PARTICIPANT_LEFT"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry of a subscriber's feed. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind
	At   time.Time

	Op     game.Operation
	Remote bool
	Peer   string

	WinnerID string
	LoserIDs []string

	State state.Snapshot
}

// hub fans events out to subscribers. Delivery never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber.
type hub struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	closed  bool
	dropped atomic.Uint64
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe(buffer int, initial Event) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	ch <- initial

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
