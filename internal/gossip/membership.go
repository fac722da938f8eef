package gossip

import (
	"log/slog"
	"sort"
	"time"
)

// Status is the liveness state of a participant.
type Status int

const (
	Alive Status = iota
	Suspect
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	default:
		return "UNKNOWN"
	}
}

const (
	// DefaultAlpha is the weight of a new latency sample.
	DefaultAlpha = 0.2
	// DefaultSuspectTimeout is the silence after which a participant is suspected.
	DefaultSuspectTimeout = 3 * time.Second
)

// Participant is a remote node this node has heard from.
type Participant struct {
	ID         string
	Status     Status
	LastSeen   time.Time
	Latency    time.Duration
	Heartbeats uint64
}

// Table tracks remote participants. It is not safe for concurrent use;
// the owning synchronizer serializes access.
type Table struct {
	localID string
	members map[string]*Participant

	alpha          float64
	suspectTimeout time.Duration
	deadTimeout    time.Duration

	logger *slog.Logger
}

// NewTable creates an empty participant table for localID. A non-positive
// alpha or suspectTimeout falls back to the package default. A deadTimeout
// of zero or less disables removal: silent participants stay Suspect and
// their age remains visible through LastSeen.
func NewTable(localID string, alpha float64, suspectTimeout, deadTimeout time.Duration, logger *slog.Logger) *Table {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	if suspectTimeout <= 0 {
		suspectTimeout = DefaultSuspectTimeout
	}
	if deadTimeout < 0 {
		deadTimeout = 0
	}
	if deadTimeout > 0 && deadTimeout < suspectTimeout {
		deadTimeout = suspectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Table{
		localID:        localID,
		members:        make(map[string]*Participant),
		alpha:          alpha,
		suspectTimeout: suspectTimeout,
		deadTimeout:    deadTimeout,
		logger:         logger,
	}
}

// Observe records a heartbeat from id that was sent at sentAt and received
// at now. It returns true when id was not known before. Heartbeats from the
// local node or with an empty id are ignored.
func (t *Table) Observe(id string, sentAt, now time.Time) (added bool) {
	if id == "" || id == t.localID {
		return false
	}

	sample := now.Sub(sentAt)
	if sample < 0 {
		sample = 0
	}

	p, ok := t.members[id]
	if !ok {
		t.members[id] = &Participant{
			ID:         id,
			Status:     Alive,
			LastSeen:   now,
			Latency:    sample,
			Heartbeats: 1,
		}
		t.logger.Info("discovered participant", "peer", id, "latency", sample)
		return true
	}

	if p.Status != Alive {
		t.logger.Info("participant alive again", "peer", id)
	}
	p.Status = Alive
	if now.After(p.LastSeen) {
		p.LastSeen = now
	}
	p.Latency = time.Duration((1-t.alpha)*float64(p.Latency) + t.alpha*float64(sample))
	p.Heartbeats++
	return false
}

// Touch refreshes LastSeen for a known participant without a latency
// sample. Unknown ids are ignored.
func (t *Table) Touch(id string, now time.Time) {
	if p, ok := t.members[id]; ok && now.After(p.LastSeen) {
		p.LastSeen = now
		p.Status = Alive
	}
}

// Sweep marks participants silent for longer than the suspect timeout as
// Suspect. When a dead timeout is set it also forgets those silent for
// longer than that.
func (t *Table) Sweep(now time.Time) (suspected, removed []string) {
	for id, p := range t.members {
		elapsed := now.Sub(p.LastSeen)
		switch {
		case t.deadTimeout > 0 && elapsed > t.deadTimeout:
			delete(t.members, id)
			removed = append(removed, id)
			t.logger.Info("forgot participant", "peer", id, "silent", elapsed)
		case elapsed > t.suspectTimeout && p.Status == Alive:
			p.Status = Suspect
			suspected = append(suspected, id)
			t.logger.Warn("participant suspected", "peer", id, "silent", elapsed)
		}
	}
	sort.Strings(suspected)
	sort.Strings(removed)
	return suspected, removed
}

// Get returns a copy of the participant with id.
func (t *Table) Get(id string) (Participant, bool) {
	p, ok := t.members[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Count returns the number of known remote participants.
func (t *Table) Count() int {
	return len(t.members)
}

// Snapshot returns copies of all participants sorted by id.
func (t *Table) Snapshot() []Participant {
	out := make([]Participant, 0, len(t.members))
	for _, p := range t.members {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the sorted participant ids.
func (t *Table) IDs() []string {
	out := make([]string, 0, len(t.members))
	for id := range t.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear forgets every participant.
func (t *Table) Clear() {
	t.members = make(map[string]*Participant)
}
