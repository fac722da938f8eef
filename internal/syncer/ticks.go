package syncer

import (
	"context"

	"gamesync/internal/wire"
)

// reconcile is the fast tick: it broadcasts the local clock, the last
// logged operation and the snapshot digest so peers can notice gaps.
func (s *Synchronizer) reconcile() {
	s.mu.Lock()
	defer s.release()

	if s.closed || s.network == nil {
		return
	}

	last, _ := s.log.Last()
	s.enqueue("", wire.TypeHeartbeat, wire.Heartbeat{
		Clock:           s.clock.Now(),
		LastOperationID: last,
		Digest:          s.digest,
	})
}

// maintain is the slow tick: pending expiry, log pruning, timeline
// compaction, dedup pruning and participant liveness.
func (s *Synchronizer) maintain() {
	s.mu.Lock()
	defer s.release()

	if s.closed {
		return
	}

	now := s.now()
	ctx := context.Background()

	if expired := s.pending.Expire(now, s.cfg.OperationTimeout); len(expired) > 0 {
		s.metrics.Expired(ctx, len(expired))
		for _, p := range expired {
			s.logger.Debug("pending operation expired", "op", p.Op.ID, "acks", p.AckCount())
			s.emit(Event{Kind: EventOperationExpired, Op: p.Op, Remote: p.Op.Origin != s.nodeID})
		}
	}

	cutoff := now.Add(-s.cfg.HistoryRetention)
	if n := s.log.Prune(cutoff); n > 0 {
		s.logger.Debug("pruned operation log", "count", n)
	}
	s.timeline.Compact(cutoff, s.cfg.HistoryCapacity)

	for id, e := range s.seen {
		if now.After(e.until) {
			delete(s.seen, id)
		}
	}

	_, removed := s.participants.Sweep(now)
	for _, id := range removed {
		delete(s.lastRequest, id)
		s.emit(Event{Kind: EventParticipantLeft, Peer: id})
	}
}
