package syncer

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gamesync/internal/game"
	"gamesync/internal/wire"
)

// handle is the Network callback. Malformed messages are logged and
// dropped; nothing here fails the synchronizer.
func (s *Synchronizer) handle(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		s.logger.Warn("dropping malformed message", "error", err)
		s.metrics.Dropped(context.Background(), "malformed")
		return
	}
	if msg.SenderID == s.nodeID {
		return
	}

	_, span := s.tracer.Start(context.Background(), "syncer.handle", trace.WithAttributes(
		attribute.String("gamesync.node", s.nodeID),
		attribute.String("gamesync.message.type", string(msg.Type)),
		attribute.String("gamesync.message.sender", msg.SenderID),
	))
	defer span.End()

	s.mu.Lock()
	defer s.release()

	if s.closed || s.network == nil {
		return
	}
	if msg.Type != wire.TypeHeartbeat {
		s.participants.Touch(msg.SenderID, s.now())
	}

	switch msg.Type {
	case wire.TypeGameOperation:
		err = s.onOperation(msg)
	case wire.TypeAcknowledgment:
		err = s.onAck(msg)
	case wire.TypeHeartbeat:
		err = s.onHeartbeat(msg)
	case wire.TypeSyncRequest:
		err = s.onSyncRequest(msg)
	case wire.TypeSyncResponse:
		err = s.onSyncResponse(msg)
	case wire.TypeConflictResolution:
		err = s.onResolution(msg)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, wire.ErrMalformed) {
			s.metrics.Dropped(context.Background(), "malformed")
		}
		s.logger.Warn("dropping message", "type", msg.Type, "from", msg.SenderID, "error", err)
	}
}

func (s *Synchronizer) onOperation(msg wire.Message) error {
	var w wire.Operation
	if err := msg.Bind(&w); err != nil {
		return err
	}
	op, err := w.ToOperation()
	if err != nil {
		return err
	}
	s.receive(op)
	return nil
}

// receive runs one remote operation through dedup, clock merge, conflict
// detection and application. Callers hold mu.
func (s *Synchronizer) receive(op game.Operation) {
	if op.Origin == s.nodeID {
		return
	}

	if seen, ok := s.seen[op.ID]; ok {
		if seen.accepted {
			s.enqueue("", wire.TypeAcknowledgment, wire.Ack{OperationID: op.ID})
		}
		return
	}

	now := s.now()
	if op.Timestamp().Add(s.cfg.HistoryRetention).Before(now) {
		s.logger.Debug("dropping stale operation", "op", op.ID, "timestamp", op.Timestamp())
		s.metrics.Dropped(context.Background(), "stale")
		return
	}

	s.clock.Witness(op.Clock)

	if conflicts := s.detector.Detect(op, s.pending.Operations()); len(conflicts) > 0 {
		res := s.resolve(op, conflicts)
		if res.Lost(op.ID) {
			s.emit(Event{Kind: EventOperationRejected, Op: op, Remote: true, WinnerID: res.Winner.ID, LoserIDs: res.LoserIDs()})
			s.enqueue("", wire.TypeAcknowledgment, wire.Ack{OperationID: res.Winner.ID})
			return
		}
	}

	s.apply(op, true)
	// The origin's ack is not counted; only acks sent on the wire are.
	s.pending.Track(op, now)
	s.enqueue("", wire.TypeAcknowledgment, wire.Ack{OperationID: op.ID})
	s.acknowledge(op.ID, s.nodeID)
}

func (s *Synchronizer) onAck(msg wire.Message) error {
	var ack wire.Ack
	if err := msg.Bind(&ack); err != nil {
		return err
	}
	if ack.OperationID == "" {
		return errors.Join(errors.New("ack without operation id"), wire.ErrMalformed)
	}
	s.acknowledge(ack.OperationID, msg.SenderID)
	return nil
}

// acknowledge records an ack and emits EventOperationConfirmed when the
// operation reaches quorum. Callers hold mu.
func (s *Synchronizer) acknowledge(opID, nodeID string) {
	p, confirmed, ok := s.pending.Acknowledge(opID, nodeID, s.participants.Count())
	if !ok || !confirmed {
		return
	}
	s.metrics.Confirmed(context.Background())
	s.logger.Debug("operation confirmed", "op", opID, "acks", p.AckCount())
	s.emit(Event{Kind: EventOperationConfirmed, Op: p.Op, Remote: p.Op.Origin != s.nodeID})
}

func (s *Synchronizer) onHeartbeat(msg wire.Message) error {
	var hb wire.Heartbeat
	if err := msg.Bind(&hb); err != nil {
		return err
	}

	now := s.now()
	if s.participants.Observe(msg.SenderID, msg.SentAt(), now) {
		s.emit(Event{Kind: EventParticipantJoined, Peer: msg.SenderID})
	}
	if p, ok := s.participants.Get(msg.SenderID); ok {
		s.metrics.Latency(context.Background(), msg.SenderID, p.Latency)
	}

	if !s.cfg.CatchUp {
		return nil
	}
	switch {
	case hb.LastOperationID != "" && !s.knows(hb.LastOperationID):
		s.requestCatchUp(msg.SenderID, now, hb.LastOperationID)
	case hb.Digest != "" && hb.Digest != s.digest:
		s.requestCatchUp(msg.SenderID, now, "")
	}
	return nil
}

// knows reports whether the operation was applied, rejected or is still in
// the window. Callers hold mu.
func (s *Synchronizer) knows(opID string) bool {
	if _, ok := s.seen[opID]; ok {
		return true
	}
	return s.timeline.Contains(opID)
}

// requestCatchUp asks peer for the logged operations the local node does
// not hold, at most once per SyncRequestInterval per peer. Callers hold mu.
func (s *Synchronizer) requestCatchUp(peer string, now time.Time, missing string) {
	if last, ok := s.lastRequest[peer]; ok && now.Sub(last) < s.cfg.SyncRequestInterval {
		return
	}
	s.lastRequest[peer] = now

	s.logger.Debug("requesting catch-up", "peer", peer, "missing", missing)
	s.enqueue(peer, wire.TypeSyncRequest, wire.SyncRequest{
		Clock: s.clock.Now(),
		Limit: s.cfg.MaxBackfill,
		Known: s.log.IDs(),
	})
}

func (s *Synchronizer) onSyncRequest(msg wire.Message) error {
	var req wire.SyncRequest
	if err := msg.Bind(&req); err != nil {
		return err
	}
	if !s.cfg.CatchUp {
		return nil
	}

	limit := s.cfg.MaxBackfill
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}
	missing := s.log.Missing(req.Clock, limit)
	if len(req.Known) > 0 {
		missing = s.log.Except(req.Known, limit)
	}
	if len(missing) == 0 {
		return nil
	}

	ops, err := wire.FromOperations(missing)
	if err != nil {
		s.logger.Error("encode backfill", "error", err)
		return nil
	}
	s.logger.Debug("answering catch-up", "peer", msg.SenderID, "operations", len(ops))
	s.enqueue(msg.SenderID, wire.TypeSyncResponse, wire.SyncResponse{Operations: ops})
	return nil
}

func (s *Synchronizer) onSyncResponse(msg wire.Message) error {
	var resp wire.SyncResponse
	if err := msg.Bind(&resp); err != nil {
		return err
	}

	var errs []error
	for _, w := range resp.Operations {
		op, err := w.ToOperation()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.receive(op)
	}
	return errors.Join(errs...)
}

func (s *Synchronizer) onResolution(msg wire.Message) error {
	var res wire.Resolution
	if err := msg.Bind(&res); err != nil {
		return err
	}
	s.logger.Debug("peer resolved conflict", "peer", msg.SenderID, "winner", res.WinnerID, "losers", res.LoserIDs)
	s.emit(Event{Kind: EventResolutionAnnounced, Peer: msg.SenderID, WinnerID: res.WinnerID, LoserIDs: res.LoserIDs})
	return nil
}
