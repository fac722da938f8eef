package syncer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gamesync/internal/conflict"
	"gamesync/internal/game"
	"gamesync/internal/wire"
)

// Receipt describes what Propose did with an operation.
type Receipt struct {
	// Operation is the stamped operation.
	Operation game.Operation
	// Applied is false when the operation lost a conflict against an
	// operation that was already pending; it was then neither applied nor
	// broadcast.
	Applied bool
	// Superseded lists pending operations that lost to this one.
	Superseded []string
}

// Propose validates payload against the current snapshot, stamps it with
// the next local clock value and, unless it loses a conflict against a
// pending operation, applies it, tracks it for quorum and broadcasts it.
// It never waits for the network.
func (s *Synchronizer) Propose(payload game.Payload) (Receipt, error) {
	_, span := s.tracer.Start(context.Background(), "syncer.Propose", trace.WithAttributes(
		attribute.String("gamesync.node", s.nodeID),
	))
	defer span.End()

	if payload == nil {
		return Receipt{}, game.ErrNoPayload
	}

	s.mu.Lock()
	defer s.release()

	if s.closed {
		return Receipt{}, ErrClosed
	}

	if err := s.rules(s.nodeID, payload, s.timeline.Head()); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Receipt{}, fmt.Errorf("propose %s: %w", payload.Kind(), err)
	}

	now := s.now()
	op := game.NewOperation(s.nodeID, now, s.clock.Tick(), payload)
	span.SetAttributes(
		attribute.String("gamesync.op.id", op.ID),
		attribute.String("gamesync.op.kind", string(op.Kind())),
	)

	receipt := Receipt{Operation: op}

	if conflicts := s.detector.Detect(op, s.pending.Operations()); len(conflicts) > 0 {
		res := s.resolve(op, conflicts)
		if res.Lost(op.ID) {
			s.logger.Info("proposal lost conflict", "op", op.ID, "winner", res.Winner.ID)
			s.emit(Event{Kind: EventOperationRejected, Op: op, WinnerID: res.Winner.ID, LoserIDs: res.LoserIDs()})
			span.SetAttributes(attribute.Bool("gamesync.op.applied", false))
			return receipt, nil
		}
		receipt.Superseded = res.LoserIDs()
	}

	s.apply(op, false)
	s.pending.Track(op, now, s.nodeID)
	s.enqueueOperation(op)

	receipt.Applied = true
	span.SetAttributes(attribute.Bool("gamesync.op.applied", true))
	s.logger.Debug("proposed operation", "op", op.ID, "kind", op.Kind(), "clock", op.Clock.String())
	return receipt, nil
}

// apply folds op into the timeline, records it in the log and the dedup
// set and publishes the new head. Callers hold mu.
func (s *Synchronizer) apply(op game.Operation, remote bool) {
	now := s.now()
	head, replayed := s.timeline.Insert(op)
	if evicted := s.log.Append(op, now); evicted > 0 {
		s.logger.Debug("operation log evicted entries", "count", evicted)
	}
	s.markSeen(op, true)

	ctx := context.Background()
	s.metrics.Applied(ctx, string(op.Kind()), remote)
	if replayed {
		s.logger.Debug("replayed timeline for out-of-order operation", "op", op.ID)
	}

	s.emit(Event{Kind: EventOperationApplied, Op: op, Remote: remote})
	s.publish(head)
}

// resolve settles the conflict set made of op and conflicts: losers are
// dropped from pending and from the timeline, and the outcome is
// announced. Callers hold mu.
func (s *Synchronizer) resolve(op game.Operation, conflicts []game.Operation) conflict.Resolution {
	set := append([]game.Operation{op}, conflicts...)
	res, ok := conflict.Resolve(set)
	if !ok {
		// Unreachable: set always holds op.
		s.logger.Error("conflict set is empty", "op", op.ID)
		return conflict.Resolution{Winner: op}
	}

	losers := res.LoserIDs()
	s.pending.Remove(losers...)
	for _, l := range res.Losers {
		s.markSeen(l, false)
	}
	s.log.Remove(losers...)
	if head, removed := s.timeline.Remove(losers...); removed > 0 {
		s.logger.Info("rolled back conflict losers", "count", removed, "winner", res.Winner.ID)
		s.publish(head)
	}

	s.metrics.Conflict(context.Background(), string(op.Kind()))
	s.logger.Info("resolved conflict",
		"kind", op.Kind(),
		"winner", res.Winner.ID,
		"losers", losers)
	s.emit(Event{Kind: EventConflictResolved, Op: res.Winner, WinnerID: res.Winner.ID, LoserIDs: losers})
	s.enqueue("", wire.TypeConflictResolution, wire.Resolution{WinnerID: res.Winner.ID, LoserIDs: losers})
	return res
}

func (s *Synchronizer) markSeen(op game.Operation, accepted bool) {
	until := s.now()
	if at := op.Timestamp(); at.After(until) {
		until = at
	}
	s.seen[op.ID] = seenEntry{accepted: accepted, until: until.Add(s.cfg.HistoryRetention)}
}

// enqueue encodes a message for delivery after mu is released. An empty
// to broadcasts. Callers hold mu.
func (s *Synchronizer) enqueue(to string, t wire.Type, payload any) {
	if s.network == nil {
		return
	}
	data, err := wire.Encode(t, s.nodeID, payload, s.now())
	if err != nil {
		s.logger.Error("encode message", "type", t, "error", err)
		return
	}
	s.outbox = append(s.outbox, outbound{to: to, data: data})
}

func (s *Synchronizer) enqueueOperation(op game.Operation) {
	w, err := wire.FromOperation(op)
	if err != nil {
		s.logger.Error("encode operation", "op", op.ID, "error", err)
		return
	}
	s.enqueue("", wire.TypeGameOperation, w)
}
