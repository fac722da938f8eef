package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gamesync/internal/clock"
)

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("malformed message")

// Type identifies the payload carried by a Message.
type Type string

const (
	TypeGameOperation      Type = "GameOperation"
	TypeSyncRequest        Type = "SyncRequest"
	TypeSyncResponse       Type = "SyncResponse"
	TypeHeartbeat          Type = "Heartbeat"
	TypeConflictResolution Type = "ConflictResolution"
	TypeAcknowledgment     Type = "Acknowledgment"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeGameOperation, TypeSyncRequest, TypeSyncResponse,
		TypeHeartbeat, TypeConflictResolution, TypeAcknowledgment:
		return true
	default:
		return false
	}
}

// Message is the envelope for everything sent between nodes.
type Message struct {
	Type      Type            `json:"type"`
	SenderID  string          `json:"sender_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// SentAt returns the sender's wall clock time.
func (m Message) SentAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Bind decodes the payload into v.
func (m Message) Bind(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s payload missing: %w", m.Type, ErrMalformed)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %v: %w", m.Type, err, ErrMalformed)
	}
	return nil
}

// Encode builds and marshals a message carrying payload.
func Encode(t Type, senderID string, payload any, now time.Time) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	data, err := json.Marshal(Message{
		Type:      t,
		SenderID:  senderID,
		Payload:   body,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return data, nil
}

// Decode parses an envelope. The payload is left raw; use Bind.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("envelope: %v: %w", err, ErrMalformed)
	}
	if !m.Type.Valid() {
		return Message{}, fmt.Errorf("unknown type %q: %w", m.Type, ErrMalformed)
	}
	if m.SenderID == "" {
		return Message{}, fmt.Errorf("%s without sender: %w", m.Type, ErrMalformed)
	}
	return m, nil
}

// Heartbeat is broadcast on every reconciliation tick. Digest is the
// sender's snapshot digest; peers that disagree ask for a backfill.
type Heartbeat struct {
	Clock           clock.VectorClock `json:"clock"`
	LastOperationID string            `json:"lastOperationId,omitempty"`
	Digest          string            `json:"digest,omitempty"`
}

// SyncRequest asks a peer for operations the requester has not seen. When
// Known is set it lists the operations the requester already holds and
// takes precedence over Clock.
type SyncRequest struct {
	Clock clock.VectorClock `json:"clock"`
	Limit int               `json:"limit,omitempty"`
	Known []string          `json:"known,omitempty"`
}

// SyncResponse answers a SyncRequest.
type SyncResponse struct {
	Operations []Operation `json:"operations"`
}

// Ack acknowledges an accepted operation.
type Ack struct {
	OperationID string `json:"operationId"`
}

// Resolution announces the outcome of a conflict. It is advisory.
type Resolution struct {
	WinnerID string   `json:"winnerId"`
	LoserIDs []string `json:"loserIds"`
}
