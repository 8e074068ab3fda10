package ledger

import (
	"strings"
	"time"
)

// State is where an exchange message is in its life.
type State string

const (
	StateWorking   State = "Working"   // created locally, not yet sent
	StateRequested State = "Requested" // sent, waiting for the answer
	StateReceived  State = "Received"  // arrived from a partner, being handled
	StateCompleted State = "Completed"
	StateError     State = "Error"
)

// Direction tells which way the goods in question flow, seen from the requester.
// INBOUND: the requester is the customer. OUTBOUND: the requester is the supplier.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionInbound {
		return DirectionOutbound
	}
	return DirectionInbound
}

// Key identifies a message: the same message id may be reused by different
// sender/receiver pairs.
type Key struct {
	MessageID    string
	SenderBPNL   string
	ReceiverBPNL string
}

func (k Key) String() string {
	return strings.Join([]string{k.MessageID, k.SenderBPNL, k.ReceiverBPNL}, "|")
}

// Message is the item stored in the exchange-messages table.
type Message struct {
	MessageKey       string     `dynamodbav:"message_key"` // PK, Key.String()
	MessageID        string     `dynamodbav:"message_id" validate:"required"`
	SenderBPNL       string     `dynamodbav:"sender_bpnl" validate:"required"`
	ReceiverBPNL     string     `dynamodbav:"receiver_bpnl" validate:"required"`
	Context          string     `dynamodbav:"context" validate:"required"`
	Version          string     `dynamodbav:"version" validate:"required"`
	Direction        Direction  `dynamodbav:"direction" validate:"required,oneof=INBOUND OUTBOUND"`
	State            State      `dynamodbav:"state" validate:"required,oneof=Working Requested Received Completed Error"`
	RelatedMessageID string     `dynamodbav:"related_message_id,omitempty"`
	SentAt           *time.Time `dynamodbav:"sent_at,omitempty"`
	Materials        []string   `dynamodbav:"materials,omitempty"` // own material numbers involved
	Note             string     `dynamodbav:"note,omitempty"`      // last failure reason
	CreatedAt        time.Time  `dynamodbav:"created_at"`
	UpdatedAt        time.Time  `dynamodbav:"updated_at"`
}

// Key returns the identity of m.
func (m Message) Key() Key {
	return Key{MessageID: m.MessageID, SenderBPNL: m.SenderBPNL, ReceiverBPNL: m.ReceiverBPNL}
}
