// Package ledger records every exchange message and the state it reached.
//
// Creating a key twice is refused, updating an unknown key is refused, and
// state only moves forward. Those three rules are what keep concurrent
// exchanges with the same partner from trampling each other.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
)

var (
	ErrDuplicateMessageKey = errors.New("ledger: message key already exists")
	ErrMessageNotFound     = errors.New("ledger: message not found")
	ErrInvalidTransition   = errors.New("ledger: state transition not allowed")
	ErrInvalidMessage      = errors.New("ledger: invalid message")
)

// Ledger is the message store shared by every exchange worker.
type Ledger interface {
	Create(ctx context.Context, msg Message) (Message, error)
	Update(ctx context.Context, msg Message) (Message, error)
	Find(ctx context.Context, key Key) (Message, bool, error)
}

// sentStates must carry a sentAt timestamp.
var sentStates = map[State]bool{
	StateRequested: true,
	StateReceived:  true,
	StateCompleted: true,
}

// allowedFrom lists, per target state, the states an update may start from.
var allowedFrom = map[State][]State{
	StateWorking:   {StateWorking},
	StateRequested: {StateWorking, StateRequested},
	StateReceived:  {StateWorking, StateReceived},
	StateCompleted: {StateRequested, StateReceived, StateCompleted},
	StateError:     {StateWorking, StateRequested, StateReceived, StateError},
}

// CanTransition reports whether a stored message in from may be updated to to.
func CanTransition(from, to State) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// NewValidator returns the validator used for messages, with the
// state-dependent sentAt rule registered.
func NewValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(messageStructValidation, Message{})
	return v
}

func messageStructValidation(sl validatorv10.StructLevel) {
	m := sl.Current().Interface().(Message)
	if sentStates[m.State] && (m.SentAt == nil || m.SentAt.IsZero()) {
		sl.ReportError(m.SentAt, "sentAt", "SentAt", "sent_at_required", string(m.State))
	}
}

// prepare fills the derived fields of msg and validates it.
func prepare(v *validatorv10.Validate, msg Message, now time.Time) (Message, error) {
	msg.MessageKey = msg.Key().String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if err := v.Struct(msg); err != nil {
		return msg, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, msg.MessageKey, err)
	}
	return msg, nil
}
