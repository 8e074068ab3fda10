package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
)

// MemoryLedger is a process-local Ledger for local runs and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	items    map[string]Message
	validate *validatorv10.Validate
	nowFunc  func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		items:    map[string]Message{},
		validate: NewValidator(),
		nowFunc:  time.Now,
	}
}

func (l *MemoryLedger) Create(ctx context.Context, msg Message) (Message, error) {
	msg, err := prepare(l.validate, msg, l.nowFunc())
	if err != nil {
		return msg, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[msg.MessageKey]; ok {
		return msg, fmt.Errorf("%w: %s", ErrDuplicateMessageKey, msg.MessageKey)
	}
	l.items[msg.MessageKey] = msg
	return msg, nil
}

func (l *MemoryLedger) Update(ctx context.Context, msg Message) (Message, error) {
	msg, err := prepare(l.validate, msg, l.nowFunc())
	if err != nil {
		return msg, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	old, ok := l.items[msg.MessageKey]
	if !ok {
		return msg, fmt.Errorf("%w: %s", ErrMessageNotFound, msg.MessageKey)
	}
	if !CanTransition(old.State, msg.State) {
		return msg, fmt.Errorf("%w: %s from %s to %s", ErrInvalidTransition, msg.MessageKey, old.State, msg.State)
	}
	l.items[msg.MessageKey] = msg
	return msg, nil
}

func (l *MemoryLedger) Find(ctx context.Context, key Key) (Message, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.items[key.String()]
	return m, ok, nil
}
