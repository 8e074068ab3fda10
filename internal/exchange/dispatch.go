package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/dataspace-exchange/internal/aws"
	"github.com/imrishuroy/dataspace-exchange/internal/materials"
	"github.com/imrishuroy/dataspace-exchange/internal/validation"
)

// Envelope kinds.
const (
	KindOutbound = "outbound"
	KindRequest  = "request"
	KindResponse = "response"
)

// Envelope is one unit of exchange work, as queued between the HTTP layer
// and the workers. Body holds an OutboundRequest, a RequestMessage or a
// ResponseMessage depending on Kind.
type Envelope struct {
	Kind string          `json:"kind"`
	Role materials.Role  `json:"role,omitempty"`
	Body json.RawMessage `json:"body"`
}

// NewEnvelope encodes body into an Envelope of the given kind.
func NewEnvelope(kind string, role materials.Role, body any) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("exchange: encode %s envelope: %w", kind, err)
	}
	return Envelope{Kind: kind, Role: role, Body: raw}, nil
}

// Processor runs one envelope to completion.
type Processor interface {
	Process(ctx context.Context, env Envelope) error
}

// Dispatcher hands an envelope off for asynchronous processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, env Envelope) error
}

// Process decodes env and runs the matching flow.
func (o *Orchestrator) Process(ctx context.Context, env Envelope) error {
	switch env.Kind {
	case KindOutbound:
		var req OutboundRequest
		if err := json.Unmarshal(env.Body, &req); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		_, err := o.Outbound(ctx, req)
		return err
	case KindRequest:
		var msg validation.RequestMessage
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		return o.HandleRequest(ctx, msg, env.Role)
	case KindResponse:
		var msg validation.ResponseMessage
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		return o.HandleResponse(ctx, msg)
	default:
		return fmt.Errorf("exchange: unknown envelope kind %q", env.Kind)
	}
}

// PoolDispatcher runs envelopes on a bounded set of goroutines in this
// process. When every slot is busy Dispatch fails with ErrSaturated instead
// of queueing.
type PoolDispatcher struct {
	proc Processor
	base context.Context
	log  *slog.Logger
	g    *errgroup.Group
}

// NewPoolDispatcher returns a dispatcher running at most size envelopes at
// once. Work runs under base, not under the caller's context, so it outlives
// the HTTP request that dispatched it.
func NewPoolDispatcher(base context.Context, proc Processor, size int, logger *slog.Logger) *PoolDispatcher {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &errgroup.Group{}
	g.SetLimit(size)
	return &PoolDispatcher{
		proc: proc,
		base: base,
		log:  logger.With("component", "dispatcher"),
		g:    g,
	}
}

func (d *PoolDispatcher) Dispatch(_ context.Context, env Envelope) error {
	if d.base.Err() != nil {
		return fmt.Errorf("exchange: dispatcher stopped: %w", d.base.Err())
	}
	ok := d.g.TryGo(func() error {
		d.run(env)
		return nil
	})
	if !ok {
		return ErrSaturated
	}
	return nil
}

func (d *PoolDispatcher) run(env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("exchange worker panicked", "kind", env.Kind, "panic", r)
		}
	}()
	if err := d.proc.Process(d.base, env); err != nil {
		d.log.Error("exchange failed", "kind", env.Kind, "error", err)
	}
}

// Wait blocks until every dispatched envelope has finished.
func (d *PoolDispatcher) Wait() {
	_ = d.g.Wait()
}

// SQSDispatcher queues envelopes for the worker binary.
type SQSDispatcher struct {
	pub *aws.Publisher
}

func NewSQSDispatcher(pub *aws.Publisher) *SQSDispatcher {
	return &SQSDispatcher{pub: pub}
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("exchange: encode envelope: %w", err)
	}
	if err := d.pub.Publish(ctx, string(body), map[string]string{
		"kind": env.Kind,
		"role": string(env.Role),
	}); err != nil {
		return fmt.Errorf("exchange: queue %s: %w", env.Kind, err)
	}
	return nil
}
