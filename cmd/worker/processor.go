package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/dataspace-exchange/internal/edc"
	"github.com/imrishuroy/dataspace-exchange/internal/exchange"
	"github.com/imrishuroy/dataspace-exchange/internal/ledger"
	"github.com/imrishuroy/dataspace-exchange/internal/materials"
)

// Processor runs queued exchange envelopes.
type Processor struct {
	proc exchange.Processor
	log  *slog.Logger
}

// NewProcessor creates a worker processor around the orchestrator.
func NewProcessor(proc exchange.Processor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{proc: proc, log: logger.With("component", "worker")}
}

// Handle processes a batch. Only records whose failure may succeed on a
// second delivery are reported back to SQS; the rest already ended in the
// ledger and are acknowledged.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		log := p.log.With("sqs_message_id", rec.MessageId)
		if kind, ok := rec.MessageAttributes["kind"]; ok && kind.StringValue != nil {
			log = log.With("kind", *kind.StringValue)
		}

		var env exchange.Envelope
		if err := json.Unmarshal([]byte(rec.Body), &env); err != nil {
			log.Error("dropping undecodable message", "error", err)
			continue
		}
		err := p.proc.Process(ctx, env)
		switch {
		case err == nil:
			log.Info("exchange processed")
		case retryable(err):
			log.Error("exchange failed, will be redelivered", "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		default:
			log.Warn("exchange ended in error", "error", err)
		}
	}
	return resp, nil
}

// retryable is false for outcomes a redelivery cannot change.
func retryable(err error) bool {
	var ne *edc.NegotiationError
	switch {
	case errors.As(err, &ne),
		errors.Is(err, exchange.ErrMalformedMessage),
		errors.Is(err, exchange.ErrUnknownPartner),
		errors.Is(err, exchange.ErrInvalidDirection),
		errors.Is(err, exchange.ErrDeliveryFailed),
		errors.Is(err, materials.ErrMaterialUnresolved),
		errors.Is(err, ledger.ErrDuplicateMessageKey),
		errors.Is(err, ledger.ErrInvalidTransition):
		return false
	}
	return true
}
