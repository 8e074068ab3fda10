// Package exchange runs stock request/response exchanges with partners: it
// sends requests, answers partner requests, and stores partner responses,
// recording every step in the message ledger.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/dataspace-exchange/internal/edc"
	"github.com/imrishuroy/dataspace-exchange/internal/ledger"
	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
	"github.com/imrishuroy/dataspace-exchange/internal/materials"
	"github.com/imrishuroy/dataspace-exchange/internal/metrics"
	"github.com/imrishuroy/dataspace-exchange/internal/stock"
	"github.com/imrishuroy/dataspace-exchange/internal/validation"
)

// MetricExchangeOutcome counts finished exchanges by flow and final state.
const MetricExchangeOutcome = "ExchangeOutcome"

// Negotiator obtains the credentials for one partner API call.
type Negotiator interface {
	Negotiate(ctx context.Context, partner masterdata.Partner, api edc.LogicalAPI) (edc.AuthorizationBundle, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	OwnBPNL    string
	Ledger     ledger.Ledger
	Partners   masterdata.PartnerDirectory
	Materials  masterdata.MaterialDirectory
	OwnStock   stock.OwnRepository
	Reported   stock.ReportedRepository
	Negotiator Negotiator
	Transport  Transport
	Metrics    metrics.Recorder
	Logger     *slog.Logger
}

// Orchestrator drives exchanges. It is safe for concurrent use; a given
// message is only ever handled by one goroutine.
type Orchestrator struct {
	ownBPNL    string
	ledger     ledger.Ledger
	partners   masterdata.PartnerDirectory
	materials  masterdata.MaterialDirectory
	resolver   *materials.Resolver
	own        stock.OwnRepository
	reported   stock.ReportedRepository
	negotiator Negotiator
	transport  Transport
	metrics    metrics.Recorder
	validate   *validatorv10.Validate
	log        *slog.Logger
	nowFunc    func() time.Time
	newID      func() string
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Transport == nil {
		d.Transport = NewHTTPTransport(nil)
	}
	return &Orchestrator{
		ownBPNL:    d.OwnBPNL,
		ledger:     d.Ledger,
		partners:   d.Partners,
		materials:  d.Materials,
		resolver:   materials.NewResolver(d.Materials, d.Logger),
		own:        d.OwnStock,
		reported:   d.Reported,
		negotiator: d.Negotiator,
		transport:  d.Transport,
		metrics:    d.Metrics,
		validate:   validation.New(),
		log:        d.Logger.With("component", "exchange"),
		nowFunc:    func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// lookupPartner wraps only a missing partner as ErrUnknownPartner. Any other
// directory failure may succeed on a later attempt.
func (o *Orchestrator) lookupPartner(ctx context.Context, bpnl string) (masterdata.Partner, error) {
	p, err := o.partners.FindPartnerByBPNL(ctx, bpnl)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, masterdata.ErrNotFound):
		return p, fmt.Errorf("%w: %s: %w", ErrUnknownPartner, bpnl, err)
	default:
		return p, fmt.Errorf("exchange: partner lookup %s: %w", bpnl, err)
	}
}

// OutboundRequest asks a partner for the stock of some of our materials.
type OutboundRequest struct {
	MessageID   string // optional; generated when empty
	PartnerBPNL string
	Role        materials.Role // our role towards the partner for these materials
	Materials   []string       // own material numbers
}

// requestDirection: as customer we ask about goods flowing in to us.
func requestDirection(role materials.Role) ledger.Direction {
	if role == materials.RoleCustomer {
		return ledger.DirectionInbound
	}
	return ledger.DirectionOutbound
}

// Outbound sends a stock request. The ledger entry starts in Working and
// always ends in Requested or Error, whatever happens in between.
func (o *Orchestrator) Outbound(ctx context.Context, req OutboundRequest) (msg ledger.Message, err error) {
	log := o.log.With("flow", "outbound", "partner", req.PartnerBPNL)

	partner, err := o.lookupPartner(ctx, req.PartnerBPNL)
	if err != nil {
		log.Error("outbound partner lookup failed", "error", err)
		return msg, err
	}

	dir := requestDirection(req.Role)
	items, numbers := o.requestItems(ctx, log, partner, req.Role, dir, req.Materials)
	if len(items) == 0 {
		return msg, fmt.Errorf("%w: none of %v is known for partner %s", materials.ErrMaterialUnresolved, req.Materials, partner.BPNL)
	}

	if req.MessageID == "" {
		req.MessageID = o.newID()
	}
	msg, err = o.ledger.Create(ctx, ledger.Message{
		MessageID:    req.MessageID,
		SenderBPNL:   o.ownBPNL,
		ReceiverBPNL: partner.BPNL,
		Context:      validation.RequestContext,
		Version:      validation.HeaderVersion,
		Direction:    dir,
		State:        ledger.StateWorking,
		Materials:    numbers,
	})
	if err != nil {
		return msg, fmt.Errorf("exchange: record outbound request: %w", err)
	}
	log = log.With("message_id", msg.MessageID)

	final := ledger.StateError
	defer func() {
		msg = o.finish(ctx, log, "outbound", msg, final, err)
	}()

	bundle, err := o.negotiator.Negotiate(ctx, partner, edc.ItemStockRequestAPI)
	if err != nil {
		return msg, err
	}

	sentAt := o.nowFunc()
	body := validation.RequestMessage{
		Header:  o.header(msg, &sentAt),
		Content: validation.RequestContent{Items: items},
	}
	if err = o.transport.Post(ctx, bundle, body); err != nil {
		return msg, err
	}
	msg.SentAt = &sentAt
	final = ledger.StateRequested
	log.Info("stock request sent", "items", len(items))
	return msg, nil
}

func (o *Orchestrator) requestItems(ctx context.Context, log *slog.Logger, partner masterdata.Partner, role materials.Role, dir ledger.Direction, numbers []string) ([]validation.RequestItem, []string) {
	var items []validation.RequestItem
	var kept []string
	for _, n := range numbers {
		m, err := o.materials.FindByOwnNumber(ctx, n)
		if err != nil {
			log.Error("skipping unknown material", "material", n, "error", err)
			continue
		}
		var partnerNumber string
		if rel, err := o.materials.FindRelation(ctx, n, partner.BPNL); err == nil {
			partnerNumber = rel.PartnerMaterialNumber
		} else {
			log.Warn("material has no relation with partner", "material", n, "error", err)
		}
		items = append(items, validation.RequestItem{
			Reference: materials.ReferenceFor(m, partnerNumber, role),
			Direction: string(dir),
		})
		kept = append(kept, n)
	}
	return items, kept
}

func (o *Orchestrator) header(msg ledger.Message, sentAt *time.Time) validation.MessageHeader {
	return validation.MessageHeader{
		MessageID:        msg.MessageID,
		SenderBPN:        msg.SenderBPNL,
		ReceiverBPN:      msg.ReceiverBPNL,
		Context:          msg.Context,
		Version:          msg.Version,
		Direction:        string(msg.Direction),
		SentAt:           sentAt,
		RelatedMessageID: msg.RelatedMessageID,
	}
}

// finish moves msg to state, logging instead of failing: by the time it runs
// the outcome of the exchange is decided. It ignores cancellation of ctx.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, flow string, msg ledger.Message, state ledger.State, cause error) ledger.Message {
	ctx = context.WithoutCancel(ctx)
	msg.State = state
	if cause != nil {
		msg.Note = cause.Error()
		attrs := []any{"error", cause}
		if k := edc.KindOf(cause); k != "" {
			attrs = append(attrs, "negotiation_kind", string(k))
		}
		log.Error("exchange ended in error", attrs...)
	}
	updated, err := o.ledger.Update(ctx, msg)
	if err != nil {
		log.Error("ledger update failed", "state", state, "error", err)
	} else {
		msg = updated
	}
	if mErr := o.metrics.Count(ctx, MetricExchangeOutcome, map[string]string{"Flow": flow, "Outcome": string(state)}); mErr != nil {
		log.Warn("record exchange metric", "error", mErr)
	}
	return msg
}
