package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/dataspace-exchange/internal/edc"
	"github.com/imrishuroy/dataspace-exchange/internal/ledger"
	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
	"github.com/imrishuroy/dataspace-exchange/internal/materials"
	"github.com/imrishuroy/dataspace-exchange/internal/stock"
	"github.com/imrishuroy/dataspace-exchange/internal/validation"
)

// ExpectedDirection is the request direction an endpoint serving role accepts:
// a supplier is asked by its customers (INBOUND), a customer by its suppliers.
func ExpectedDirection(role materials.Role) ledger.Direction {
	return requestDirection(role).Opposite()
}

func ownStockKind(role materials.Role) stock.Kind {
	if role == materials.RoleSupplier {
		return stock.KindProduct
	}
	return stock.KindMaterial
}

// HandleRequest answers a partner's stock request received on the endpoint
// for role. A replayed message is ignored. Failures end the ledger entry in
// Error; they are returned for logging only.
func (o *Orchestrator) HandleRequest(ctx context.Context, req validation.RequestMessage, role materials.Role) (err error) {
	h := req.Header
	if err := validation.CheckHeader(h); err != nil {
		return err
	}
	log := o.log.With("flow", "request", "role", role, "partner", h.SenderBPN, "message_id", h.MessageID)

	// A directory outage is returned before anything is recorded, so a
	// redelivery finds no entry and runs again.
	partner, partnerErr := o.lookupPartner(ctx, h.SenderBPN)
	if partnerErr != nil && !errors.Is(partnerErr, ErrUnknownPartner) {
		return partnerErr
	}

	msg := ledger.Message{
		MessageID:    h.MessageID,
		SenderBPNL:   h.SenderBPN,
		ReceiverBPNL: h.ReceiverBPN,
		Context:      h.Context,
		Version:      h.Version,
		Direction:    ledger.Direction(h.Direction),
		State:        ledger.StateReceived,
		SentAt:       h.SentAt,
	}
	msg, created, err := o.recordInbound(ctx, log, msg)
	if err != nil || !created {
		return err
	}

	final := ledger.StateError
	defer func() {
		o.finish(ctx, log, "request", msg, final, err)
	}()

	if err = o.validate.Struct(h); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if h.ReceiverBPN != o.ownBPNL {
		return fmt.Errorf("%w: addressed to %s", ErrMalformedMessage, h.ReceiverBPN)
	}
	if partnerErr != nil {
		return partnerErr
	}
	if want := ExpectedDirection(role); msg.Direction != want {
		return fmt.Errorf("%w: got %s, this endpoint accepts %s", ErrInvalidDirection, msg.Direction, want)
	}

	items := o.collectStock(ctx, log, partner, role, msg.Direction, req.Content.Items)

	bundle, err := o.negotiator.Negotiate(ctx, partner, edc.ItemStockResponseAPI)
	if err != nil {
		return err
	}
	sentAt := o.nowFunc()
	resp := validation.ResponseMessage{
		Header: validation.MessageHeader{
			MessageID:        o.newID(),
			SenderBPN:        o.ownBPNL,
			ReceiverBPN:      partner.BPNL,
			Context:          validation.ResponseContext,
			Version:          validation.HeaderVersion,
			Direction:        string(msg.Direction),
			SentAt:           &sentAt,
			RelatedMessageID: msg.MessageID,
		},
		Content: validation.ResponseContent{Items: items},
	}
	if err = o.transport.Post(ctx, bundle, resp); err != nil {
		return err
	}
	final = ledger.StateCompleted
	log.Info("stock response sent", "items", len(items), "response_id", resp.Header.MessageID)
	return nil
}

// recordInbound creates the ledger entry for an arriving message. A message
// that fails validation is still recorded, in Error.
func (o *Orchestrator) recordInbound(ctx context.Context, log *slog.Logger, msg ledger.Message) (ledger.Message, bool, error) {
	stored, err := o.ledger.Create(ctx, msg)
	switch {
	case err == nil:
		return stored, true, nil
	case errors.Is(err, ledger.ErrDuplicateMessageKey):
		log.Warn("message already received, ignoring replay")
		return msg, false, nil
	case errors.Is(err, ledger.ErrInvalidMessage):
		msg.State = ledger.StateError
		msg.Note = err.Error()
		if _, cErr := o.ledger.Create(ctx, msg); cErr != nil {
			log.Error("could not record invalid message", "error", cErr)
		}
		log.Error("rejected invalid message", "error", err)
		return msg, false, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	default:
		return msg, false, fmt.Errorf("exchange: record inbound message: %w", err)
	}
}

// collectStock resolves every requested item and gathers our positive stock
// for it. Items that cannot be resolved are skipped.
func (o *Orchestrator) collectStock(ctx context.Context, log *slog.Logger, partner masterdata.Partner, role materials.Role, dir ledger.Direction, requested []validation.RequestItem) []validation.StockItem {
	kind := ownStockKind(role)
	out := make([]validation.StockItem, 0, len(requested))
	for _, item := range requested {
		if err := o.validate.Struct(item); err != nil {
			log.Error("skipping invalid item", "reference", item.Reference, "error", err)
			continue
		}
		if item.Direction != string(dir) {
			log.Error("skipping item with mismatching direction", "item_direction", item.Direction)
			continue
		}
		m, err := o.resolver.Resolve(ctx, item.Reference, partner, role)
		if err != nil {
			log.Error("skipping unresolved item", "reference", item.Reference, "error", err)
			continue
		}
		entries, err := o.own.ListOwn(ctx, m.OwnMaterialNumber, partner.BPNL, kind)
		if err != nil {
			log.Error("skipping item, stock lookup failed", "material", m.OwnMaterialNumber, "error", err)
			continue
		}

		ref := item.Reference
		if m.CrossCompanyID != "" {
			ref.GlobalAssetID = m.CrossCompanyID
		}
		if role == materials.RoleSupplier {
			ref.MaterialNumberSupplier = m.OwnMaterialNumber
		} else {
			ref.MaterialNumberCustomer = m.OwnMaterialNumber
		}

		rows := make([]validation.StockRow, 0, len(entries))
		for _, e := range stock.PositiveOnly(entries) {
			rows = append(rows, validation.StockRow{
				Quantity:      validation.Quantity{Value: e.Quantity, Unit: e.Unit},
				LocationBPNS:  e.LocationBPNS,
				LocationBPNA:  e.LocationBPNA,
				IsBlocked:     e.IsBlocked,
				LastUpdatedOn: e.LastUpdatedOn,
			})
		}
		out = append(out, validation.StockItem{Reference: ref, Direction: item.Direction, Stocks: rows})
	}
	return out
}

// HandleResponse stores a partner's answer to one of our requests. Each
// material's previously reported rows are replaced, not merged. A response
// to an unknown request is rejected before anything is written; once the
// request is found every rejection ends it in Error. Invalid items are
// skipped, the rest are stored.
func (o *Orchestrator) HandleResponse(ctx context.Context, resp validation.ResponseMessage) (err error) {
	h := resp.Header
	if err := validation.CheckHeader(h); err != nil {
		return err
	}
	log := o.log.With("flow", "response", "partner", h.SenderBPN, "message_id", h.MessageID,
		"related_message_id", h.RelatedMessageID)

	if h.RelatedMessageID == "" {
		log.Error("rejected response without related message id")
		return fmt.Errorf("%w: response %s has no related message id", ErrMalformedMessage, h.MessageID)
	}
	partner, partnerErr := o.lookupPartner(ctx, h.SenderBPN)
	if partnerErr != nil && !errors.Is(partnerErr, ErrUnknownPartner) {
		return partnerErr
	}

	original, found, err := o.ledger.Find(ctx, ledger.Key{
		MessageID:    h.RelatedMessageID,
		SenderBPNL:   o.ownBPNL,
		ReceiverBPNL: h.SenderBPN,
	})
	if err != nil {
		return fmt.Errorf("exchange: find original request: %w", err)
	}
	if !found {
		log.Error("response refers to an unknown request")
		return fmt.Errorf("%w: no request %s sent to %s: %w", ErrMalformedMessage, h.RelatedMessageID, h.SenderBPN, ledger.ErrMessageNotFound)
	}

	final := ledger.StateError
	defer func() {
		o.finish(ctx, log, "response", original, final, err)
	}()

	if err = o.validate.Struct(h); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if h.ReceiverBPN != o.ownBPNL {
		return fmt.Errorf("%w: addressed to %s", ErrMalformedMessage, h.ReceiverBPN)
	}
	if partnerErr != nil {
		return partnerErr
	}
	if ledger.Direction(h.Direction) != original.Direction {
		return fmt.Errorf("%w: response is %s, request was %s", ErrInvalidDirection, h.Direction, original.Direction)
	}

	// We asked as customer for INBOUND requests and as supplier otherwise.
	role := materials.RoleSupplier
	if original.Direction == ledger.DirectionInbound {
		role = materials.RoleCustomer
	}
	kind := stock.KindProduct
	if role == materials.RoleSupplier {
		kind = stock.KindMaterial
	}

	var failed []error
	stored := 0
	for _, item := range resp.Content.Items {
		if vErr := o.validate.Struct(item); vErr != nil {
			log.Error("skipping invalid item", "reference", item.Reference, "error", vErr)
			continue
		}
		m, rErr := o.resolver.Resolve(ctx, item.Reference, partner, role)
		if rErr != nil {
			log.Error("skipping unresolved item", "reference", item.Reference, "error", rErr)
			continue
		}
		entries := make([]stock.Entry, 0, len(item.Stocks))
		for _, row := range item.Stocks {
			entries = append(entries, stock.Entry{
				Row: stock.Row{
					Quantity:      row.Quantity.Value,
					Unit:          row.Quantity.Unit,
					LocationBPNS:  row.LocationBPNS,
					LocationBPNA:  row.LocationBPNA,
					IsBlocked:     row.IsBlocked,
					LastUpdatedOn: row.LastUpdatedOn,
				},
				MaterialNumber: m.OwnMaterialNumber,
				PartnerBPNL:    partner.BPNL,
				Kind:           kind,
			})
		}
		if sErr := o.reported.ReplaceReported(ctx, partner.BPNL, m.OwnMaterialNumber, entries); sErr != nil {
			log.Error("storing reported stock failed", "material", m.OwnMaterialNumber, "error", sErr)
			failed = append(failed, sErr)
			continue
		}
		stored++
		log.Debug("reported stock replaced", "material", m.OwnMaterialNumber, "rows", len(entries))
	}
	if len(failed) > 0 {
		return fmt.Errorf("exchange: %d items not stored: %w", len(failed), errors.Join(failed...))
	}
	final = ledger.StateCompleted
	log.Info("stock response stored", "items", len(resp.Content.Items), "stored", stored)
	return nil
}
