package edc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
	"github.com/imrishuroy/dataspace-exchange/internal/metrics"
	"github.com/imrishuroy/dataspace-exchange/internal/poll"
	"github.com/imrishuroy/dataspace-exchange/internal/tokenstore"
)

// MetricNegotiationOutcome counts finished negotiations by API and outcome.
const MetricNegotiationOutcome = "NegotiationOutcome"

// Options tunes an Engine. Zero values fall back to the defaults.
type Options struct {
	FrameworkAgreement        string
	RequireFrameworkAgreement bool
	Poll                      poll.Policy
	Metrics                   metrics.Recorder
	Logger                    *slog.Logger
}

// Engine turns "I want to call API x of partner p" into an AuthorizationBundle.
// One Engine is shared by all workers; each Negotiate call blocks for up to
// three polling ceilings.
type Engine struct {
	cp               ControlPlane
	tokens           tokenstore.Store
	agreement        string
	requireAgreement bool
	poll             poll.Policy
	metrics          metrics.Recorder
	log              *slog.Logger
}

func NewEngine(cp ControlPlane, tokens tokenstore.Store, opts Options) *Engine {
	if opts.Poll.Attempts <= 0 {
		opts.Poll = poll.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		cp:               cp,
		tokens:           tokens,
		agreement:        opts.FrameworkAgreement,
		requireAgreement: opts.RequireFrameworkAgreement,
		poll:             opts.Poll,
		metrics:          opts.Metrics,
		log:              opts.Logger.With("component", "edc-engine"),
	}
}

// run carries the progress of one Negotiate call.
type run struct {
	partner   masterdata.Partner
	api       LogicalAPI
	stage     State
	lastState string
	log       *slog.Logger
}

func (r *run) enter(s State) {
	r.stage = s
	r.log.Debug("negotiation step", "stage", s)
}

func (r *run) fail(kind Kind, err error) *NegotiationError {
	ne := &NegotiationError{
		Kind:      kind,
		Partner:   r.partner.BPNL,
		API:       r.api.String(),
		Stage:     r.stage,
		LastState: r.lastState,
		Err:       err,
	}
	r.log.Error("negotiation failed",
		"kind", string(kind),
		"stage", r.stage,
		"last_remote_state", r.lastState,
		"error", err,
	)
	r.stage = StateFailed
	return ne
}

// Negotiate runs the full handshake for api against partner. Every failure is
// a *NegotiationError. Remote negotiations and transfers that time out are not
// cancelled.
func (e *Engine) Negotiate(ctx context.Context, partner masterdata.Partner, api LogicalAPI) (AuthorizationBundle, error) {
	r := &run{
		partner: partner,
		api:     api,
		log:     e.log.With("partner", partner.BPNL, "api", api.String()),
	}
	bundle, err := e.negotiate(ctx, r)
	outcome := string(StateDone)
	if err != nil {
		outcome = string(KindOf(err))
	}
	if mErr := e.metrics.Count(ctx, MetricNegotiationOutcome, map[string]string{"Api": api.String(), "Outcome": outcome}); mErr != nil {
		r.log.Warn("record negotiation metric", "error", mErr)
	}
	return bundle, err
}

func (e *Engine) negotiate(ctx context.Context, r *run) (AuthorizationBundle, error) {
	r.enter(StateCatalogLookup)
	entries, err := e.cp.RequestCatalog(ctx, r.partner)
	if err != nil {
		return AuthorizationBundle{}, r.fail(ErrCatalogUnreachable, err)
	}

	r.enter(StatePolicyMatch)
	offer, qualified, err := selectOffer(entries, r.api, e.agreement, e.requireAgreement)
	switch {
	case errors.Is(err, ErrPolicyMismatch):
		return AuthorizationBundle{}, r.fail(ErrPolicyMismatch, err)
	case errors.Is(err, ErrAssetNotFound):
		r.log.Warn("no catalog entry for api", "catalog_size", len(entries))
		return AuthorizationBundle{}, r.fail(ErrAssetNotFound, nil)
	case err != nil:
		return AuthorizationBundle{}, r.fail(ErrPolicyMismatch, err)
	}
	if qualified > 1 {
		r.log.Warn("several catalog entries qualify, using the first", "count", qualified, "asset_id", offer.AssetID)
	}

	r.enter(StateNegotiating)
	negotiationID, err := e.cp.StartNegotiation(ctx, r.partner, offer)
	if err != nil {
		return AuthorizationBundle{}, r.fail(ErrNegotiationFailed, err)
	}

	r.enter(StateNegotiated)
	var contractID string
	err = e.poll.Until(ctx, func(ctx context.Context) (bool, error) {
		st, err := e.cp.NegotiationState(ctx, negotiationID)
		if err != nil {
			return false, err
		}
		r.lastState = st.State
		if st.State == NegotiationFinalized {
			contractID = st.ContractAgreementID
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return AuthorizationBundle{}, r.fail(ErrNegotiationTimeout, err)
	}
	r.log.Info("contract agreed", "negotiation_id", negotiationID, "contract_id", contractID)

	r.enter(StateTransferRequested)
	r.lastState = ""
	transferID, err := e.cp.StartTransfer(ctx, r.partner, contractID, offer.AssetID)
	if err != nil {
		return AuthorizationBundle{}, r.fail(ErrTransferFailed, err)
	}
	err = e.poll.Until(ctx, func(ctx context.Context) (bool, error) {
		st, err := e.cp.TransferState(ctx, transferID)
		if err != nil {
			return false, err
		}
		r.lastState = st
		return st == TransferStarted, nil
	})
	if err != nil {
		return AuthorizationBundle{}, r.fail(ErrTransferTimeout, err)
	}

	r.enter(StateTransferStarted)
	r.enter(StateAwaitingToken)
	tok, err := tokenstore.AwaitAndConsume(ctx, e.tokens, transferID, e.poll)
	if err != nil {
		return AuthorizationBundle{}, r.fail(ErrTokenNotReceived, err)
	}

	r.enter(StateDone)
	r.log.Info("negotiation done", "transfer_id", transferID, "contract_id", contractID)
	return AuthorizationBundle{
		HeaderName:  tok.HeaderName,
		Token:       tok.Token,
		EndpointURL: tok.EndpointURL,
		ContractID:  contractID,
	}, nil
}
