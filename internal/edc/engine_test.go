package edc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
	"github.com/imrishuroy/dataspace-exchange/internal/poll"
	"github.com/imrishuroy/dataspace-exchange/internal/tokenstore"
)

var partnerA = masterdata.Partner{BPNL: "BPNL1111111111AA", DSPURL: "http://partner-a/api/v1/dsp"}

func conformingPolicy(id, right string) map[string]any {
	return map[string]any{
		"@id": id,
		"odrl:permission": map[string]any{
			"odrl:action": map[string]any{"@id": "odrl:use"},
			"odrl:constraint": map[string]any{
				"odrl:leftOperand":  map[string]any{"@id": "cx-policy:FrameworkAgreement"},
				"odrl:operator":     map[string]any{"@id": "odrl:eq"},
				"odrl:rightOperand": right,
			},
		},
		"odrl:prohibition": []any{},
		"odrl:obligation":  []any{},
	}
}

func catalogEntry(id string, api LogicalAPI, right string) CatalogEntry {
	return CatalogEntry{AssetID: id, Raw: map[string]any{
		"@id":                  id,
		"dct:type":             map[string]any{"@id": api.Type},
		"cx-common:apiPurpose": api.Purpose,
		"cx-common:version":    api.Version,
		"odrl:hasPolicy":       conformingPolicy("offer-"+id, right),
	}}
}

type fakeControlPlane struct {
	mu sync.Mutex

	catalog    []CatalogEntry
	catalogErr error

	negotiationStates []string
	transferStates    []string

	negotiated []Offer
	transfers  []string
}

func (f *fakeControlPlane) RequestCatalog(ctx context.Context, p masterdata.Partner) ([]CatalogEntry, error) {
	return f.catalog, f.catalogErr
}

func (f *fakeControlPlane) StartNegotiation(ctx context.Context, p masterdata.Partner, offer Offer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.negotiated = append(f.negotiated, offer)
	return "neg-1", nil
}

// next pops the head of states, repeating the last one forever.
func next(states *[]string) string {
	if len(*states) == 0 {
		return ""
	}
	s := (*states)[0]
	if len(*states) > 1 {
		*states = (*states)[1:]
	}
	return s
}

func (f *fakeControlPlane) NegotiationState(ctx context.Context, id string) (NegotiationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := next(&f.negotiationStates)
	if st == NegotiationFinalized {
		return NegotiationStatus{State: st, ContractAgreementID: "contract-9"}, nil
	}
	return NegotiationStatus{State: st}, nil
}

func (f *fakeControlPlane) StartTransfer(ctx context.Context, p masterdata.Partner, contractID, assetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, contractID+"/"+assetID)
	return "tp-1", nil
}

func (f *fakeControlPlane) TransferState(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return next(&f.transferStates), nil
}

type countingMetrics struct {
	mu    sync.Mutex
	dims  []map[string]string
	names []string
}

func (m *countingMetrics) Count(ctx context.Context, name string, dims map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	m.dims = append(m.dims, dims)
	return nil
}

func newTestEngine(cp ControlPlane, tokens tokenstore.Store, m *countingMetrics) *Engine {
	return NewEngine(cp, tokens, Options{
		FrameworkAgreement:        "FrameworkAgreement",
		RequireFrameworkAgreement: true,
		Poll:                      poll.Policy{Interval: time.Millisecond, Attempts: 5, Sleep: poll.NoSleep},
		Metrics:                   m,
	})
}

func happyControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		catalog:           []CatalogEntry{catalogEntry("asset-req", ItemStockRequestAPI, "active")},
		negotiationStates: []string{"REQUESTED", "AGREED", "FINALIZED"},
		transferStates:    []string{"REQUESTED", "STARTED"},
	}
}

func TestNegotiate_HappyPath(t *testing.T) {
	cp := happyControlPlane()
	tokens := tokenstore.NewMemoryStore(time.Minute)
	require.NoError(t, tokens.Put(context.Background(), tokenstore.PendingToken{
		TransferID: "tp-1", HeaderName: "Authorization", Token: "tok-1", EndpointURL: "http://partner-a/public",
	}))
	m := &countingMetrics{}

	bundle, err := newTestEngine(cp, tokens, m).Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	require.NoError(t, err)

	assert.Equal(t, AuthorizationBundle{
		HeaderName: "Authorization", Token: "tok-1", EndpointURL: "http://partner-a/public", ContractID: "contract-9",
	}, bundle)
	require.Len(t, cp.negotiated, 1)
	assert.Equal(t, "asset-req", cp.negotiated[0].AssetID)
	assert.Equal(t, "offer-asset-req", cp.negotiated[0].OfferID)
	assert.Equal(t, []string{"contract-9/asset-req"}, cp.transfers)

	_, ok, _ := tokens.Get(context.Background(), "tp-1")
	assert.False(t, ok, "token must be consumed")

	require.Len(t, m.dims, 1)
	assert.Equal(t, MetricNegotiationOutcome, m.names[0])
	assert.Equal(t, "Done", m.dims[0]["Outcome"])
}

func TestNegotiate_NoMatchingEntry(t *testing.T) {
	cp := happyControlPlane()
	cp.catalog = []CatalogEntry{
		catalogEntry("other-version", LogicalAPI{Type: ItemStockRequestAPI.Type, Purpose: "request", Version: "1.0"}, "active"),
		catalogEntry("other-purpose", ItemStockResponseAPI, "active"),
	}
	m := &countingMetrics{}

	_, err := newTestEngine(cp, tokenstore.NewMemoryStore(time.Minute), m).Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAssetNotFound))
	assert.Empty(t, cp.negotiated, "no negotiation may be started")
	assert.Equal(t, "AssetNotFound", m.dims[0]["Outcome"])
}

func TestNegotiate_InactiveAgreementFailsClosed(t *testing.T) {
	cp := happyControlPlane()
	cp.catalog = []CatalogEntry{catalogEntry("asset-req", ItemStockRequestAPI, "inactive")}

	_, err := newTestEngine(cp, tokenstore.NewMemoryStore(time.Minute), &countingMetrics{}).Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPolicyMismatch))
	assert.Empty(t, cp.negotiated)

	var ne *NegotiationError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, partnerA.BPNL, ne.Partner)
	assert.Equal(t, StatePolicyMatch, ne.Stage)
}

func TestNegotiate_OneBadOfferAbortsEvenWithAGoodOne(t *testing.T) {
	cp := happyControlPlane()
	cp.catalog = []CatalogEntry{
		catalogEntry("good", ItemStockRequestAPI, "active"),
		catalogEntry("bad", ItemStockRequestAPI, "inactive"),
	}

	_, err := newTestEngine(cp, tokenstore.NewMemoryStore(time.Minute), &countingMetrics{}).Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	assert.True(t, errors.Is(err, ErrPolicyMismatch))
	assert.Empty(t, cp.negotiated)
}

func TestNegotiate_AmbiguousPicksFirst(t *testing.T) {
	cp := happyControlPlane()
	cp.catalog = []CatalogEntry{
		catalogEntry("first", ItemStockRequestAPI, "active"),
		catalogEntry("second", ItemStockRequestAPI, "active"),
	}
	tokens := tokenstore.NewMemoryStore(time.Minute)
	require.NoError(t, tokens.Put(context.Background(), tokenstore.PendingToken{TransferID: "tp-1", Token: "x"}))

	_, err := newTestEngine(cp, tokens, &countingMetrics{}).Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	require.NoError(t, err)
	require.Len(t, cp.negotiated, 1)
	assert.Equal(t, "first", cp.negotiated[0].AssetID)
}

func TestNegotiate_CatalogUnreachable(t *testing.T) {
	cp := &fakeControlPlane{catalogErr: errors.New("connection refused")}

	_, err := newTestEngine(cp, tokenstore.NewMemoryStore(time.Minute), &countingMetrics{}).Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	assert.True(t, errors.Is(err, ErrCatalogUnreachable))
}

func TestNegotiate_NegotiationTimeoutKeepsLastState(t *testing.T) {
	cp := happyControlPlane()
	cp.negotiationStates = []string{"REQUESTED", "AGREED"}

	_, err := newTestEngine(cp, tokenstore.NewMemoryStore(time.Minute), &countingMetrics{}).Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	require.True(t, errors.Is(err, ErrNegotiationTimeout))

	var ne *NegotiationError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "AGREED", ne.LastState)
	assert.True(t, errors.Is(err, poll.ErrExhausted))
	assert.Empty(t, cp.transfers)
}

func TestNegotiate_TransferTimeout(t *testing.T) {
	cp := happyControlPlane()
	cp.transferStates = []string{"REQUESTED"}

	_, err := newTestEngine(cp, tokenstore.NewMemoryStore(time.Minute), &countingMetrics{}).Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	assert.True(t, errors.Is(err, ErrTransferTimeout))
}

func TestNegotiate_TokenNotReceived(t *testing.T) {
	cp := happyControlPlane()
	m := &countingMetrics{}

	_, err := newTestEngine(cp, tokenstore.NewMemoryStore(time.Minute), m).Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	require.True(t, errors.Is(err, ErrTokenNotReceived))
	assert.True(t, errors.Is(err, tokenstore.ErrNotReceived))
	assert.Equal(t, "TokenNotReceived", m.dims[0]["Outcome"])
}

func TestNegotiate_WithoutAgreementRequirement(t *testing.T) {
	cp := happyControlPlane()
	cp.catalog = []CatalogEntry{catalogEntry("asset-req", ItemStockRequestAPI, "inactive")}
	tokens := tokenstore.NewMemoryStore(time.Minute)
	require.NoError(t, tokens.Put(context.Background(), tokenstore.PendingToken{TransferID: "tp-1", Token: "x"}))

	e := NewEngine(cp, tokens, Options{Poll: poll.Policy{Attempts: 5, Sleep: poll.NoSleep}})
	_, err := e.Negotiate(context.Background(), partnerA, ItemStockRequestAPI)
	require.NoError(t, err)
}
