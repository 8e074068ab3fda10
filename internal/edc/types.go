// Package edc talks to the connector's management API and runs the
// catalog -> negotiation -> transfer -> token handshake that yields the
// credentials for one call to a partner's exchange API.
package edc

import "fmt"

// LogicalAPI names one partner API: the taxonomy type of the asset, what it is
// for, and the version tag. Catalog entries are matched on all three exactly.
type LogicalAPI struct {
	Type    string
	Purpose string
	Version string
}

func (a LogicalAPI) String() string {
	return fmt.Sprintf("%s/%s@%s", compactIRI(a.Type), a.Purpose, a.Version)
}

var (
	// ItemStockRequestAPI receives stock requests.
	ItemStockRequestAPI = LogicalAPI{Type: "cx-taxo:ItemStockApi", Purpose: "request", Version: "2.0"}
	// ItemStockResponseAPI receives stock responses.
	ItemStockResponseAPI = LogicalAPI{Type: "cx-taxo:ItemStockApi", Purpose: "response", Version: "2.0"}
)

// State is a step of the negotiation handshake.
type State string

const (
	StateCatalogLookup     State = "CatalogLookup"
	StatePolicyMatch       State = "PolicyMatch"
	StateNegotiating       State = "Negotiating"
	StateNegotiated        State = "Negotiated"
	StateTransferRequested State = "TransferRequested"
	StateTransferStarted   State = "TransferStarted"
	StateAwaitingToken     State = "AwaitingToken"
	StateDone              State = "Done"
	StateFailed            State = "Failed"
)

// Remote terminal success states.
const (
	NegotiationFinalized = "FINALIZED"
	TransferStarted      = "STARTED"
)

// AuthorizationBundle is everything needed to call the partner API once.
type AuthorizationBundle struct {
	HeaderName  string
	Token       string
	EndpointURL string
	ContractID  string
}

// Offer is a catalog entry chosen for negotiation.
type Offer struct {
	AssetID string
	OfferID string
	Policy  map[string]any
}

// NegotiationStatus is one poll result for a contract negotiation.
type NegotiationStatus struct {
	State               string `json:"state"`
	ContractAgreementID string `json:"contractAgreementId"`
}
