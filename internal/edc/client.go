package edc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
)

const (
	defaultTimeout = 10 * time.Second
	apiKeyHeader   = "X-Api-Key"
	dspProtocol    = "dataspace-protocol-http"
	maxErrBody     = 512

	defaultFrameworkAgreement = "FrameworkAgreement"
)

// ControlPlane is the subset of the management API the engine drives.
type ControlPlane interface {
	RequestCatalog(ctx context.Context, partner masterdata.Partner) ([]CatalogEntry, error)
	StartNegotiation(ctx context.Context, partner masterdata.Partner, offer Offer) (string, error)
	NegotiationState(ctx context.Context, negotiationID string) (NegotiationStatus, error)
	StartTransfer(ctx context.Context, partner masterdata.Partner, contractID, assetID string) (string, error)
	TransferState(ctx context.Context, transferID string) (string, error)
}

// ManagementClient calls the own connector's management API over HTTP.
type ManagementClient struct {
	// FrameworkAgreement names the agreement the registered contract policy
	// requires to be active. Defaults to FrameworkAgreement.
	FrameworkAgreement string

	baseURL string
	apiKey  string
	client  *http.Client
}

// NewManagementClient builds a client for baseURL. A nil httpClient gets a
// default one with a 10s timeout.
func NewManagementClient(baseURL, apiKey string, httpClient *http.Client) *ManagementClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &ManagementClient{baseURL: baseURL, apiKey: apiKey, client: httpClient}
}

var edcContext = map[string]any{
	"@vocab":    namespaces["edc"],
	"odrl":      namespaces["odrl"],
	"dct":       namespaces["dct"],
	"dcat":      namespaces["dcat"],
	"cx-taxo":   namespaces["cx-taxo"],
	"cx-common": namespaces["cx-common"],
	"cx-policy": namespaces["cx-policy"],
}

type idResponse struct {
	ID string `json:"@id"`
}

// RequestCatalog asks the partner's connector for its whole catalog. Filtering
// happens locally.
func (c *ManagementClient) RequestCatalog(ctx context.Context, partner masterdata.Partner) ([]CatalogEntry, error) {
	body := map[string]any{
		"@context":            edcContext,
		"@type":               "CatalogRequest",
		"counterPartyAddress": partner.DSPURL,
		"counterPartyId":      partner.BPNL,
		"protocol":            dspProtocol,
		"querySpec": map[string]any{
			"offset": 0,
			"limit":  1000,
		},
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v3/catalog/request", body, &raw); err != nil {
		return nil, err
	}
	return parseCatalog(raw)
}

// StartNegotiation submits a contract request for offer and returns the negotiation id.
func (c *ManagementClient) StartNegotiation(ctx context.Context, partner masterdata.Partner, offer Offer) (string, error) {
	policy := make(map[string]any, len(offer.Policy)+2)
	for k, v := range offer.Policy {
		policy[k] = v
	}
	policy["odrl:assigner"] = map[string]any{"@id": partner.BPNL}
	policy["odrl:target"] = map[string]any{"@id": offer.AssetID}

	body := map[string]any{
		"@context":            edcContext,
		"@type":               "ContractRequest",
		"counterPartyAddress": partner.DSPURL,
		"protocol":            dspProtocol,
		"policy":              policy,
	}
	var resp idResponse
	if err := c.do(ctx, http.MethodPost, "/v3/contractnegotiations", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("edc: negotiation response carried no id")
	}
	return resp.ID, nil
}

// NegotiationState fetches the current state of a negotiation.
func (c *ManagementClient) NegotiationState(ctx context.Context, negotiationID string) (NegotiationStatus, error) {
	var st NegotiationStatus
	err := c.do(ctx, http.MethodGet, "/v3/contractnegotiations/"+url.PathEscape(negotiationID), nil, &st)
	return st, err
}

// StartTransfer requests a pull transfer under contractID and returns the transfer id.
func (c *ManagementClient) StartTransfer(ctx context.Context, partner masterdata.Partner, contractID, assetID string) (string, error) {
	body := map[string]any{
		"@context":            edcContext,
		"@type":               "TransferRequest",
		"assetId":             assetID,
		"contractId":          contractID,
		"connectorId":         partner.BPNL,
		"counterPartyAddress": partner.DSPURL,
		"protocol":            dspProtocol,
		"transferType":        "HttpData-PULL",
		"dataDestination":     map[string]any{"type": "HttpProxy"},
	}
	var resp idResponse
	if err := c.do(ctx, http.MethodPost, "/v3/transferprocesses", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("edc: transfer response carried no id")
	}
	return resp.ID, nil
}

// TransferState fetches the current state of a transfer process.
func (c *ManagementClient) TransferState(ctx context.Context, transferID string) (string, error) {
	var st struct {
		State string `json:"state"`
	}
	err := c.do(ctx, http.MethodGet, "/v3/transferprocesses/"+url.PathEscape(transferID), nil, &st)
	return st.State, err
}

// RegisterPartnerAssets creates the access policy, the shared framework
// contract policy and the contract definition that expose the exchange APIs
// to partner. Definitions that already exist are left untouched.
func (c *ManagementClient) RegisterPartnerAssets(ctx context.Context, partner masterdata.Partner) error {
	accessID := partner.BPNL + "-access-policy"
	access := policyDefinition(accessID, "BusinessPartnerNumber", partner.BPNL)
	if err := c.createIfAbsent(ctx, "/v3/policydefinitions", access); err != nil {
		return fmt.Errorf("register access policy for %s: %w", partner.BPNL, err)
	}

	contractPolicyID := frameworkPolicyID
	framework := policyDefinition(contractPolicyID, c.frameworkOperand(), FrameworkActive)
	if err := c.createIfAbsent(ctx, "/v3/policydefinitions", framework); err != nil {
		return fmt.Errorf("register contract policy for %s: %w", partner.BPNL, err)
	}

	contract := map[string]any{
		"@context":         edcContext,
		"@id":              partner.BPNL + "-exchange-contract",
		"accessPolicyId":   accessID,
		"contractPolicyId": contractPolicyID,
		"assetsSelector": []any{map[string]any{
			"operandLeft":  "'" + namespaces["dct"] + "type'.'@id'",
			"operator":     "=",
			"operandRight": expandIRI(ItemStockRequestAPI.Type),
		}},
	}
	if err := c.createIfAbsent(ctx, "/v3/contractdefinitions", contract); err != nil {
		return fmt.Errorf("register contract definition for %s: %w", partner.BPNL, err)
	}
	return nil
}

const frameworkPolicyID = "exchange-framework-policy"

// frameworkOperand is the left operand of the contract policy. A bare
// agreement name is placed in the cx-policy namespace.
func (c *ManagementClient) frameworkOperand() string {
	name := c.FrameworkAgreement
	if name == "" {
		name = defaultFrameworkAgreement
	}
	if strings.ContainsAny(name, ":/#") {
		return name
	}
	return "cx-policy:" + name
}

func policyDefinition(id, leftOperand, rightOperand string) map[string]any {
	return map[string]any{
		"@context": edcContext,
		"@id":      id,
		"policy": map[string]any{
			"@type": "odrl:Set",
			"odrl:permission": []any{map[string]any{
				"odrl:action": map[string]any{"@id": "odrl:use"},
				"odrl:constraint": map[string]any{
					"odrl:leftOperand":  map[string]any{"@id": leftOperand},
					"odrl:operator":     map[string]any{"@id": "odrl:eq"},
					"odrl:rightOperand": rightOperand,
				},
			}},
		},
	}
}

// APIEndpoint binds a logical API to the public URL partners reach it under.
type APIEndpoint struct {
	API LogicalAPI
	URL string
}

// AssetID is the asset id the API is registered under in the own connector.
func AssetID(api LogicalAPI) string {
	return localName(api.Type) + "-" + api.Purpose + "-" + api.Version
}

// RegisterAPIAssets creates one HttpData asset per endpoint, carrying the
// properties partners match in their catalog requests. Assets that already
// exist are left untouched.
func (c *ManagementClient) RegisterAPIAssets(ctx context.Context, endpoints []APIEndpoint) error {
	for _, ep := range endpoints {
		asset := map[string]any{
			"@context": edcContext,
			"@id":      AssetID(ep.API),
			"properties": map[string]any{
				"dct:type":             map[string]any{"@id": expandIRI(ep.API.Type)},
				"cx-common:apiPurpose": ep.API.Purpose,
				"cx-common:version":    ep.API.Version,
			},
			"dataAddress": map[string]any{
				"@type":            "DataAddress",
				"type":             "HttpData",
				"baseUrl":          ep.URL,
				"proxyMethod":      "true",
				"proxyBody":        "true",
				"proxyPath":        "false",
				"proxyQueryParams": "false",
			},
		}
		if err := c.createIfAbsent(ctx, "/v3/assets", asset); err != nil {
			return fmt.Errorf("register asset %s: %w", ep.API, err)
		}
	}
	return nil
}

func (c *ManagementClient) createIfAbsent(ctx context.Context, path string, body any) error {
	err := c.do(ctx, http.MethodPost, path, body, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		return nil
	}
	return err
}

func (c *ManagementClient) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("edc: encode %s: %w", path, err)
		}
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("edc: build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("edc: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("edc: decode %s %s: %w", method, path, err)
	}
	return nil
}
