package validation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/dataspace-exchange/internal/materials"
)

// Header values this service speaks.
const (
	RequestContext  = "RES-PURIS-ItemStockRequest:1.0"
	ResponseContext = "RES-PURIS-ItemStockResponse:1.0"
	HeaderVersion   = "urn:samm:io.catenax.message_header:2.0"
)

// MessageHeader is the header block shared by requests and responses.
type MessageHeader struct {
	MessageID        string     `json:"messageId" validate:"required"`
	SenderBPN        string     `json:"senderBpn" validate:"required,bpnl"`
	ReceiverBPN      string     `json:"receiverBpn" validate:"required,bpnl"`
	Context          string     `json:"context" validate:"required"`
	Version          string     `json:"version" validate:"required"`
	Direction        string     `json:"direction" validate:"required,oneof=INBOUND OUTBOUND"`
	SentAt           *time.Time `json:"sentAt" validate:"required"`
	RelatedMessageID string     `json:"relatedMessageId,omitempty"`
}

// RequestItem asks for the stock of one material.
type RequestItem struct {
	materials.Reference
	Direction string `json:"direction" validate:"required,oneof=INBOUND OUTBOUND"`
}

// RequestContent is the payload of a stock request.
type RequestContent struct {
	Items []RequestItem `json:"itemStock" validate:"dive"`
}

// RequestMessage is POSTed to a partner's request endpoint.
type RequestMessage struct {
	Header  MessageHeader  `json:"header"`
	Content RequestContent `json:"content"`
}

func init() {
	// Quantities are JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

// Quantity is an amount with its unit of measure.
type Quantity struct {
	Value decimal.Decimal `json:"value"`
	Unit  string          `json:"unit" validate:"required"`
}

// StockRow is one reported stock position.
type StockRow struct {
	Quantity      Quantity  `json:"quantityOnAllocatedStock"`
	LocationBPNS  string    `json:"stockLocationBPNS" validate:"required"`
	LocationBPNA  string    `json:"stockLocationBPNA" validate:"required"`
	IsBlocked     bool      `json:"isBlocked"`
	LastUpdatedOn time.Time `json:"lastUpdatedOnDateTime"`
}

// StockItem carries the stock of one material.
type StockItem struct {
	materials.Reference
	Direction string     `json:"direction" validate:"required,oneof=INBOUND OUTBOUND"`
	Stocks    []StockRow `json:"allocatedStocks" validate:"dive"`
}

// ResponseContent is the payload of a stock response.
type ResponseContent struct {
	Items []StockItem `json:"itemStock" validate:"dive"`
}

// ResponseMessage answers a RequestMessage.
type ResponseMessage struct {
	Header  MessageHeader   `json:"header"`
	Content ResponseContent `json:"content"`
}

// TriggerRequest is the body of POST /exchange/requests.
type TriggerRequest struct {
	PartnerBPNL string   `json:"partnerBpnl" validate:"required,bpnl"`
	Role        string   `json:"role" validate:"required,oneof=SUPPLIER CUSTOMER"`
	Materials   []string `json:"materials" validate:"required,min=1,dive,required"`
}

// EDRCallback is what the connector posts once a transfer is provisioned.
type EDRCallback struct {
	ID       string `json:"id" validate:"required"`
	AuthKey  string `json:"authKey"`
	AuthCode string `json:"authCode" validate:"required"`
	Endpoint string `json:"endpoint" validate:"required"`
}
