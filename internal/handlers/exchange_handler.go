package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/dataspace-exchange/internal/exchange"
	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
	"github.com/imrishuroy/dataspace-exchange/internal/materials"
	"github.com/imrishuroy/dataspace-exchange/internal/tokenstore"
	"github.com/imrishuroy/dataspace-exchange/internal/validation"
)

// HandlerConfig groups dependencies for the exchange routes.
type HandlerConfig struct {
	Dispatcher exchange.Dispatcher
	Tokens     tokenstore.Store
	// InboundRPS and InboundBurst bound how fast one sender may post
	// requests and responses. Zero disables the limit.
	InboundRPS   float64
	InboundBurst int
	Logger       *slog.Logger
}

// Paths the request and response assets point partners at.
const (
	RequestPath  = "/exchange/request"
	ResponsePath = "/exchange/response"
)

// RegisterExchangeRoutes registers the token callback, the inbound partner
// endpoints and the outbound trigger.
func RegisterExchangeRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "http")
	limits := newSenderLimits(cfg.InboundRPS, cfg.InboundBurst)

	// The connector calls back here once a transfer has a token.
	r.POST("/edr", func(c *gin.Context) {
		var req validation.EDRCallback
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			log.Warn("rejected token callback", "error", err)
			return
		}
		err := cfg.Tokens.Put(c.Request.Context(), tokenstore.PendingToken{
			TransferID:  req.ID,
			HeaderName:  req.AuthKey,
			Token:       req.AuthCode,
			EndpointURL: req.Endpoint,
		})
		if err != nil {
			log.Error("store token", "transfer_id", req.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token_store_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transfer_id": req.ID})
	})

	r.POST("/exchange/requests", func(c *gin.Context) {
		var req validation.TriggerRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		id := uuid.NewString()
		env, err := exchange.NewEnvelope(exchange.KindOutbound, "", exchange.OutboundRequest{
			MessageID:   id,
			PartnerBPNL: req.PartnerBPNL,
			Role:        materials.Role(req.Role),
			Materials:   req.Materials,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
			return
		}
		dispatch(c, log, cfg.Dispatcher, env, id)
	})

	r.POST(RequestPath, inboundRequest(cfg.Dispatcher, limits, log, ""))
	r.POST("/exchange/supplier/request", inboundRequest(cfg.Dispatcher, limits, log, materials.RoleSupplier))
	r.POST("/exchange/customer/request", inboundRequest(cfg.Dispatcher, limits, log, materials.RoleCustomer))

	r.POST(ResponsePath, func(c *gin.Context) {
		var msg validation.ResponseMessage
		if !bindInbound(c, &msg, &msg.Header, limits) {
			return
		}
		env, err := exchange.NewEnvelope(exchange.KindResponse, "", msg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
			return
		}
		dispatch(c, log, cfg.Dispatcher, env, msg.Header.MessageID)
	})
}

// inboundRequest hands a partner request to the dispatcher. An empty role
// is taken from the header: an INBOUND request comes from a customer, so the
// local side is the supplier.
func inboundRequest(d exchange.Dispatcher, limits *senderLimits, log *slog.Logger, role materials.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg validation.RequestMessage
		if !bindInbound(c, &msg, &msg.Header, limits) {
			return
		}
		role := role
		if role == "" {
			switch msg.Header.Direction {
			case "INBOUND":
				role = materials.RoleSupplier
			case "OUTBOUND":
				role = materials.RoleCustomer
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_direction", "msg": msg.Header.Direction})
				return
			}
		}
		env, err := exchange.NewEnvelope(exchange.KindRequest, role, msg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
			return
		}
		dispatch(c, log, d, env, msg.Header.MessageID)
	}
}

// bindInbound decodes a partner message and applies the checks that are
// answered synchronously. Everything else happens in the worker.
func bindInbound(c *gin.Context, out any, header *validation.MessageHeader, limits *senderLimits) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return false
	}
	if err := validation.CheckHeader(*header); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_header", "msg": err.Error()})
		return false
	}
	if !masterdata.BPNLPattern.MatchString(header.SenderBPN) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_header", "msg": "sender is not a BPNL"})
		return false
	}
	if !limits.allow(header.SenderBPN) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return false
	}
	return true
}

func dispatch(c *gin.Context, log *slog.Logger, d exchange.Dispatcher, env exchange.Envelope, messageID string) {
	err := d.Dispatch(c.Request.Context(), env)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"message_id": messageID})
	case errors.Is(err, exchange.ErrSaturated):
		log.Warn("dispatcher saturated", "kind", env.Kind, "message_id", messageID)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "busy", "message_id": messageID})
	default:
		log.Error("dispatch failed", "kind", env.Kind, "message_id", messageID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch_failed", "message_id": messageID})
	}
}

// maxTrackedSenders bounds the limiter map. Senders have already passed
// the BPNL check, so the map only grows with distinct well-formed numbers.
const maxTrackedSenders = 10000

// senderLimits keeps one token bucket per sender BPNL. A bucket that has
// refilled completely is indistinguishable from a new one and is dropped
// when the map is full.
type senderLimits struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	max      int
	now      func() time.Time
	limiters map[string]*rate.Limiter
}

func newSenderLimits(rps float64, burst int) *senderLimits {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &senderLimits{
		limit:    rate.Limit(rps),
		burst:    burst,
		max:      maxTrackedSenders,
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
	}
}

func (s *senderLimits) allow(sender string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	l, ok := s.limiters[sender]
	if !ok {
		if len(s.limiters) >= s.max {
			s.sweep(now)
		}
		if len(s.limiters) >= s.max {
			return false
		}
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[sender] = l
	}
	return l.AllowN(now, 1)
}

// sweep drops the buckets that are full at now. Callers hold mu.
func (s *senderLimits) sweep(now time.Time) {
	for sender, l := range s.limiters {
		if l.TokensAt(now) >= float64(s.burst) {
			delete(s.limiters, sender)
		}
	}
}
