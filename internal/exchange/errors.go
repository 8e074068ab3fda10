package exchange

import (
	"errors"

	"github.com/imrishuroy/dataspace-exchange/internal/validation"
)

var (
	ErrUnknownPartner   = errors.New("exchange: unknown partner")
	ErrInvalidDirection = errors.New("exchange: invalid direction")
	ErrMalformedMessage = validation.ErrMalformedMessage
	ErrSaturated        = errors.New("exchange: worker pool saturated")
	ErrDeliveryFailed   = errors.New("exchange: delivery failed")
)
