package validation

import (
	"errors"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/dataspace-exchange/internal/masterdata"
)

// ErrMalformedMessage is returned by CheckHeader when a message cannot be
// attributed: no id or no sender.
var ErrMalformedMessage = errors.New("validation: malformed message")

// New returns a validator with the custom tags and struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("bpnl", func(fl validatorv10.FieldLevel) bool {
		return masterdata.BPNLPattern.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(responseStructValidation, ResponseMessage{})

	return v
}

// responseStructValidation requires a response to point back to its request.
func responseStructValidation(sl validatorv10.StructLevel) {
	resp := sl.Current().Interface().(ResponseMessage)
	if resp.Header.RelatedMessageID == "" {
		sl.ReportError(resp.Header.RelatedMessageID, "relatedMessageId", "RelatedMessageID", "required", "")
	}
}

// CheckHeader is the minimum a message must satisfy to be accepted at all.
// Everything else is checked when the message is processed, so that a
// failure can be recorded against the message.
func CheckHeader(h MessageHeader) error {
	if h.MessageID == "" || h.SenderBPN == "" {
		return ErrMalformedMessage
	}
	return nil
}
