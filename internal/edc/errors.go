package edc

import (
	"errors"
	"fmt"
)

// Kind classifies a failed negotiation. Kinds are themselves errors so callers
// can write errors.Is(err, edc.ErrPolicyMismatch).
type Kind string

func (k Kind) Error() string { return "edc: " + string(k) }

const (
	ErrCatalogUnreachable Kind = "CatalogUnreachable"
	ErrPolicyMismatch     Kind = "PolicyMismatch"
	ErrAssetNotFound      Kind = "AssetNotFound"
	ErrNegotiationFailed  Kind = "NegotiationFailed"
	ErrNegotiationTimeout Kind = "NegotiationTimeout"
	ErrTransferFailed     Kind = "TransferFailed"
	ErrTransferTimeout    Kind = "TransferTimeout"
	ErrTokenNotReceived   Kind = "TokenNotReceived"
)

// NegotiationError is returned by Engine.Negotiate for every failure.
type NegotiationError struct {
	Kind      Kind
	Partner   string
	API       string
	Stage     State
	LastState string // last remote state seen, if any
	Err       error
}

func (e *NegotiationError) Error() string {
	msg := fmt.Sprintf("%s: partner %s api %s at %s", e.Kind.Error(), e.Partner, e.API, e.Stage)
	if e.LastState != "" {
		msg += " (last remote state " + e.LastState + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NegotiationError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// KindOf extracts the kind of a negotiation failure, or "" if err is not one.
func KindOf(err error) Kind {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return ""
}

// StatusError is a non-2xx answer from the management API.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("edc: %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}
