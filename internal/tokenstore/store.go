// Package tokenstore correlates asynchronously delivered access tokens with the
// transfer that is waiting for them.
//
// A token arrives out-of-band through the delivery callback and is keyed by the
// transfer id. The negotiation that started the transfer polls for it, consumes
// it once, and moves on. Entries that nobody consumes expire after a TTL.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/imrishuroy/dataspace-exchange/internal/poll"
)

// DefaultTTL is how long an unconsumed token is kept.
const DefaultTTL = 5 * time.Minute

// ErrNotReceived is returned by AwaitAndConsume when no token arrived in time.
var ErrNotReceived = errors.New("tokenstore: token not received")

// PendingToken is a delivered access token waiting for its transfer.
type PendingToken struct {
	TransferID  string    `json:"transferId"`
	HeaderName  string    `json:"headerName"`
	Token       string    `json:"token"`
	EndpointURL string    `json:"endpointUrl"`
	InsertedAt  time.Time `json:"insertedAt"`
}

// Store is shared by every running negotiation and by the delivery callback.
// Get never blocks waiting for a key to appear.
type Store interface {
	Put(ctx context.Context, tok PendingToken) error
	Get(ctx context.Context, transferID string) (PendingToken, bool, error)
	Delete(ctx context.Context, transferID string) error
}

// AwaitAndConsume polls s for transferID following p. Once found, the entry is
// removed and returned. If the attempts run out, ErrNotReceived is returned and
// the store is left untouched: a late token simply expires.
func AwaitAndConsume(ctx context.Context, s Store, transferID string, p poll.Policy) (PendingToken, error) {
	var found PendingToken
	err := p.Until(ctx, func(ctx context.Context) (bool, error) {
		tok, ok, err := s.Get(ctx, transferID)
		if err != nil {
			return false, err
		}
		if ok {
			found = tok
		}
		return ok, nil
	})
	if err != nil {
		if errors.Is(err, poll.ErrExhausted) {
			return PendingToken{}, fmt.Errorf("%w: transfer %s: %w", ErrNotReceived, transferID, err)
		}
		return PendingToken{}, err
	}
	if err := s.Delete(ctx, transferID); err != nil {
		return PendingToken{}, fmt.Errorf("tokenstore: consume %s: %w", transferID, err)
	}
	return found, nil
}

// expiryFor returns when tok should be dropped: insertedAt+ttl, or the token's
// own exp claim if it is a JWT that expires earlier.
func expiryFor(tok PendingToken, ttl time.Duration) time.Time {
	deadline := tok.InsertedAt.Add(ttl)
	if exp, ok := tokenExpiry(tok.Token); ok && exp.Before(deadline) {
		return exp
	}
	return deadline
}

func tokenExpiry(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
