package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/imrishuroy/dataspace-exchange/internal/edc"
)

// Transport delivers a message to a partner API using a negotiated bundle.
type Transport interface {
	Post(ctx context.Context, bundle edc.AuthorizationBundle, body any) error
}

// HTTPTransport posts JSON to the bundle's endpoint with its auth header.
type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Post(ctx context.Context, bundle edc.AuthorizationBundle, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("exchange: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bundle.EndpointURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("exchange: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	header := bundle.HeaderName
	if header == "" {
		header = "Authorization"
	}
	req.Header.Set(header, bundle.Token)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: partner answered %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return nil
}
