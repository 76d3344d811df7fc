package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Receipt is the SMS provider's synchronous answer to a send.
type Receipt struct {
	Accepted          bool   `json:"accepted"`
	ProviderMessageID string `json:"message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Transport sends one SMS message. Synchronous from the engine's
// perspective even if the provider is asynchronous internally.
type Transport interface {
	Send(ctx context.Context, msisdn, message string) (Receipt, error)
}

// HTTPGateway is the JSON-over-HTTP SMS gateway client.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
}

// GatewayOption configures the gateway client.
type GatewayOption func(*HTTPGateway)

// WithGatewayTimeout sets the per-request timeout.
func WithGatewayTimeout(timeout time.Duration) GatewayOption {
	return func(g *HTTPGateway) {
		if timeout > 0 {
			g.client.Timeout = timeout
		}
	}
}

// NewHTTPGateway constructs an SMS gateway client.
func NewHTTPGateway(baseURL, token string, opts ...GatewayOption) (*HTTPGateway, error) {
	if baseURL == "" {
		return nil, errors.New("smsgw: empty base url")
	}
	gateway := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(gateway)
	}
	return gateway, nil
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Send posts one message to the gateway. A transport-level failure
// returns an error (retryable); a rejection comes back in the receipt.
func (g *HTTPGateway) Send(ctx context.Context, msisdn, message string) (Receipt, error) {
	if g == nil || g.client == nil {
		return Receipt{}, errors.New("smsgw: nil gateway")
	}
	body, err := json.Marshal(sendRequest{To: msisdn, Message: message})
	if err != nil {
		return Receipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("smsgw: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Receipt{}, fmt.Errorf("smsgw: gateway status %d", resp.StatusCode)
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, fmt.Errorf("smsgw: decode receipt: %w", err)
	}
	if resp.StatusCode >= 400 && receipt.Error == "" {
		receipt.Accepted = false
		receipt.Error = fmt.Sprintf("gateway status %d", resp.StatusCode)
	}
	return receipt, nil
}
