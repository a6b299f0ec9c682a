package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Payment states reported by the processor for a transaction reference.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusPending   = "pending"
)

type InitializeRequest struct {
	Reference   string `json:"reference"`
	AmountMinor int64  `json:"amount"`
	Email       string `json:"email"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type VerifyResponse struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	AmountMinor int64  `json:"amount"`
}

// Gateway is the payment processor client. Initialize opens a checkout for a
// reservation's reference; Verify is the poll-side complement to webhooks.
type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error)
	Verify(ctx context.Context, reference string) (*VerifyResponse, error)
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type HTTPGateway struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, secret string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	if req.Reference == "" {
		return nil, errors.New("payment initialize: empty reference")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("payment initialize: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payment initialize: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.secret)
	httpReq.Header.Set("Content-Type", "application/json")

	var out InitializeResponse
	if err := g.do(httpReq, &out); err != nil {
		return nil, fmt.Errorf("payment initialize: %w", err)
	}
	return &out, nil
}

func (g *HTTPGateway) Verify(ctx context.Context, reference string) (*VerifyResponse, error) {
	if reference == "" {
		return nil, errors.New("payment verify: empty reference")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("payment verify: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.secret)

	var out VerifyResponse
	if err := g.do(httpReq, &out); err != nil {
		return nil, fmt.Errorf("payment verify: %w", err)
	}
	return &out, nil
}

func (g *HTTPGateway) do(req *http.Request, data any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(payload, 256))
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Status {
		return fmt.Errorf("processor rejected request: %s", envelope.Message)
	}
	if err := json.Unmarshal(envelope.Data, data); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
