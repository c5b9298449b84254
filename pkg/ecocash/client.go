package ecocash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
)

const (
	defaultTimeout              = 10 * time.Second
	defaultReason               = "Purchase"
	responseBodyReadLimit int64 = 1024
)

var errBaseURLRequired = errors.New("ecocash base url is required")

// Client initiates mobile-money payments and verifies gateway callbacks.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
	reason        string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg config.EcocashConfig, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	reason := strings.TrimSpace(cfg.Reason)
	if reason == "" {
		reason = defaultReason
	}
	client := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(base, "/"),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		webhookSecret: cfg.WebhookSecret,
		reason:        reason,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// PaymentRequest asks the gateway to collect an invoice amount from a wallet.
type PaymentRequest struct {
	SourceReference string
	Amount          decimal.Decimal
	Currency        string
	Msisdn          string
	Reason          string
}

// PaymentResponse is the gateway acknowledgement of a payment request.
type PaymentResponse struct {
	PaymentRequestID string              `json:"paymentRequestId"`
	Status           enums.GatewayStatus `json:"status"`
}

type paymentWire struct {
	SourceReference string      `json:"sourceReference"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	Msisdn          string      `json:"msisdn,omitempty"`
	Reason          string      `json:"reason"`
}

// InitiatePayment submits the payment request. sourceReference doubles as the
// gateway idempotency key so a retried checkout never double charges.
func (c *Client) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ecocash client not configured")
	}
	if strings.TrimSpace(req.SourceReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source reference is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = c.reason
	}

	payload, err := json.Marshal(paymentWire{
		SourceReference: req.SourceReference,
		Amount:          json.Number(req.Amount.StringFixed(2)),
		Currency:        req.Currency,
		Msisdn:          req.Msisdn,
		Reason:          reason,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal payment request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build payment request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.SourceReference)
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute payment request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, cause, "payment request rejected by gateway")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "payment request failed")
	}

	var out PaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment response")
	}
	if out.PaymentRequestID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment response missing paymentRequestId")
	}
	if out.Status != "" && out.Status.IsFailure() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment request %s", strings.ToLower(out.Status.String())))
	}
	return &out, nil
}

// SigningEnabled reports whether inbound webhooks must carry a signature.
func (c *Client) SigningEnabled() bool {
	return c != nil && c.webhookSecret != ""
}

// VerifySignature checks the webhook signature header against the raw body.
func (c *Client) VerifySignature(payload []byte, signature string) error {
	if !c.SigningEnabled() {
		return nil
	}
	return VerifySignature(c.webhookSecret, payload, signature)
}
