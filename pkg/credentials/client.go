package credentials

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

	"github.com/angelmondragon/vcledger/pkg/config"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
)

const (
	defaultTimeout              = 10 * time.Second
	defaultFormat               = "anoncreds"
	responseBodyReadLimit int64 = 1024
)

var errBaseURLRequired = errors.New("credential issuer base url is required")

// Kind names the credential issued at each settlement step.
type Kind string

const (
	KindQuote   Kind = "Quote"
	KindInvoice Kind = "Invoice"
	KindReceipt Kind = "Receipt"
)

// Client issues credential offers through the external issuer service.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	format      string
	definitions map[Kind]string
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

// NewClient builds the issuer client from configuration.
func NewClient(cfg config.CredentialsConfig, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	format := strings.TrimSpace(cfg.Format)
	if format == "" {
		format = defaultFormat
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		format:     format,
		definitions: map[Kind]string{
			KindQuote:   cfg.QuoteDefinitionID,
			KindInvoice: cfg.InvoiceDefinitionID,
			KindReceipt: cfg.ReceiptDefinitionID,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Offer is the issuer's response to an offer request.
type Offer struct {
	ID       string `json:"id"`
	OfferURL string `json:"offerUrl"`
	OfferURI string `json:"offerUri"`
}

type offerRequest struct {
	CredentialDefinitionID string            `json:"credentialDefinitionId"`
	Format                 string            `json:"format"`
	Type                   Kind              `json:"type"`
	Claims                 map[string]string `json:"claims"`
}

// Enabled reports whether a definition is configured for the kind.
func (c *Client) Enabled(kind Kind) bool {
	if c == nil {
		return false
	}
	return strings.TrimSpace(c.definitions[kind]) != ""
}

// CreateOffer asks the issuer to prepare a credential carrying the claims.
func (c *Client) CreateOffer(ctx context.Context, kind Kind, claims map[string]string) (*Offer, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "credential issuer not configured")
	}
	definitionID := strings.TrimSpace(c.definitions[kind])
	if definitionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("no credential definition for %s", kind))
	}
	if len(claims) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credential claims are required")
	}

	payload, err := json.Marshal(offerRequest{
		CredentialDefinitionID: definitionID,
		Format:                 c.format,
		Type:                   kind,
		Claims:                 claims,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal credential offer")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/credential-offers", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build credential offer request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute credential offer request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "credential offer request failed")
	}

	var offer Offer
	if err := json.NewDecoder(resp.Body).Decode(&offer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode credential offer response")
	}
	if offer.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "credential offer response missing id")
	}
	return &offer, nil
}
