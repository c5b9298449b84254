package credentials

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vcledger/pkg/config"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
)

func testConfig(baseURL string) config.CredentialsConfig {
	return config.CredentialsConfig{
		BaseURL:             baseURL,
		APIKey:              "issuer-key",
		Timeout:             time.Second,
		Format:              "anoncreds",
		InvoiceDefinitionID: "def-invoice",
		ReceiptDefinitionID: "def-receipt",
	}
}

func TestCreateOfferSendsDefinitionAndClaims(t *testing.T) {
	var captured offerRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/credential-offers", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"offer-1","offerUrl":"https://issuer/offers/1","offerUri":"didcomm://offer-1"}`))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL + "/"))
	require.NoError(t, err)

	offer, err := client.CreateOffer(context.Background(), KindInvoice, map[string]string{"invoiceHash": "abc"})
	require.NoError(t, err)
	require.Equal(t, "offer-1", offer.ID)
	require.Equal(t, "https://issuer/offers/1", offer.OfferURL)
	require.Equal(t, "Bearer issuer-key", auth)
	require.Equal(t, "def-invoice", captured.CredentialDefinitionID)
	require.Equal(t, KindInvoice, captured.Type)
	require.Equal(t, "anoncreds", captured.Format)
	require.Equal(t, "abc", captured.Claims["invoiceHash"])
}

func TestCreateOfferWrapsIssuerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = client.CreateOffer(context.Background(), KindReceipt, map[string]string{"receiptHash": "r"})
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
	require.True(t, strings.Contains(err.Error(), "credential offer request failed"))
}

func TestCreateOfferRequiresDefinition(t *testing.T) {
	client, err := NewClient(testConfig("http://issuer.test"))
	require.NoError(t, err)
	require.False(t, client.Enabled(KindQuote))
	require.True(t, client.Enabled(KindReceipt))

	_, err = client.CreateOffer(context.Background(), KindQuote, map[string]string{"quoteHash": "q"})
	require.Error(t, err)
}

func TestCreateOfferHonoursTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"id":"late"}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.CreateOffer(context.Background(), KindInvoice, map[string]string{"invoiceHash": "abc"})
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.CredentialsConfig{})
	require.Error(t, err)
}
