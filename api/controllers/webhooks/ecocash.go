package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/vcledger/api/responses"
	"github.com/angelmondragon/vcledger/internal/payments"
	"github.com/angelmondragon/vcledger/pkg/ecocash"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const maxWebhookBytes = 64 << 10

// Reconciler applies a decoded gateway callback.
type Reconciler interface {
	HandleWebhook(ctx context.Context, payload payments.WebhookPayload) (*payments.Result, error)
}

type SignatureVerifier interface {
	SigningEnabled() bool
	VerifySignature(payload []byte, signature string) error
}

// EcocashWebhook accepts gateway payment callbacks. Replays, unknown
// references and late results answer 200 so the gateway stops retrying;
// only processing failures answer 5xx.
func EcocashWebhook(reconciler Reconciler, verifier SignatureVerifier, requireSignature bool, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if reconciler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook reconciler unavailable"))
			return
		}
		if requireSignature && (verifier == nil || !verifier.SigningEnabled()) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret not configured"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		if verifier != nil && verifier.SigningEnabled() {
			if err := verifier.VerifySignature(body, r.Header.Get(ecocash.SignatureHeader)); err != nil {
				code := pkgerrors.CodeUnauthorized
				if !errors.Is(err, ecocash.ErrSignatureMissing) && !errors.Is(err, ecocash.ErrSignatureMismatch) {
					code = pkgerrors.CodeInternal
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(code, err, "invalid webhook signature"))
				return
			}
		}

		var payload payments.WebhookPayload
		decoder := json.NewDecoder(bytes.NewReader(body))
		if err := decoder.Decode(&payload); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}

		result, err := reconciler.HandleWebhook(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
