package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/stockledger/api/responses"
	paymentwebhook "github.com/angelmondragon/stockledger/internal/webhooks/payments"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

// maxPayloadBytes bounds gateway callbacks.
const maxPayloadBytes = 1 << 20

type PaymentWebhookService interface {
	HandleEvent(ctx context.Context, event paymentwebhook.Event) error
}

type PaymentWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// PaymentWebhook verifies, de-duplicates and dispatches payment gateway
// callbacks. A failed handler clears the replay mark so the gateway retries.
func PaymentWebhook(svc PaymentWebhookService, secret string, guard PaymentWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		if len(payload) > maxPayloadBytes {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodePayloadTooLarge, "webhook body too large").
				WithDetails(map[string]any{"max_bytes": maxPayloadBytes}))
			return
		}

		if err := paymentwebhook.VerifySignature(secret, payload, r.Header.Get(paymentwebhook.SignatureHeader)); err != nil {
			code := pkgerrors.CodeUnauthorized
			if !errors.Is(err, paymentwebhook.ErrSignatureMissing) && !errors.Is(err, paymentwebhook.ErrSignatureInvalid) {
				code = pkgerrors.CodeInternal
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(code, err, "payment signature rejected"))
			return
		}

		event, err := paymentwebhook.Decode(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"event_id":   event.ID,
				"event_type": event.Type,
				"payment_id": event.PaymentID,
			})
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			if logg != nil {
				logg.Info(ctx, "payment event replay ignored")
			}
			responses.WriteSuccess(w, map[string]any{"received": true, "duplicate": true})
			return
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			if delErr := guard.Delete(ctx, event.ID); delErr != nil && logg != nil {
				logg.Error(ctx, "failed to clear payment event mark", delErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"received": true})
	}
}
