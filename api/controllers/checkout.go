package controllers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockledger/api/responses"
	"github.com/angelmondragon/stockledger/api/validators"
	"github.com/angelmondragon/stockledger/internal/checkout"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

// OrderPlacer runs checkout.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, input checkout.PlaceOrderInput) (*models.Order, error)
}

type checkoutLine struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price"`
}

type checkoutRequest struct {
	SessionID string         `json:"session_id" validate:"required"`
	UserID    *string        `json:"user_id"`
	PaymentID string         `json:"payment_id" validate:"required"`
	Items     []checkoutLine `json:"items" validate:"required,min=1,dive"`
}

// Checkout reserves every line and creates a PENDING order in one step.
func Checkout(svc OrderPlacer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := checkout.PlaceOrderInput{
			SessionID: body.SessionID,
			UserID:    body.UserID,
			PaymentID: body.PaymentID,
			Items:     make([]checkout.PlaceOrderLine, 0, len(body.Items)),
		}
		for _, line := range body.Items {
			input.Items = append(input.Items, checkout.PlaceOrderLine{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Price:     line.Price,
			})
		}

		order, err := svc.PlaceOrder(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}
