package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/stockledger/api/responses"
	"github.com/angelmondragon/stockledger/api/validators"
	"github.com/angelmondragon/stockledger/internal/orders"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

// OrderService is the slice of the order lifecycle exposed over HTTP.
type OrderService interface {
	Get(ctx context.Context, orderID int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status enums.OrderStatus, actor *string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID int64, input orders.CancelInput) (*models.Order, error)
}

func GetOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		order, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type cancelOrderRequest struct {
	Reason     string  `json:"reason" validate:"required,max=500"`
	CanceledBy *string `json:"canceled_by"`
}

func CancelOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.CancelOrder(ctx, id, orders.CancelInput{
			Reason:     strings.TrimSpace(body.Reason),
			CanceledBy: body.CanceledBy,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// AdminUpdateOrderStatus moves an order along the state machine on behalf
// of the authenticated operator.
func AdminUpdateOrderStatus(svc OrderService, logg *logger.Logger, operator func(context.Context) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body updateStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown order status").
				WithDetails(map[string]any{"status": body.Status}))
			return
		}

		var actor *string
		if operator != nil {
			if who := operator(ctx); who != "" {
				actor = &who
			}
		}
		order, err := svc.UpdateStatus(ctx, id, status, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}
