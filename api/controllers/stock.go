package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/stockledger/api/responses"
	"github.com/angelmondragon/stockledger/api/validators"
	"github.com/angelmondragon/stockledger/internal/inventory"
	"github.com/angelmondragon/stockledger/pkg/db/models"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/pagination"
)

// StockService is the slice of the stock manager the HTTP layer drives.
type StockService interface {
	Reserve(ctx context.Context, in inventory.ReserveInput) (*models.StockReservation, error)
	Release(ctx context.Context, reservationID int64, performedBy *string) error
	AvailableStock(ctx context.Context, productID int64) (int, error)
	Increment(ctx context.Context, in inventory.AdjustInput) (*models.StockLog, error)
	Decrement(ctx context.Context, in inventory.AdjustInput) (*models.StockLog, error)
}

// StockLogReader pages through a product's audit trail.
type StockLogReader interface {
	LogsPage(ctx context.Context, productID int64, params pagination.Params) (*inventory.LogPage, error)
}

type reserveRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	SessionID string  `json:"session_id" validate:"required"`
	UserID    *string `json:"user_id"`
}

func ReserveStock(stock StockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var body reserveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		reservation, err := stock.Reserve(ctx, inventory.ReserveInput{
			ProductID: body.ProductID,
			Quantity:  body.Quantity,
			SessionID: body.SessionID,
			UserID:    body.UserID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newReservationResponse(reservation))
	}
}

// ReleaseReservation returns a held quantity, e.g. on cart abandonment.
func ReleaseReservation(stock StockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseIDParam(r, "reservationId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := stock.Release(ctx, id, nil); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

func ProductAvailability(stock StockService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseIDParam(r, "productId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		available, err := stock.AvailableStock(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"product_id": id,
			"available":  available,
		})
	}
}

type adjustStockRequest struct {
	Quantity int    `json:"quantity" validate:"gt=0"`
	Reason   string `json:"reason" validate:"required,max=255"`
	OrderID  *int64 `json:"order_id" validate:"omitempty,gt=0"`
}

// AdminAdjustStock applies a direct physical change. The token subject is
// recorded as performed_by.
func AdminAdjustStock(stock StockService, increment bool, logg *logger.Logger, operator func(context.Context) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseIDParam(r, "productId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body adjustStockRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		in := inventory.AdjustInput{
			ProductID: id,
			Quantity:  body.Quantity,
			OrderID:   body.OrderID,
			Reason:    body.Reason,
		}
		if operator != nil {
			if who := operator(ctx); who != "" {
				in.PerformedBy = &who
			}
		}

		adjust := stock.Decrement
		if increment {
			adjust = stock.Increment
		}
		entry, err := adjust(ctx, in)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newStockLogResponse(entry))
	}
}

// AdminStockLogs lists a product's stock log newest first. Pass the returned
// next_cursor back as ?cursor= to continue.
func AdminStockLogs(logs StockLogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := validators.ParseIDParam(r, "productId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseLimitQuery(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := logs.LogsPage(ctx, id, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make([]stockLogResponse, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, newStockLogResponse(&page.Items[i]))
		}
		resp := map[string]any{"items": items}
		if page.NextCursor != "" {
			resp["next_cursor"] = page.NextCursor
		}
		responses.WriteSuccess(w, resp)
	}
}
