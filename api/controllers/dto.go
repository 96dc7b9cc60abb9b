package controllers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/stockledger/pkg/db/models"
)

type orderItemResponse struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type orderHistoryResponse struct {
	Kind          string         `json:"kind"`
	PreviousValue map[string]any `json:"previous_value,omitempty"`
	NewValue      map[string]any `json:"new_value,omitempty"`
	Note          string         `json:"note,omitempty"`
	CreatedBy     *string        `json:"created_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type orderResponse struct {
	ID                  int64                     `json:"id"`
	SessionID           string                    `json:"session_id"`
	UserID              *string                   `json:"user_id,omitempty"`
	Status              string                    `json:"status"`
	PaymentStatus       string                    `json:"payment_status"`
	PaymentID           string                    `json:"payment_id"`
	StatusUpdatedAt     time.Time                 `json:"status_updated_at"`
	StockReservationIDs []int64                   `json:"stock_reservation_ids"`
	Cancellation        *models.OrderCancellation `json:"cancellation,omitempty"`
	Total               decimal.Decimal           `json:"total"`
	Items               []orderItemResponse       `json:"items"`
	History             []orderHistoryResponse    `json:"history"`
	CreatedAt           time.Time                 `json:"created_at"`
}

func newOrderResponse(o *models.Order) orderResponse {
	resp := orderResponse{
		ID:                  o.ID,
		SessionID:           o.SessionID,
		UserID:              o.UserID,
		Status:              string(o.Status),
		PaymentStatus:       string(o.PaymentStatus),
		PaymentID:           o.PaymentID,
		StatusUpdatedAt:     o.StatusUpdatedAt,
		StockReservationIDs: o.Metadata.StockReservationIDs,
		Cancellation:        o.Metadata.Cancellation,
		Total:               decimal.Zero,
		Items:               make([]orderItemResponse, 0, len(o.Items)),
		History:             make([]orderHistoryResponse, 0, len(o.History)),
		CreatedAt:           o.CreatedAt,
	}
	if resp.StockReservationIDs == nil {
		resp.StockReservationIDs = []int64{}
	}
	for _, item := range o.Items {
		line := item.LineTotal()
		resp.Total = resp.Total.Add(line)
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			LineTotal: line,
		})
	}
	for _, h := range o.History {
		resp.History = append(resp.History, orderHistoryResponse{
			Kind:          string(h.Kind),
			PreviousValue: h.PreviousValue,
			NewValue:      h.NewValue,
			Note:          h.Note,
			CreatedBy:     h.CreatedBy,
			CreatedAt:     h.CreatedAt,
		})
	}
	return resp
}

type reservationResponse struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newReservationResponse(r *models.StockReservation) reservationResponse {
	return reservationResponse{
		ID:        r.ID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		SessionID: r.SessionID,
		ExpiresAt: r.ExpiresAt,
	}
}

type stockLogResponse struct {
	ID            int64     `json:"id"`
	ProductID     int64     `json:"product_id"`
	Operation     string    `json:"operation"`
	QuantityDelta int       `json:"quantity_delta"`
	StockBefore   int       `json:"stock_before"`
	StockAfter    int       `json:"stock_after"`
	OrderID       *int64    `json:"order_id,omitempty"`
	ReservationID *int64    `json:"reservation_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	PerformedBy   *string   `json:"performed_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func newStockLogResponse(l *models.StockLog) stockLogResponse {
	return stockLogResponse{
		ID:            l.ID,
		ProductID:     l.ProductID,
		Operation:     string(l.OperationType),
		QuantityDelta: l.QuantityDelta,
		StockBefore:   l.StockBefore,
		StockAfter:    l.StockAfter,
		OrderID:       l.OrderID,
		ReservationID: l.ReservationID,
		Reason:        l.Reason,
		PerformedBy:   l.PerformedBy,
		CreatedAt:     l.CreatedAt,
	}
}
