package errors

import "fmt"

// ReservationReason narrows a RESERVATION_ERROR.
type ReservationReason string

const (
	ReservationNotFound        ReservationReason = "not_found"
	ReservationAlreadyConsumed ReservationReason = "already_consumed"
	ReservationExpired         ReservationReason = "expired"
)

type InsufficientStockDetails struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
	Requested int   `json:"requested"`
}

type ProductNotFoundDetails struct {
	ProductID int64 `json:"product_id"`
}

type ReservationErrorDetails struct {
	ReservationID int64             `json:"reservation_id"`
	Reason        ReservationReason `json:"reason"`
}

type InvalidTransitionDetails struct {
	CurrentStatus string   `json:"current_status"`
	NewStatus     string   `json:"new_status"`
	Allowed       []string `json:"allowed"`
}

type CancellationDetails struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

func NewInsufficientStock(productID int64, available, requested int) *Error {
	return New(CodeInsufficientStock, fmt.Sprintf("product %d has %d available, %d requested", productID, available, requested)).
		WithDetails(InsufficientStockDetails{ProductID: productID, Available: available, Requested: requested})
}

func NewProductNotFound(productID int64) *Error {
	return New(CodeProductNotFound, fmt.Sprintf("product %d not found", productID)).
		WithDetails(ProductNotFoundDetails{ProductID: productID})
}

func NewReservationError(reservationID int64, reason ReservationReason) *Error {
	return New(CodeReservation, fmt.Sprintf("reservation %d: %s", reservationID, reason)).
		WithDetails(ReservationErrorDetails{ReservationID: reservationID, Reason: reason})
}

func NewInvalidTransition(current, next string, allowed []string) *Error {
	if allowed == nil {
		allowed = []string{}
	}
	return New(CodeInvalidStatusTransition, fmt.Sprintf("cannot transition from %s to %s", current, next)).
		WithDetails(InvalidTransitionDetails{CurrentStatus: current, NewStatus: next, Allowed: allowed})
}

func NewCancellationError(orderID int64, reason string) *Error {
	return New(CodeOrderCancellation, fmt.Sprintf("order %d cannot be canceled: %s", orderID, reason)).
		WithDetails(CancellationDetails{OrderID: orderID, Reason: reason})
}

// NewInvalidOrderData reports bad quantities or missing references.
func NewInvalidOrderData(message string, details map[string]any) *Error {
	err := New(CodeValidation, message)
	if len(details) > 0 {
		err = err.WithDetails(details)
	}
	return err
}

// ReservationReasonOf extracts the reason from a RESERVATION_ERROR, if err is one.
func ReservationReasonOf(err error) (ReservationReason, bool) {
	typed := As(err)
	if typed == nil || typed.Code() != CodeReservation {
		return "", false
	}
	details, ok := typed.Details().(ReservationErrorDetails)
	if !ok {
		return "", false
	}
	return details.Reason, true
}
